package invalidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/reservemap/reservemap/internal/cells"
)

// Dropper removes cached candidate lists for cells. The query
// package's CellCache satisfies it.
type Dropper interface {
	Drop(ctx context.Context, res int, cellIDs []string) error
	DropAll(ctx context.Context, res int) (int64, error)
}

type RunnerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool

	// Resolution must match the query engine's candidate cell
	// resolution, or drops land on keys nobody reads.
	Resolution int
}

const defaultResolution = 8

// Events spanning more than this on either axis flush the whole
// resolution's keyspace instead. Bulk imports publish one event per
// archive, and polyfilling a country-sized bbox would enumerate
// millions of cells.
const wideEventSpanDeg = 2.0

type RunnerOptions struct {
	Logger   zerolog.Logger
	Register prometheus.Registerer
}

// Runner consumes invalidation events and drops the cached candidate
// list of every cell an event's bbox touches.
type Runner struct {
	log   zerolog.Logger
	cfg   RunnerConfig
	cache Dropper
	ms    *metricSet
	ver   *versionDedupe

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewRunner(cfg RunnerConfig, cache Dropper, opts RunnerOptions) *Runner {
	if cfg.Resolution <= 0 {
		cfg.Resolution = defaultResolution
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		cache:  cache,
		ms:     newMetricSet(opts.Register),
		ver:    newVersionDedupe(8192),
		assign: map[int32]struct{}{},
	}
}

// Start begins consuming in the background. A runner with no brokers
// configured is disabled and returns nil immediately.
func (r *Runner) Start(ctx context.Context) error {
	if len(r.cfg.Brokers) == 0 {
		r.log.Info().Msg("invalidation runner disabled: no brokers configured")
		return nil
	}
	if r.cache == nil {
		return errors.New("invalidate: cache dependency is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	if r.cfg.SessionTimeout > 0 {
		sc.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	}
	if r.cfg.Heartbeat > 0 {
		sc.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	}
	if r.cfg.RebalanceTimeout > 0 {
		sc.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	}
	if r.cfg.InitialOldest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, sc)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	h := r.newGroupHandler()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error().Err(err).Msg("consumer group close")
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error().Err(err).Msg("consume error")
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error().Err(err).Msg("consumer group error")
		}
	}()

	r.log.Info().
		Str("topic", r.cfg.Topic).
		Str("group", r.cfg.GroupID).
		Strs("brokers", r.cfg.Brokers).
		Msg("invalidation runner started")
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info().Msg("invalidation runner stopped")
}

// Readiness reports whether the runner holds a partition assignment.
func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (r *Runner) newGroupHandler() *groupHandler {
	return &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			claims := sess.Claims()
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range claims {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}
}

// handleMessage processes one record. Undecodable, invalid, and
// unmappable payloads are counted and dropped so a poison message
// cannot wedge its partition; only transient failures propagate and
// trigger redelivery.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	if !msg.Timestamp.IsZero() {
		r.ms.lag.Set(time.Since(msg.Timestamp).Seconds())
	}

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
		r.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("dropping undecodable invalidation event")
		return nil
	}
	if err := ev.Validate(); err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
		r.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("dropping invalid invalidation event")
		return nil
	}

	var cellIDs []string
	wide := ev.BBox.MaxLon-ev.BBox.MinLon > wideEventSpanDeg ||
		ev.BBox.MaxLat-ev.BBox.MinLat > wideEventSpanDeg
	if !wide {
		var err error
		cellIDs, err = cells.ForBBox(*ev.BBox, r.cfg.Resolution)
		if err != nil {
			r.ms.msgs.WithLabelValues("error").Inc()
			r.log.Warn().Err(err).Str("bbox", ev.BBox.String()).Msg("dropping unmappable invalidation event")
			return nil
		}
	}

	err := r.apply(ctx, ev, cellIDs, wide, msg.Timestamp)
	if err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
	} else {
		r.ms.msgs.WithLabelValues("ok").Inc()
	}
	r.ms.proc.WithLabelValues(ev.Op).Observe(time.Since(start).Seconds())
	return err
}

func (r *Runner) apply(ctx context.Context, ev Event, cellIDs []string, wide bool, brokerTS time.Time) error {
	ts := ev.TS
	if ts.IsZero() {
		ts = brokerTS
	}
	key := string(ev.Source) + ":" + ev.BBox.String()
	ver := uint64(ts.UnixNano())
	if !ts.IsZero() && r.ver.applied(key, ver) {
		r.ms.apply.WithLabelValues("skip_duplicate").Inc()
		return nil
	}

	switch {
	case wide:
		n, err := r.cache.DropAll(ctx, r.cfg.Resolution)
		if err != nil {
			return fmt.Errorf("flush resolution %d: %w", r.cfg.Resolution, err)
		}
		r.log.Info().Str("bbox", ev.BBox.String()).Int64("keys", n).Msg("wide invalidation flushed keyspace")
		r.ms.apply.WithLabelValues("flush").Add(float64(n))
	case len(cellIDs) == 0:
		return nil
	default:
		if err := r.cache.Drop(ctx, r.cfg.Resolution, cellIDs); err != nil {
			return fmt.Errorf("drop %d cells: %w", len(cellIDs), err)
		}
		r.ms.apply.WithLabelValues("delete").Add(float64(len(cellIDs)))
	}
	// Recorded only after the drop succeeded, so a redelivered event
	// retries instead of being skipped as already applied.
	r.ver.record(key, ver)
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
