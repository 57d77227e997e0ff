// Package crawl orchestrates tiled imports from the remote geodata
// service: it splits a region into tiles, fetches and extracts each
// tile, upserts the records, and persists per-tile state so runs can
// resume.
package crawl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/reservemap/reservemap/internal/extract"
	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/overpass"
	"github.com/reservemap/reservemap/internal/tiler"
)

// Fetcher executes one scoped query against the remote service.
type Fetcher interface {
	Fetch(ctx context.Context, q overpass.Query) (*overpass.Response, error)
}

// Store is the persistence surface the controller needs.
type Store interface {
	UpsertReserve(ctx context.Context, r model.Reserve) (created bool, err error)
	Tile(ctx context.Context, b geo.BBox) (model.GridTile, bool, error)
	PutTile(ctx context.Context, t model.GridTile) error
}

// Notifier publishes a cache-invalidation signal after an area's
// records changed.
type Notifier interface {
	AreaChanged(ctx context.Context, b geo.BBox) error
}

// Config carries one run's parameters. The CLI parses flags into it.
type Config struct {
	BBox    geo.BBox
	TileKM  float64
	Resume  bool
	MinAge  time.Duration
	Filters []overpass.TagFilter
	Timeout time.Duration
	Workers int
}

const defaultTileKM = 40.0

// Summary aggregates one run. Failed tiles are reported here, never
// raised as errors.
type Summary struct {
	Tiles        int `json:"tiles"`
	Processed    int `json:"processed"`
	Skipped      int `json:"skipped"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	RecordErrors int `json:"record_errors"`
}

type Options struct {
	Fetcher  Fetcher
	Store    Store
	Notifier Notifier
	Logger   zerolog.Logger
	Register prometheus.Registerer
}

// Controller runs tiled crawls. Safe for one Run at a time.
type Controller struct {
	fetch   Fetcher
	store   Store
	notify  Notifier
	log     zerolog.Logger
	metrics *metricSet

	now func() time.Time
}

func New(opts Options) *Controller {
	return &Controller{
		fetch:   opts.Fetcher,
		store:   opts.Store,
		notify:  opts.Notifier,
		log:     opts.Logger,
		metrics: newMetricSet(opts.Register),
		now:     time.Now,
	}
}

// Run crawls cfg.BBox tile by tile. A tile failure marks that tile and
// the run continues; the only error returned is the context's, after
// cancellation stopped the run at a tile boundary.
func (c *Controller) Run(ctx context.Context, cfg Config) (Summary, error) {
	if cfg.TileKM <= 0 {
		cfg.TileKM = defaultTileKM
	}

	tiles := []geo.BBox{cfg.BBox}
	if tiler.ShouldSplit(cfg.BBox, cfg.TileKM) {
		tiles = tiler.Split(cfg.BBox, cfg.TileKM)
	}
	c.log.Info().
		Int("tiles", len(tiles)).
		Float64("tile_km", cfg.TileKM).
		Str("bbox", cfg.BBox.String()).
		Msg("crawl starting")

	col := &collector{s: Summary{Tiles: len(tiles)}}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan job)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					continue
				}
				c.runTile(ctx, cfg, j, len(tiles), col)
			}
		}()
	}

feed:
	for i, b := range tiles {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- job{idx: i + 1, bbox: b}:
		}
	}
	close(jobs)
	wg.Wait()

	s := col.snapshot()
	c.log.Info().
		Int("processed", s.Processed).
		Int("skipped", s.Skipped).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("created", s.Created).
		Int("updated", s.Updated).
		Int("record_errors", s.RecordErrors).
		Msg("crawl finished")
	return s, ctx.Err()
}

type job struct {
	idx  int
	bbox geo.BBox
}

func (c *Controller) runTile(ctx context.Context, cfg Config, j job, total int, col *collector) {
	log := c.log.With().Int("tile", j.idx).Int("tiles", total).Str("bbox", j.bbox.String()).Logger()

	tile, _, err := c.store.Tile(ctx, j.bbox)
	if err != nil {
		log.Error().Err(err).Msg("tile state unavailable")
		col.failed()
		c.metrics.tiles.WithLabelValues("failed").Inc()
		return
	}

	if c.skip(cfg, tile) {
		log.Debug().
			Bool("success", tile.Success).
			Time("last_updated", tile.LastUpdated).
			Msg("tile skipped")
		col.skipped()
		c.metrics.tiles.WithLabelValues("skipped").Inc()
		return
	}

	resp, err := c.fetch.Fetch(ctx, overpass.Query{
		Timeout: cfg.Timeout,
		Filters: cfg.Filters,
		BBox:    &j.bbox,
	})
	if err != nil {
		// A cancelled tile is left untouched so the next run retries it.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		log.Warn().Err(err).Msg("tile fetch failed, continuing")
		c.saveTile(ctx, log, model.GridTile{
			BBox:         j.bbox,
			Success:      false,
			LastUpdated:  c.now(),
			ErrorMessage: err.Error(),
		})
		col.failed()
		c.metrics.tiles.WithLabelValues("failed").Inc()
		return
	}

	records, stats := extract.Records(resp)
	log.Info().Int("elements", stats.Elements).Int("kept", stats.Kept).Msg("tile fetched")

	var created, updated, recordErrors int
	for _, r := range records {
		if ctx.Err() != nil {
			return
		}
		isNew, err := c.store.UpsertReserve(ctx, r)
		if err != nil {
			log.Error().Err(err).Str("reserve", r.ID).Msg("record skipped")
			recordErrors++
			continue
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}
	c.metrics.records.WithLabelValues("created").Add(float64(created))
	c.metrics.records.WithLabelValues("updated").Add(float64(updated))
	c.metrics.recordErrors.Add(float64(recordErrors))

	c.saveTile(ctx, log, model.GridTile{
		BBox:        j.bbox,
		Success:     true,
		Created:     created,
		Updated:     updated,
		LastUpdated: c.now(),
	})
	col.succeeded(created, updated, recordErrors)
	c.metrics.tiles.WithLabelValues("succeeded").Inc()
	log.Info().Int("created", created).Int("updated", updated).Int("record_errors", recordErrors).Msg("tile done")

	if c.notify != nil && (created > 0 || updated > 0) {
		if err := c.notify.AreaChanged(ctx, j.bbox); err != nil {
			log.Warn().Err(err).Msg("invalidation publish failed")
		}
	}
}

// skip decides whether a tile keeps its previous state: resumed runs
// skip succeeded tiles, and a minimum age skips anything refreshed
// within the window. Tiles never processed have a zero LastUpdated and
// are always eligible.
func (c *Controller) skip(cfg Config, t model.GridTile) bool {
	if cfg.Resume && t.Success {
		return true
	}
	if cfg.MinAge > 0 && !t.LastUpdated.IsZero() && c.now().Sub(t.LastUpdated) < cfg.MinAge {
		return true
	}
	return false
}

func (c *Controller) saveTile(ctx context.Context, log zerolog.Logger, t model.GridTile) {
	if err := c.store.PutTile(ctx, t); err != nil {
		log.Error().Err(err).Msg("tile state not saved")
	}
}

type collector struct {
	mu sync.Mutex
	s  Summary
}

func (c *collector) skipped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Skipped++
}

func (c *collector) failed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Processed++
	c.s.Failed++
}

func (c *collector) succeeded(created, updated, recordErrors int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Processed++
	c.s.Succeeded++
	c.s.Created += created
	c.s.Updated += updated
	c.s.RecordErrors += recordErrors
}

func (c *collector) snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
