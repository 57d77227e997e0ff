package invalidate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
)

type ProducerConfig struct {
	Brokers []string
	Topic   string
	// Source stamps events whose caller left Source empty, so one
	// producer serves one ingestion pipeline.
	Source model.Source
}

// Producer publishes events synchronously: a tile is only reported
// changed once the broker acknowledged the event.
type Producer struct {
	sp     sarama.SyncProducer
	topic  string
	source model.Source
	log    zerolog.Logger
}

func NewProducer(cfg ProducerConfig, log zerolog.Logger) (*Producer, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Version = sarama.V3_6_0_0

	sp, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("sync producer: %w", err)
	}
	return &Producer{sp: sp, topic: cfg.Topic, source: cfg.Source, log: log}, nil
}

func (p *Producer) Close() error {
	if err := p.sp.Close(); err != nil {
		return fmt.Errorf("producer close: %w", err)
	}
	return nil
}

// Publish validates and sends one event. Version, TS, and Source are
// filled in when the caller left them zero.
func (p *Producer) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Version == 0 {
		ev.Version = EventVersion
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = p.source
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	partition, offset, err := p.sp.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	p.log.Debug().
		Str("op", ev.Op).
		Str("bbox", ev.BBox.String()).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("invalidation event published")
	return nil
}

// AreaChanged implements the ingestion notifier: one update event per
// changed area, a tile for the crawler or a whole archive for the
// bulk importer.
func (p *Producer) AreaChanged(ctx context.Context, b geo.BBox) error {
	return p.Publish(ctx, Event{Op: OpUpdate, BBox: &b})
}
