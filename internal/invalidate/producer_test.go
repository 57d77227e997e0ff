package invalidate

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
)

func newMockProducer(t *testing.T, source model.Source) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)
	return &Producer{sp: sp, topic: "reserve-updates", source: source, log: zerolog.Nop()}, sp
}

func TestAreaChangedPublishesValidEvent(t *testing.T) {
	b := geo.BBox{MinLon: 5.0, MinLat: 52.0, MaxLon: 5.36, MaxLat: 52.36}
	p, sp := newMockProducer(t, model.SourceOSM)

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if err := ev.Validate(); err != nil {
			return err
		}
		if ev.Op != OpUpdate {
			return fmt.Errorf("op = %q, want %q", ev.Op, OpUpdate)
		}
		if ev.Source != model.SourceOSM {
			return fmt.Errorf("source = %q, want %q", ev.Source, model.SourceOSM)
		}
		if *ev.BBox != b {
			return fmt.Errorf("bbox = %v, want %v", *ev.BBox, b)
		}
		if ev.TS.IsZero() {
			return fmt.Errorf("ts not stamped")
		}
		return nil
	})

	if err := p.AreaChanged(context.Background(), b); err != nil {
		t.Fatalf("AreaChanged: %v", err)
	}
	if err := sp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	b := geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 6, MaxLat: 53}
	p, sp := newMockProducer(t, model.SourceOSM)

	err := p.Publish(context.Background(), Event{Op: "zap", BBox: &b})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if err := sp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublishKeepsCallerSource(t *testing.T) {
	b := geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 6, MaxLat: 53}
	p, sp := newMockProducer(t, model.SourceOSM)

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Source != model.SourceWDPA {
			return fmt.Errorf("source = %q, want %q", ev.Source, model.SourceWDPA)
		}
		return nil
	})

	err := p.Publish(context.Background(), Event{Op: OpDelete, Source: model.SourceWDPA, BBox: &b})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
