// Package invalidate carries cache-invalidation events from the
// ingestion commands to the serving layer. Producers publish one event
// per changed area; the runner maps each event onto H3 cells and drops
// their cached candidate lists.
package invalidate

import (
	"errors"
	"fmt"
	"time"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
)

// EventVersion is the wire schema version this build reads and writes.
const EventVersion = 1

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event announces that records inside BBox changed.
type Event struct {
	Version  int          `json:"version"`
	Op       string       `json:"op"`
	Source   model.Source `json:"source,omitempty"`
	RecordID string       `json:"record_id,omitempty"`
	BBox     *geo.BBox    `json:"bbox"`
	TS       time.Time    `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != EventVersion {
		return fmt.Errorf("unsupported event version %d", e.Version)
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
	if e.Source != "" && !e.Source.Valid() {
		return fmt.Errorf("unknown source %q", e.Source)
	}
	if e.BBox == nil {
		return errors.New("bbox is required")
	}
	b := *e.BBox
	if !b.Valid() {
		return fmt.Errorf("bbox min exceeds max: %s", b)
	}
	if b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("bbox out of range: %s", b)
	}
	return nil
}
