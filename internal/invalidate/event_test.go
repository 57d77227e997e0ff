package invalidate

import (
	"strings"
	"testing"
	"time"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
)

func TestEventValidate(t *testing.T) {
	b := geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 6, MaxLat: 53}
	now := time.Now().UTC()

	cases := []struct {
		name    string
		ev      Event
		wantErr string
	}{
		{"update ok", Event{Version: 1, Op: OpUpdate, Source: model.SourceOSM, BBox: &b, TS: now}, ""},
		{"delete without source", Event{Version: 1, Op: OpDelete, BBox: &b, TS: now}, ""},
		{"zero version", Event{Op: OpUpdate, BBox: &b, TS: now}, "version"},
		{"future version", Event{Version: 2, Op: OpUpdate, BBox: &b, TS: now}, "version"},
		{"bad op", Event{Version: 1, Op: "zap", BBox: &b, TS: now}, "unknown op"},
		{"bad source", Event{Version: 1, Op: OpUpdate, Source: "csv", BBox: &b, TS: now}, "unknown source"},
		{"missing bbox", Event{Version: 1, Op: OpUpdate, TS: now}, "bbox is required"},
		{"inverted bbox", Event{Version: 1, Op: OpUpdate, BBox: &geo.BBox{MinLon: 6, MinLat: 52, MaxLon: 5, MaxLat: 53}, TS: now}, "min exceeds max"},
		{"lon out of range", Event{Version: 1, Op: OpUpdate, BBox: &geo.BBox{MinLon: -181, MinLat: 52, MaxLon: 5, MaxLat: 53}, TS: now}, "out of range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ev.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestVersionDedupe(t *testing.T) {
	d := newVersionDedupe(16)

	if d.applied("k", 5) {
		t.Fatalf("fresh key should not be applied")
	}
	d.record("k", 5)
	if !d.applied("k", 5) {
		t.Fatalf("same version should be applied")
	}
	if !d.applied("k", 4) {
		t.Fatalf("older version should be applied")
	}
	if d.applied("k", 6) {
		t.Fatalf("newer version should not be applied")
	}

	// Recording an older version must not roll the key back.
	d.record("k", 3)
	if d.applied("k", 6) {
		t.Fatalf("older record overwrote newer version")
	}
	if !d.applied("k", 5) {
		t.Fatalf("version 5 lost after older record")
	}
}
