package query

import (
	"context"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/reservemap/reservemap/internal/model"
)

func newMiniCache(t *testing.T) (*CellCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cc, err := NewCellCache(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("NewCellCache: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })

	return cc, mr
}

func TestCellCacheRoundTripDedup(t *testing.T) {
	cc, mr := newMiniCache(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	res := 8
	cell := "88196953b3fffff"
	f := model.Filter{Source: model.SourceOSM}
	ttl := 2 * time.Minute

	ids := []string{"way_2", "way_1", "way_2", "wdpa_9", "way_1"}
	if err := cc.SetIDs(ctx, res, cell, f, ids, ttl); err != nil {
		t.Fatalf("SetIDs: %v", err)
	}

	got, err := cc.GetIDs(ctx, res, cell, f)
	if err != nil {
		t.Fatalf("GetIDs: %v", err)
	}
	want := []string{"way_2", "way_1", "wdpa_9"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetIDs got=%v want=%v", got, want)
	}

	k := Key(res, cell, f)
	tt := mr.TTL(k)
	if tt <= 0 || tt > ttl {
		t.Fatalf("unexpected TTL for key %q: %v", k, tt)
	}
}

func TestCellCacheMissingKeyReturnsNil(t *testing.T) {
	cc, _ := newMiniCache(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	ids, err := cc.GetIDs(ctx, 8, "88196953b3fffff", model.Filter{})
	if err != nil {
		t.Fatalf("GetIDs: %v", err)
	}
	if ids != nil {
		t.Fatalf("expected nil ids for missing key, got=%v", ids)
	}
}

func TestCellCacheEmptySetDeletesKey(t *testing.T) {
	cc, mr := newMiniCache(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	res := 8
	cell := "88196953b3fffff"
	f := model.Filter{Operator: "staatsbosbeheer"}

	if err := cc.SetIDs(ctx, res, cell, f, []string{"way_1"}, time.Minute); err != nil {
		t.Fatalf("SetIDs initial: %v", err)
	}
	k := Key(res, cell, f)
	if !mr.Exists(k) {
		t.Fatalf("expected key %q to exist after initial SetIDs", k)
	}

	if err := cc.SetIDs(ctx, res, cell, f, nil, time.Minute); err != nil {
		t.Fatalf("SetIDs empty: %v", err)
	}
	if mr.Exists(k) {
		t.Fatalf("expected key %q to be deleted after empty SetIDs", k)
	}

	ids, err := cc.GetIDs(ctx, res, cell, f)
	if err != nil {
		t.Fatalf("GetIDs after empty SetIDs: %v", err)
	}
	if ids != nil {
		t.Fatalf("expected nil ids after empty SetIDs, got=%v", ids)
	}
}

func TestCellCacheDropRemovesUnfilteredVariantOnly(t *testing.T) {
	cc, mr := newMiniCache(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	res := 8
	cell := "88196953b3fffff"
	filtered := model.Filter{Source: model.SourceWDPA}

	if err := cc.SetIDs(ctx, res, cell, model.Filter{}, []string{"way_1"}, time.Minute); err != nil {
		t.Fatalf("SetIDs unfiltered: %v", err)
	}
	if err := cc.SetIDs(ctx, res, cell, filtered, []string{"wdpa_1"}, time.Minute); err != nil {
		t.Fatalf("SetIDs filtered: %v", err)
	}

	if err := cc.Drop(ctx, res, []string{cell}); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	if mr.Exists(Key(res, cell, model.Filter{})) {
		t.Fatalf("expected unfiltered key to be dropped")
	}
	if !mr.Exists(Key(res, cell, filtered)) {
		t.Fatalf("expected filtered key to survive the drop")
	}
}

func TestCellCacheDropAllScopedToResolution(t *testing.T) {
	cc, mr := newMiniCache(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cell := "88196953b3fffff"
	filtered := model.Filter{Source: model.SourceWDPA}

	if err := cc.SetIDs(ctx, 8, cell, model.Filter{}, []string{"way_1"}, time.Minute); err != nil {
		t.Fatalf("SetIDs res 8 unfiltered: %v", err)
	}
	if err := cc.SetIDs(ctx, 8, cell, filtered, []string{"wdpa_1"}, time.Minute); err != nil {
		t.Fatalf("SetIDs res 8 filtered: %v", err)
	}
	if err := cc.SetIDs(ctx, 9, cell, model.Filter{}, []string{"way_2"}, time.Minute); err != nil {
		t.Fatalf("SetIDs res 9: %v", err)
	}

	n, err := cc.DropAll(ctx, 8)
	if err != nil {
		t.Fatalf("DropAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("DropAll deleted %d keys, want 2", n)
	}
	if mr.Exists(Key(8, cell, model.Filter{})) || mr.Exists(Key(8, cell, filtered)) {
		t.Fatalf("expected every resolution-8 key to be flushed")
	}
	if !mr.Exists(Key(9, cell, model.Filter{})) {
		t.Fatalf("expected the resolution-9 key to survive")
	}
}

func TestKeyStableUnderFilterListOrder(t *testing.T) {
	cell := "88196953b3fffff"

	a := Key(8, cell, model.Filter{AreaTypes: []string{"national_park", "nature_reserve"}})
	b := Key(8, cell, model.Filter{AreaTypes: []string{"nature_reserve", "national_park"}})
	if a != b {
		t.Fatalf("list order changed the key: %q vs %q", a, b)
	}

	c := Key(8, cell, model.Filter{Source: model.SourceOSM})
	if a == c {
		t.Fatalf("distinct filters produced the same key %q", a)
	}
	if got := Key(8, cell, model.Filter{}); got == a || got == c {
		t.Fatalf("zero filter should hash apart, got %q", got)
	}
}
