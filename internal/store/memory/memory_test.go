package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/store"
)

func reserve(id string, src model.Source, name string, b geo.BBox) model.Reserve {
	return model.Reserve{
		ID:       id,
		Source:   src,
		Name:     name,
		AreaType: model.AreaNatureReserve,
		BBox:     b,
		Features: []geo.Feature{{
			ID:       id,
			Geometry: geo.Polygon{Outer: geo.Ring{{Lon: b.MinLon, Lat: b.MinLat}, {Lon: b.MaxLon, Lat: b.MinLat}, {Lon: b.MaxLon, Lat: b.MaxLat}, {Lon: b.MinLon, Lat: b.MaxLat}, {Lon: b.MinLon, Lat: b.MinLat}}},
		}},
	}
}

func TestUpsertCreateThenUpdate(t *testing.T) {
	s := New()
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetNow(func() time.Time { return stamp })
	ctx := context.Background()

	r := reserve("way_1", model.SourceOSM, "Dunes", geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.1, MaxLat: 52.1})
	created, err := s.UpsertReserve(ctx, r)
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}

	r.Name = "Dunes West"
	created, err = s.UpsertReserve(ctx, r)
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}

	got, err := s.Reserve(ctx, "way_1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got.Name != "Dunes West" || !got.UpdatedAt.Equal(stamp) {
		t.Fatalf("got %+v", got)
	}
	if len(got.Features) != 1 {
		t.Fatalf("detail lookup must include features, got %d", len(got.Features))
	}
}

func TestReserveNotFound(t *testing.T) {
	s := New()
	if _, err := s.Reserve(context.Background(), "way_404"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.FeaturesOf(context.Background(), "way_404"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound from FeaturesOf, got %v", err)
	}
}

func TestCandidatesAtPoint(t *testing.T) {
	s := New()
	ctx := context.Background()

	mustUpsert(t, s, reserve("way_1", model.SourceOSM, "A", geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.2, MaxLat: 52.2}))
	mustUpsert(t, s, reserve("way_2", model.SourceOSM, "B", geo.BBox{MinLon: 5.1, MinLat: 52.1, MaxLon: 5.3, MaxLat: 52.3}))
	mustUpsert(t, s, reserve("wdpa_3", model.SourceWDPA, "C", geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.3, MaxLat: 52.3}))
	mustUpsert(t, s, reserve("way_4", model.SourceOSM, "D", geo.BBox{MinLon: 6, MinLat: 53, MaxLon: 6.1, MaxLat: 53.1}))

	p := geo.Point{Lon: 5.15, Lat: 52.15}
	got, err := s.CandidatesAtPoint(ctx, p, model.Filter{}, 0)
	if err != nil {
		t.Fatalf("CandidatesAtPoint: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 candidates, got %d", len(got))
	}
	if got[0].ID != "way_1" || got[1].ID != "way_2" || got[2].ID != "wdpa_3" {
		t.Fatalf("candidates out of id order: %v %v %v", got[0].ID, got[1].ID, got[2].ID)
	}
	for _, r := range got {
		if r.Features != nil {
			t.Fatalf("candidates must not carry features: %s", r.ID)
		}
	}

	got, err = s.CandidatesAtPoint(ctx, p, model.Filter{Source: model.SourceWDPA}, 0)
	if err != nil || len(got) != 1 || got[0].ID != "wdpa_3" {
		t.Fatalf("source filter: got %v err %v", got, err)
	}

	got, err = s.CandidatesAtPoint(ctx, p, model.Filter{}, 2)
	if err != nil || len(got) != 2 {
		t.Fatalf("limit: got %d err %v", len(got), err)
	}
}

func TestReservesInBBoxOrderAndPaging(t *testing.T) {
	s := New()
	ctx := context.Background()

	mustUpsert(t, s, reserve("way_2", model.SourceOSM, "Beta", geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.1, MaxLat: 52.1}))
	mustUpsert(t, s, reserve("way_1", model.SourceOSM, "Alpha", geo.BBox{MinLon: 5.05, MinLat: 52.05, MaxLon: 5.15, MaxLat: 52.15}))
	mustUpsert(t, s, reserve("way_3", model.SourceOSM, "Gamma", geo.BBox{MinLon: 9, MinLat: 50, MaxLon: 9.1, MaxLat: 50.1}))

	view := geo.BBox{MinLon: 4.9, MinLat: 51.9, MaxLon: 5.2, MaxLat: 52.2}
	got, err := s.ReservesInBBox(ctx, view, model.Filter{}, 10, 0)
	if err != nil {
		t.Fatalf("ReservesInBBox: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Alpha" || got[1].Name != "Beta" {
		t.Fatalf("want Alpha,Beta got %+v", got)
	}

	got, err = s.ReservesInBBox(ctx, view, model.Filter{}, 10, 1)
	if err != nil || len(got) != 1 || got[0].Name != "Beta" {
		t.Fatalf("offset paging: got %+v err %v", got, err)
	}

	got, err = s.ReservesInBBox(ctx, view, model.Filter{}, 10, 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("offset past end: got %+v err %v", got, err)
	}
}

func TestReservesByIDsSkipsUnknown(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustUpsert(t, s, reserve("way_1", model.SourceOSM, "A", geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.1, MaxLat: 52.1}))

	got, err := s.ReservesByIDs(ctx, []string{"way_9", "way_1"})
	if err != nil || len(got) != 1 || got[0].ID != "way_1" {
		t.Fatalf("got %+v err %v", got, err)
	}
}

func TestOperatorsCountsAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := reserve("way_1", model.SourceOSM, "A", geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.1, MaxLat: 52.1})
	a.Operators = []string{"Staatsbosbeheer", "Natuurmonumenten"}
	b := reserve("way_2", model.SourceOSM, "B", geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.1, MaxLat: 52.1})
	b.Operators = []string{"Staatsbosbeheer"}
	mustUpsert(t, s, a)
	mustUpsert(t, s, b)

	ops, err := s.Operators(ctx)
	if err != nil {
		t.Fatalf("Operators: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("want 2 operators, got %d", len(ops))
	}
	if ops[0].ID != "staatsbosbeheer" || ops[0].Reserves != 2 {
		t.Fatalf("most referenced first: %+v", ops[0])
	}
	if ops[1].ID != "natuurmonumenten" || ops[1].Reserves != 1 {
		t.Fatalf("second operator: %+v", ops[1])
	}
}

func TestClearSource(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustUpsert(t, s, reserve("way_1", model.SourceOSM, "A", geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.1, MaxLat: 52.1}))
	mustUpsert(t, s, reserve("wdpa_1", model.SourceWDPA, "B", geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.1, MaxLat: 52.1}))

	n, err := s.ClearSource(ctx, model.SourceOSM)
	if err != nil || n != 1 {
		t.Fatalf("ClearSource: n=%d err=%v", n, err)
	}
	if c, _ := s.CountBySource(ctx, model.SourceOSM); c != 0 {
		t.Fatalf("osm records remain: %d", c)
	}
	if c, _ := s.CountBySource(ctx, model.SourceWDPA); c != 1 {
		t.Fatalf("wdpa records lost: %d", c)
	}
}

func TestTileRoundTripByBBoxIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.36036036036036, MaxLat: 52.36036036036036}

	if _, ok, err := s.Tile(ctx, b); err != nil || ok {
		t.Fatalf("missing tile: ok=%v err=%v", ok, err)
	}

	tile := model.GridTile{BBox: b, Success: true, Created: 3, Updated: 1, LastUpdated: time.Now()}
	if err := s.PutTile(ctx, tile); err != nil {
		t.Fatalf("PutTile: %v", err)
	}

	got, ok, err := s.Tile(ctx, b)
	if err != nil || !ok {
		t.Fatalf("Tile: ok=%v err=%v", ok, err)
	}
	if !got.Success || got.Created != 3 || got.Updated != 1 {
		t.Fatalf("got %+v", got)
	}

	other := b
	other.MaxLon += 1e-9
	if _, ok, _ := s.Tile(ctx, other); ok {
		t.Fatalf("tile identity must be the exact bbox")
	}
}

func TestUpsertCopiesInput(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := reserve("way_1", model.SourceOSM, "A", geo.BBox{MinLon: 5, MinLat: 52, MaxLon: 5.1, MaxLat: 52.1})
	r.Tags = map[string]string{"leisure": "nature_reserve"}
	mustUpsert(t, s, r)

	r.Tags["leisure"] = "mutated"
	got, err := s.Reserve(ctx, "way_1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got.Tags["leisure"] != "nature_reserve" {
		t.Fatalf("stored record aliases caller's map: %q", got.Tags["leisure"])
	}
}

func mustUpsert(t *testing.T, s *Store, r model.Reserve) {
	t.Helper()
	if _, err := s.UpsertReserve(context.Background(), r); err != nil {
		t.Fatalf("upsert %s: %v", r.ID, err)
	}
}
