package crawl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/overpass"
	"github.com/reservemap/reservemap/internal/store/memory"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []geo.BBox
	fn    func(q overpass.Query) (*overpass.Response, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, q overpass.Query) (*overpass.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *q.BBox)
	f.mu.Unlock()
	return f.fn(q)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu    sync.Mutex
	boxes []geo.BBox
}

func (n *fakeNotifier) AreaChanged(_ context.Context, b geo.BBox) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.boxes = append(n.boxes, b)
	return nil
}

func square(b geo.BBox) []overpass.Coord {
	return []overpass.Coord{
		{Lat: b.MinLat, Lon: b.MinLon},
		{Lat: b.MinLat, Lon: b.MaxLon},
		{Lat: b.MaxLat, Lon: b.MaxLon},
		{Lat: b.MaxLat, Lon: b.MinLon},
		{Lat: b.MinLat, Lon: b.MinLon},
	}
}

func wayResponse(id int64, b geo.BBox) *overpass.Response {
	return &overpass.Response{Elements: []overpass.Element{{
		Type:     "way",
		ID:       id,
		Tags:     map[string]string{"leisure": "nature_reserve", "name": "Test Area"},
		Geometry: square(b),
	}}}
}

func newTestController(f Fetcher, s Store, n Notifier) *Controller {
	c := New(Options{Fetcher: f, Store: s, Notifier: n, Logger: zerolog.Nop()})
	return c
}

func TestRunSingleTileSuccess(t *testing.T) {
	b := geo.BBox{MinLon: 5.14, MinLat: 52.07, MaxLon: 5.28, MaxLat: 52.16}
	st := memory.New()
	f := &fakeFetcher{fn: func(q overpass.Query) (*overpass.Response, error) {
		return wayResponse(42, *q.BBox), nil
	}}
	c := newTestController(f, st, nil)

	s, err := c.Run(context.Background(), Config{BBox: b, TileKM: 40})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Summary{Tiles: 1, Processed: 1, Succeeded: 1, Created: 1}
	if s != want {
		t.Fatalf("summary %+v, want %+v", s, want)
	}
	if f.callCount() != 1 {
		t.Fatalf("want 1 fetch, got %d", f.callCount())
	}

	if _, err := st.Reserve(context.Background(), "way_42"); err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	tile, ok, err := st.Tile(context.Background(), b)
	if err != nil || !ok {
		t.Fatalf("tile state missing: ok=%v err=%v", ok, err)
	}
	if !tile.Success || tile.Created != 1 || tile.Updated != 0 || tile.ErrorMessage != "" {
		t.Fatalf("tile state %+v", tile)
	}
}

func TestResumeSkipsSucceededTile(t *testing.T) {
	b := geo.BBox{MinLon: 5.14, MinLat: 52.07, MaxLon: 5.28, MaxLat: 52.16}
	st := memory.New()
	if err := st.PutTile(context.Background(), model.GridTile{BBox: b, Success: true, LastUpdated: time.Now()}); err != nil {
		t.Fatal(err)
	}
	f := &fakeFetcher{fn: func(overpass.Query) (*overpass.Response, error) {
		return &overpass.Response{Elements: []overpass.Element{}}, nil
	}}
	c := newTestController(f, st, nil)

	s, err := c.Run(context.Background(), Config{BBox: b, TileKM: 40, Resume: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.callCount() != 0 {
		t.Fatalf("skipped tile must not fetch, got %d calls", f.callCount())
	}
	if s.Skipped != 1 || s.Processed != 0 {
		t.Fatalf("summary %+v", s)
	}
}

func TestMinAgeSkipsFreshNotStale(t *testing.T) {
	b := geo.BBox{MinLon: 5.14, MinLat: 52.07, MaxLon: 5.28, MaxLat: 52.16}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		name        string
		lastUpdated time.Time
		wantSkipped bool
	}{
		{"fresh tile skipped", now.Add(-1 * time.Hour), true},
		{"stale tile processed", now.Add(-3 * time.Hour), false},
		{"never processed tile runs", time.Time{}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			st := memory.New()
			if !tc.lastUpdated.IsZero() {
				err := st.PutTile(context.Background(), model.GridTile{BBox: b, Success: false, LastUpdated: tc.lastUpdated})
				if err != nil {
					t.Fatal(err)
				}
			}
			f := &fakeFetcher{fn: func(q overpass.Query) (*overpass.Response, error) {
				return wayResponse(1, *q.BBox), nil
			}}
			c := newTestController(f, st, nil)
			c.now = func() time.Time { return now }

			s, err := c.Run(context.Background(), Config{BBox: b, TileKM: 40, MinAge: 2 * time.Hour})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if tc.wantSkipped && (s.Skipped != 1 || f.callCount() != 0) {
				t.Fatalf("want skip, summary %+v calls %d", s, f.callCount())
			}
			if !tc.wantSkipped && (s.Processed != 1 || f.callCount() != 1) {
				t.Fatalf("want processed, summary %+v calls %d", s, f.callCount())
			}
		})
	}
}

func TestFailedTileDoesNotAbortRun(t *testing.T) {
	// Two tiles wide at 40 km: lon span 1.0 exceeds one tile's ~0.59 degrees.
	b := geo.BBox{MinLon: 5.0, MinLat: 52.0, MaxLon: 6.0, MaxLat: 52.3}
	st := memory.New()
	f := &fakeFetcher{fn: func(q overpass.Query) (*overpass.Response, error) {
		if q.BBox.MinLon == 5.0 {
			return nil, &overpass.ExhaustedError{Attempts: 3, Endpoints: 2}
		}
		return wayResponse(7, *q.BBox), nil
	}}
	c := newTestController(f, st, nil)

	s, err := c.Run(context.Background(), Config{BBox: b, TileKM: 40})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Tiles != 2 || s.Processed != 2 || s.Failed != 1 || s.Succeeded != 1 || s.Created != 1 {
		t.Fatalf("summary %+v", s)
	}

	// The default single worker processes tiles in order, so the first
	// fetch call carries the failing tile's bbox.
	failed, ok, _ := st.Tile(context.Background(), f.calls[0])
	if !ok || failed.Success || failed.ErrorMessage == "" {
		t.Fatalf("failed tile state %+v ok=%v", failed, ok)
	}
	if failed.Created != 0 || failed.Updated != 0 {
		t.Fatalf("failed tile keeps stale counts: %+v", failed)
	}
}

type flakyStore struct {
	*memory.Store
	failID string
}

func (f *flakyStore) UpsertReserve(ctx context.Context, r model.Reserve) (bool, error) {
	if r.ID == f.failID {
		return false, errors.New("write rejected")
	}
	return f.Store.UpsertReserve(ctx, r)
}

func TestRecordErrorIsolatedWithinTile(t *testing.T) {
	b := geo.BBox{MinLon: 5.14, MinLat: 52.07, MaxLon: 5.28, MaxLat: 52.16}
	st := &flakyStore{Store: memory.New(), failID: "way_1"}
	f := &fakeFetcher{fn: func(q overpass.Query) (*overpass.Response, error) {
		return &overpass.Response{Elements: []overpass.Element{
			{Type: "way", ID: 1, Tags: map[string]string{"leisure": "nature_reserve"}, Geometry: square(*q.BBox)},
			{Type: "way", ID: 2, Tags: map[string]string{"leisure": "nature_reserve"}, Geometry: square(*q.BBox)},
		}}, nil
	}}
	c := newTestController(f, st, nil)

	s, err := c.Run(context.Background(), Config{BBox: b, TileKM: 40})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Succeeded != 1 || s.Created != 1 || s.RecordErrors != 1 {
		t.Fatalf("summary %+v", s)
	}
	tile, ok, _ := st.Tile(context.Background(), b)
	if !ok || !tile.Success || tile.Created != 1 {
		t.Fatalf("tile %+v ok=%v", tile, ok)
	}
}

func TestNotifierFiresOnlyWhenRecordsChanged(t *testing.T) {
	b := geo.BBox{MinLon: 5.14, MinLat: 52.07, MaxLon: 5.28, MaxLat: 52.16}

	st := memory.New()
	n := &fakeNotifier{}
	f := &fakeFetcher{fn: func(q overpass.Query) (*overpass.Response, error) {
		return wayResponse(42, *q.BBox), nil
	}}
	c := newTestController(f, st, n)
	if _, err := c.Run(context.Background(), Config{BBox: b, TileKM: 40}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(n.boxes) != 1 || n.boxes[0] != b {
		t.Fatalf("notifications %+v", n.boxes)
	}

	// An empty tile succeeds but changes nothing, so nothing is published.
	st2 := memory.New()
	n2 := &fakeNotifier{}
	f2 := &fakeFetcher{fn: func(overpass.Query) (*overpass.Response, error) {
		return &overpass.Response{Elements: []overpass.Element{}}, nil
	}}
	c2 := newTestController(f2, st2, n2)
	s, err := c2.Run(context.Background(), Config{BBox: b, TileKM: 40})
	if err != nil || s.Succeeded != 1 {
		t.Fatalf("empty tile run: %+v err %v", s, err)
	}
	if len(n2.boxes) != 0 {
		t.Fatalf("empty tile must not notify: %+v", n2.boxes)
	}
}

func TestCancelledRunLeavesTileUntouched(t *testing.T) {
	b := geo.BBox{MinLon: 5.14, MinLat: 52.07, MaxLon: 5.28, MaxLat: 52.16}
	st := memory.New()

	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{fn: func(overpass.Query) (*overpass.Response, error) {
		cancel()
		return nil, ctx.Err()
	}}
	c := newTestController(f, st, nil)

	s, err := c.Run(ctx, Config{BBox: b, TileKM: 40})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if s.Processed != 0 || s.Failed != 0 {
		t.Fatalf("summary %+v", s)
	}
	if _, ok, _ := st.Tile(context.Background(), b); ok {
		t.Fatalf("cancelled tile must not be persisted")
	}
}

func TestRegionPresets(t *testing.T) {
	nl, ok := Regions["netherlands"]
	if !ok {
		t.Fatal("netherlands preset missing")
	}
	want := geo.BBox{MinLon: 3.2, MinLat: 50.75, MaxLon: 7.2, MaxLat: 53.7}
	if nl != want {
		t.Fatalf("netherlands = %+v, want %+v", nl, want)
	}
	names := RegionNames()
	if len(names) != len(Regions) {
		t.Fatalf("RegionNames returned %d names for %d presets", len(names), len(Regions))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}
