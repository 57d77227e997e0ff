// Package memory is an in-memory store with the same behavior as the
// postgres implementation. Tests and single-process runs use it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	reserves map[string]model.Reserve
	opNames  map[string]string
	tiles    map[geo.BBox]model.GridTile

	now func() time.Time
}

func New() *Store {
	return &Store{
		reserves: map[string]model.Reserve{},
		opNames:  map[string]string{},
		tiles:    map[geo.BBox]model.GridTile{},
		now:      time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) UpsertReserve(_ context.Context, r model.Reserve) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.reserves[r.ID]
	r.UpdatedAt = s.now()
	s.reserves[r.ID] = cloneReserve(r)
	for _, name := range r.Operators {
		if id := model.OperatorID(name); id != "" {
			s.opNames[id] = name
		}
	}
	return !existed, nil
}

func (s *Store) Reserve(_ context.Context, id string) (model.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reserves[id]
	if !ok {
		return model.Reserve{}, store.ErrNotFound
	}
	return cloneReserve(r), nil
}

func (s *Store) FeaturesOf(_ context.Context, id string) ([]geo.Feature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reserves[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]geo.Feature(nil), r.Features...), nil
}

func (s *Store) CandidatesAtPoint(_ context.Context, p geo.Point, f model.Filter, limit int) ([]model.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Reserve
	for _, r := range s.reserves {
		if r.BBox.Contains(p) && f.Match(r) {
			out = append(out, stripFeatures(r))
		}
	}
	sortByID(out)
	return capped(out, limit), nil
}

func (s *Store) ReservesInBBox(_ context.Context, b geo.BBox, f model.Filter, limit, offset int) ([]model.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Reserve
	for _, r := range s.reserves {
		if r.BBox.Intersects(b) && f.Match(r) {
			out = append(out, stripFeatures(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) {
		return nil, nil
	}
	return capped(out[offset:], limit), nil
}

func (s *Store) ReservesByIDs(_ context.Context, ids []string) ([]model.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Reserve
	for _, id := range ids {
		if r, ok := s.reserves[id]; ok {
			out = append(out, stripFeatures(r))
		}
	}
	sortByID(out)
	return out, nil
}

func (s *Store) ScanReserves(_ context.Context, f model.Filter, limit int) ([]model.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Reserve
	for _, r := range s.reserves {
		if f.Match(r) {
			out = append(out, stripFeatures(r))
		}
	}
	sortByID(out)
	return capped(out, limit), nil
}

func (s *Store) Operators(_ context.Context) ([]model.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[string]int{}
	for _, r := range s.reserves {
		for _, name := range r.Operators {
			if id := model.OperatorID(name); id != "" {
				counts[id]++
			}
		}
	}
	out := make([]model.Operator, 0, len(s.opNames))
	for id, name := range s.opNames {
		out = append(out, model.Operator{ID: id, Name: name, Reserves: counts[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reserves != out[j].Reserves {
			return out[i].Reserves > out[j].Reserves
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) CountBySource(_ context.Context, source model.Source) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.reserves {
		if r.Source == source {
			n++
		}
	}
	return n, nil
}

func (s *Store) ClearSource(_ context.Context, source model.Source) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.reserves {
		if r.Source == source {
			delete(s.reserves, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Tile(_ context.Context, b geo.BBox) (model.GridTile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tiles[b]
	if !ok {
		return model.GridTile{BBox: b}, false, nil
	}
	return t, true, nil
}

func (s *Store) PutTile(_ context.Context, t model.GridTile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiles[t.BBox] = t
	return nil
}

// SetNow overrides the clock used for UpdatedAt stamps in tests.
func (s *Store) SetNow(now func() time.Time) { s.now = now }

func cloneReserve(r model.Reserve) model.Reserve {
	out := r
	if r.Tags != nil {
		out.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			out.Tags[k] = v
		}
	}
	out.Operators = append([]string(nil), r.Operators...)
	out.Features = append([]geo.Feature(nil), r.Features...)
	return out
}

func stripFeatures(r model.Reserve) model.Reserve {
	out := cloneReserve(r)
	out.Features = nil
	return out
}

func sortByID(rs []model.Reserve) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}

func capped(rs []model.Reserve, limit int) []model.Reserve {
	if limit > 0 && len(rs) > limit {
		return rs[:limit]
	}
	return rs
}
