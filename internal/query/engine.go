// Package query answers point-in-reserve lookups. Candidates come from
// a per-cell Redis cache or a store bbox prefilter; containment is
// always re-tested against the exact geometry.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/reservemap/reservemap/internal/cells"
	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/store"
)

// Store is the read surface the engine needs.
type Store interface {
	CandidatesAtPoint(ctx context.Context, p geo.Point, f model.Filter, limit int) ([]model.Reserve, error)
	ReservesInBBox(ctx context.Context, b geo.BBox, f model.Filter, limit, offset int) ([]model.Reserve, error)
	ReservesByIDs(ctx context.Context, ids []string) ([]model.Reserve, error)
	ScanReserves(ctx context.Context, f model.Filter, limit int) ([]model.Reserve, error)
	FeaturesOf(ctx context.Context, id string) ([]geo.Feature, error)
}

// Match pairs a record with the planar area of the geometry that
// contained the query point. Smaller areas sort first, so the most
// specific reserve leads the result.
type Match struct {
	Reserve model.Reserve `json:"reserve"`
	Area    float64       `json:"area"`
}

// Config tunes one engine.
type Config struct {
	Resolution   int           // H3 resolution of candidate cells
	CacheTTL     time.Duration // candidate list lifetime
	ScanCap      int           // records examined by the fallback scan
	MatchCap     int           // matches returned by the fallback scan
	FeatureCache int           // decoded-geometry LRU entries
	FeatureTTL   time.Duration // decoded-geometry staleness bound
}

const (
	defaultResolution   = 8
	defaultCacheTTL     = 5 * time.Minute
	defaultScanCap      = 5000
	defaultMatchCap     = 50
	defaultFeatureCache = 1024
	defaultFeatureTTL   = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.Resolution <= 0 {
		c.Resolution = defaultResolution
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.ScanCap <= 0 {
		c.ScanCap = defaultScanCap
	}
	if c.MatchCap <= 0 {
		c.MatchCap = defaultMatchCap
	}
	if c.FeatureCache <= 0 {
		c.FeatureCache = defaultFeatureCache
	}
	if c.FeatureTTL <= 0 {
		c.FeatureTTL = defaultFeatureTTL
	}
	return c
}

type Options struct {
	Store    Store
	Cache    *CellCache // optional; nil sends every lookup to the store
	Logger   zerolog.Logger
	Register prometheus.Registerer
	Config   Config
}

// Engine answers point queries. Safe for concurrent use.
type Engine struct {
	store   Store
	cache   *CellCache
	log     zerolog.Logger
	metrics *metricSet
	cfg     Config

	features *expirable.LRU[string, []geo.Feature]
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("query: store is required")
	}
	cfg := opts.Config.withDefaults()
	return &Engine{
		store:    opts.Store,
		cache:    opts.Cache,
		log:      opts.Logger,
		metrics:  newMetricSet(opts.Register),
		cfg:      cfg,
		features: expirable.NewLRU[string, []geo.Feature](cfg.FeatureCache, nil, cfg.FeatureTTL),
	}, nil
}

// At returns every record whose geometry contains p and passes f,
// sorted ascending by the area of the matched geometry.
func (e *Engine) At(ctx context.Context, p geo.Point, f model.Filter) ([]Match, error) {
	start := time.Now()

	candidates, err := e.candidates(ctx, p, f)
	if err != nil {
		return nil, err
	}

	var matches []Match
	if len(candidates) == 0 {
		e.metrics.fallbackScans.Inc()
		scanned, err := e.store.ScanReserves(ctx, f, e.cfg.ScanCap)
		if err != nil {
			return nil, fmt.Errorf("fallback scan: %w", err)
		}
		matches, err = e.exact(ctx, p, scanned, e.cfg.MatchCap)
		if err != nil {
			return nil, err
		}
	} else {
		matches, err = e.exact(ctx, p, candidates, 0)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Area != matches[j].Area {
			return matches[i].Area < matches[j].Area
		}
		return matches[i].Reserve.ID < matches[j].Reserve.ID
	})

	e.metrics.queries.Inc()
	e.metrics.duration.Observe(time.Since(start).Seconds())
	return matches, nil
}

// candidates returns the records whose stored bbox contains p, through
// the cell cache when one is configured. Cache failures degrade to the
// store path instead of failing the query.
func (e *Engine) candidates(ctx context.Context, p geo.Point, f model.Filter) ([]model.Reserve, error) {
	if e.cache == nil {
		return e.store.CandidatesAtPoint(ctx, p, f, e.cfg.ScanCap)
	}

	cell, err := cells.For(p, e.cfg.Resolution)
	if err != nil {
		return nil, fmt.Errorf("query cell: %w", err)
	}

	ids, err := e.cache.GetIDs(ctx, e.cfg.Resolution, cell, f)
	switch {
	case err != nil:
		e.log.Warn().Err(err).Str("cell", cell).Msg("candidate cache read failed, querying store")
	case ids != nil:
		e.metrics.cacheHits.Inc()
		rs, err := e.store.ReservesByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		return keepContaining(rs, p, f), nil
	default:
		e.metrics.cacheMisses.Inc()
	}

	// Fill from the cell boundary's bbox: a superset of every point in
	// the cell, so the cached list serves any query landing in it.
	cellBox, err := cells.BBoxOf(cell)
	if err != nil {
		return nil, fmt.Errorf("cell bbox: %w", err)
	}
	rs, err := e.store.ReservesInBBox(ctx, cellBox, f, e.cfg.ScanCap, 0)
	if err != nil {
		return nil, err
	}

	fill := make([]string, len(rs))
	for i, r := range rs {
		fill[i] = r.ID
	}
	if err := e.cache.SetIDs(ctx, e.cfg.Resolution, cell, f, fill, e.cfg.CacheTTL); err != nil {
		e.log.Warn().Err(err).Str("cell", cell).Msg("candidate cache write failed")
	}
	return keepContaining(rs, p, f), nil
}

// exact ray-casts p against each record's stored geometry. The first
// containing geometry within a record wins. A positive limit stops the
// walk after that many matches. No bbox shortcut here: the fallback
// scan feeds records precisely because their stored bbox may be wrong.
func (e *Engine) exact(ctx context.Context, p geo.Point, rs []model.Reserve, limit int) ([]Match, error) {
	var matches []Match
	for _, r := range rs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fs, err := e.featuresOf(ctx, r.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Stale candidate: the record vanished after it was listed.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("features of %s: %w", r.ID, err)
		}

		for _, feat := range fs {
			if feat.Geometry == nil || !geo.Contains(feat.Geometry, p) {
				continue
			}
			matches = append(matches, Match{Reserve: r, Area: geo.Area(feat.Geometry)})
			break
		}
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return matches, nil
}

func (e *Engine) featuresOf(ctx context.Context, id string) ([]geo.Feature, error) {
	if fs, ok := e.features.Get(id); ok {
		return fs, nil
	}
	fs, err := e.store.FeaturesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	e.features.Add(id, fs)
	return fs, nil
}

// keepContaining re-applies the bbox and filter tests. Cached id lists
// cover a whole cell and may be stale, so neither test is trusted from
// the cache.
func keepContaining(rs []model.Reserve, p geo.Point, f model.Filter) []model.Reserve {
	var out []model.Reserve
	for _, r := range rs {
		if r.BBox.Contains(p) && f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
