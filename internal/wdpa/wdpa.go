// Package wdpa bulk-imports Protected Planet shapefile archives. Every
// polygon layer row (and optionally every point layer row) becomes a
// reserve record under the wdpa source, keyed by site id so re-imports
// update in place and never collide with crawled records.
package wdpa

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
)

// Store is the persistence surface the importer needs.
type Store interface {
	UpsertReserve(ctx context.Context, r model.Reserve) (created bool, err error)
}

// Notifier publishes a cache-invalidation signal after an area's
// records changed.
type Notifier interface {
	AreaChanged(ctx context.Context, b geo.BBox) error
}

// Config carries one import run's parameters. The CLI parses flags
// into it.
type Config struct {
	Archives      []string
	Country       string // ISO3, empty imports every country
	IncludePoints bool
	BatchSize     int // rows between progress log lines
	DryRun        bool
}

const defaultBatchSize = 500

// Summary aggregates one run.
type Summary struct {
	Layers  int `json:"layers"`
	Rows    int `json:"rows"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type Options struct {
	Store    Store
	Notifier Notifier
	Logger   zerolog.Logger
	Register prometheus.Registerer
}

// Importer runs archive imports. Safe for one Run at a time.
type Importer struct {
	store   Store
	notify  Notifier
	log     zerolog.Logger
	metrics *metricSet

	open func(path, suffix string) (shp.SequentialReader, string, error)
}

func New(opts Options) *Importer {
	return &Importer{
		store:   opts.Store,
		notify:  opts.Notifier,
		log:     opts.Logger,
		metrics: newMetricSet(opts.Register),
		open:    openLayer,
	}
}

// Run imports every archive in cfg order. A missing archive or absent
// layer is skipped with a warning; row failures are isolated and
// counted. A broken layer stream aborts the run.
func (im *Importer) Run(ctx context.Context, cfg Config) (Summary, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	cfg.Country = strings.ToUpper(strings.TrimSpace(cfg.Country))
	if cfg.DryRun {
		im.log.Info().Msg("dry run: no records will be written")
	}

	suffixes := []string{polygonSuffix}
	if cfg.IncludePoints {
		suffixes = append(suffixes, pointSuffix)
	}

	var sum Summary
	var changed bboxUnion
	for _, path := range cfg.Archives {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		for _, suffix := range suffixes {
			rd, layer, err := im.open(path, suffix)
			if errors.Is(err, fs.ErrNotExist) {
				im.log.Warn().Str("archive", path).Msg("archive not found, skipping")
				break
			}
			if errors.Is(err, errNoLayer) {
				im.log.Warn().Str("archive", path).Str("suffix", suffix).Msg("layer not in archive, skipping")
				continue
			}
			if err != nil {
				return sum, fmt.Errorf("archive %s: %w", path, err)
			}
			if err := im.runLayer(ctx, rd, layer, cfg, &sum, &changed); err != nil {
				return sum, err
			}
		}
	}

	im.log.Info().
		Int("layers", sum.Layers).
		Int("rows", sum.Rows).
		Int("created", sum.Created).
		Int("updated", sum.Updated).
		Int("skipped", sum.Skipped).
		Int("errors", sum.Errors).
		Msg("import finished")

	if im.notify != nil && changed.set && !cfg.DryRun {
		if err := im.notify.AreaChanged(ctx, changed.box); err != nil {
			im.log.Warn().Err(err).Msg("invalidation publish failed")
		}
	}
	return sum, ctx.Err()
}

func (im *Importer) runLayer(ctx context.Context, rd shp.SequentialReader, layer string, cfg Config, sum *Summary, changed *bboxUnion) error {
	defer func() { _ = rd.Close() }()

	log := im.log.With().Str("layer", layer).Logger()
	log.Info().Msg("layer starting")
	sum.Layers++
	im.metrics.layers.Inc()

	var rows, created, updated, skipped, errs int
	for rd.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows++
		_, shape := rd.Shape()
		rec, reason := buildRecord(rowAttrs(rd), shape, cfg)
		if reason != "" {
			skipped++
			im.metrics.rows.WithLabelValues("skipped").Inc()
			log.Debug().Int("row", rows).Str("reason", reason).Msg("row skipped")
			continue
		}

		if cfg.DryRun {
			created++
			im.metrics.rows.WithLabelValues("created").Inc()
		} else {
			isNew, err := im.store.UpsertReserve(ctx, rec)
			if err != nil {
				errs++
				im.metrics.rows.WithLabelValues("error").Inc()
				log.Error().Err(err).Str("reserve", rec.ID).Msg("record skipped")
				continue
			}
			changed.add(rec.BBox)
			if isNew {
				created++
				im.metrics.rows.WithLabelValues("created").Inc()
			} else {
				updated++
				im.metrics.rows.WithLabelValues("updated").Inc()
			}
		}

		if rows%cfg.BatchSize == 0 {
			log.Info().
				Int("rows", rows).
				Int("created", created).
				Int("updated", updated).
				Int("skipped", skipped).
				Msg("layer progress")
		}
	}
	if err := rd.Err(); err != nil {
		return fmt.Errorf("layer %s: %w", layer, err)
	}

	sum.Rows += rows
	sum.Created += created
	sum.Updated += updated
	sum.Skipped += skipped
	sum.Errors += errs
	log.Info().
		Int("rows", rows).
		Int("created", created).
		Int("updated", updated).
		Int("skipped", skipped).
		Int("errors", errs).
		Msg("layer done")
	return nil
}

// bboxUnion grows to cover every box added to it.
type bboxUnion struct {
	set bool
	box geo.BBox
}

func (u *bboxUnion) add(b geo.BBox) {
	if !u.set {
		u.box, u.set = b, true
		return
	}
	u.box = u.box.Union(b)
}
