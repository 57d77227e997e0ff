// Package postgres persists reserves, operators, and crawl tiles in
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/store"
)

// Store implements the persistence operations used by the crawler, the
// WDPA importer, the query engine, and the API server.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects a pool and bootstraps the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// EnsureSchema creates missing tables and indexes. Every statement is
// idempotent, so it runs on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reserves (
            id TEXT PRIMARY KEY,
            source TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            area_type TEXT NOT NULL,
            protect_class TEXT NOT NULL DEFAULT '',
            operators TEXT[] NOT NULL DEFAULT '{}',
            tags JSONB NOT NULL DEFAULT '{}'::jsonb,
            min_lon DOUBLE PRECISION NOT NULL,
            min_lat DOUBLE PRECISION NOT NULL,
            max_lon DOUBLE PRECISION NOT NULL,
            max_lat DOUBLE PRECISION NOT NULL,
            features JSONB NOT NULL DEFAULT '[]'::jsonb,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS reserves_bbox_idx ON reserves (min_lon, max_lon, min_lat, max_lat)`,
		`CREATE INDEX IF NOT EXISTS reserves_source_idx ON reserves (source)`,
		`CREATE INDEX IF NOT EXISTS reserves_area_type_idx ON reserves (area_type)`,
		`CREATE TABLE IF NOT EXISTS operators (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS reserve_operators (
            reserve_id TEXT NOT NULL REFERENCES reserves(id) ON DELETE CASCADE,
            operator_id TEXT NOT NULL REFERENCES operators(id) ON DELETE CASCADE,
            PRIMARY KEY (reserve_id, operator_id)
        )`,
		`CREATE TABLE IF NOT EXISTS import_tiles (
            min_lon DOUBLE PRECISION NOT NULL,
            min_lat DOUBLE PRECISION NOT NULL,
            max_lon DOUBLE PRECISION NOT NULL,
            max_lat DOUBLE PRECISION NOT NULL,
            success BOOLEAN NOT NULL DEFAULT FALSE,
            created_count INTEGER NOT NULL DEFAULT 0,
            updated_count INTEGER NOT NULL DEFAULT 0,
            last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            error_message TEXT NOT NULL DEFAULT '',
            PRIMARY KEY (min_lon, min_lat, max_lon, max_lat)
        )`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// reserveCols excludes the features payload; candidate and listing
// queries stay cheap and FeaturesOf loads geometry on demand.
const reserveCols = `id, source, name, area_type, protect_class, operators, tags, min_lon, min_lat, max_lon, max_lat, updated_at`

// UpsertReserve writes r and syncs its operator links in one
// transaction. The returned flag is true when the row was inserted
// rather than updated.
func (s *Store) UpsertReserve(ctx context.Context, r model.Reserve) (created bool, err error) {
	tags, err := json.Marshal(orEmptyTags(r.Tags))
	if err != nil {
		return false, fmt.Errorf("encode tags for %s: %w", r.ID, err)
	}
	features, err := json.Marshal(orEmptyFeatures(r.Features))
	if err != nil {
		return false, fmt.Errorf("encode features for %s: %w", r.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	// xmax is zero for a freshly inserted row, which distinguishes
	// insert from update without a second round trip.
	row := tx.QueryRow(ctx, `
        INSERT INTO reserves (id, source, name, area_type, protect_class, operators, tags,
                              min_lon, min_lat, max_lon, max_lat, features, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
        ON CONFLICT (id) DO UPDATE SET
            source = EXCLUDED.source,
            name = EXCLUDED.name,
            area_type = EXCLUDED.area_type,
            protect_class = EXCLUDED.protect_class,
            operators = EXCLUDED.operators,
            tags = EXCLUDED.tags,
            min_lon = EXCLUDED.min_lon,
            min_lat = EXCLUDED.min_lat,
            max_lon = EXCLUDED.max_lon,
            max_lat = EXCLUDED.max_lat,
            features = EXCLUDED.features,
            updated_at = NOW()
        RETURNING (xmax = 0)`,
		r.ID, string(r.Source), r.Name, r.AreaType, r.ProtectClass, orEmptyList(r.Operators), tags,
		r.BBox.MinLon, r.BBox.MinLat, r.BBox.MaxLon, r.BBox.MaxLat, features)
	if err := row.Scan(&created); err != nil {
		return false, fmt.Errorf("upsert reserve %s: %w", r.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM reserve_operators WHERE reserve_id = $1`, r.ID); err != nil {
		return false, fmt.Errorf("unlink operators for %s: %w", r.ID, err)
	}
	batch := &pgx.Batch{}
	for _, name := range r.Operators {
		id := model.OperatorID(name)
		if id == "" {
			continue
		}
		batch.Queue(`INSERT INTO operators (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, name)
		batch.Queue(`INSERT INTO reserve_operators (reserve_id, operator_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, r.ID, id)
	}
	if batch.Len() > 0 {
		if err := execBatch(ctx, tx, batch); err != nil {
			return false, fmt.Errorf("link operators for %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit upsert for %s: %w", r.ID, err)
	}
	return created, nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Reserve loads one record including its feature payload.
func (s *Store) Reserve(ctx context.Context, id string) (model.Reserve, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reserveCols+`, features FROM reserves WHERE id = $1`, id)

	var (
		r        model.Reserve
		src      string
		tags     []byte
		features []byte
	)
	err := row.Scan(&r.ID, &src, &r.Name, &r.AreaType, &r.ProtectClass, &r.Operators, &tags,
		&r.BBox.MinLon, &r.BBox.MinLat, &r.BBox.MaxLon, &r.BBox.MaxLat, &r.UpdatedAt, &features)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Reserve{}, store.ErrNotFound
	}
	if err != nil {
		return model.Reserve{}, fmt.Errorf("load reserve %s: %w", id, err)
	}
	r.Source = model.Source(src)
	if err := decodeJSON(tags, &r.Tags, "tags", id); err != nil {
		return model.Reserve{}, err
	}
	if err := decodeJSON(features, &r.Features, "features", id); err != nil {
		return model.Reserve{}, err
	}
	return r, nil
}

// FeaturesOf loads only the feature payload of one record.
func (s *Store) FeaturesOf(ctx context.Context, id string) ([]geo.Feature, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT features FROM reserves WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load features for %s: %w", id, err)
	}
	var fs []geo.Feature
	if err := decodeJSON(raw, &fs, "features", id); err != nil {
		return nil, err
	}
	return fs, nil
}

// CandidatesAtPoint returns records whose bbox contains p, without
// feature payloads, ordered by id.
func (s *Store) CandidatesAtPoint(ctx context.Context, p geo.Point, f model.Filter, limit int) ([]model.Reserve, error) {
	conds := []string{"min_lon <= $1", "max_lon >= $1", "min_lat <= $2", "max_lat >= $2"}
	args := []any{p.Lon, p.Lat}
	conds, args = filterSQL(f, conds, args)
	args = append(args, limit)
	q := `SELECT ` + reserveCols + ` FROM reserves WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
	return s.queryReserves(ctx, q, args)
}

// ReservesInBBox returns records whose bbox overlaps b, without feature
// payloads, ordered by name then id.
func (s *Store) ReservesInBBox(ctx context.Context, b geo.BBox, f model.Filter, limit, offset int) ([]model.Reserve, error) {
	conds := []string{"min_lon <= $1", "max_lon >= $2", "min_lat <= $3", "max_lat >= $4"}
	args := []any{b.MaxLon, b.MinLon, b.MaxLat, b.MinLat}
	conds, args = filterSQL(f, conds, args)
	args = append(args, limit, offset)
	q := `SELECT ` + reserveCols + ` FROM reserves WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(` ORDER BY name, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return s.queryReserves(ctx, q, args)
}

// ReservesByIDs returns the records that still exist among ids, without
// feature payloads, ordered by id. Unknown ids are skipped.
func (s *Store) ReservesByIDs(ctx context.Context, ids []string) ([]model.Reserve, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + reserveCols + ` FROM reserves WHERE id = ANY($1) ORDER BY id`
	return s.queryReserves(ctx, q, []any{ids})
}

// ScanReserves returns up to limit records in id order, without feature
// payloads. It backs the point-query fallback scan.
func (s *Store) ScanReserves(ctx context.Context, f model.Filter, limit int) ([]model.Reserve, error) {
	var conds []string
	var args []any
	conds, args = filterSQL(f, conds, args)
	where := ""
	if len(conds) > 0 {
		where = ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	q := `SELECT ` + reserveCols + ` FROM reserves` + where + fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
	return s.queryReserves(ctx, q, args)
}

// Operators lists all operators with their live reserve counts, most
// referenced first.
func (s *Store) Operators(ctx context.Context) ([]model.Operator, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT o.id, o.name, COUNT(ro.reserve_id)::int AS reserve_count
        FROM operators o
        LEFT JOIN reserve_operators ro ON ro.operator_id = o.id
        GROUP BY o.id, o.name
        ORDER BY reserve_count DESC, o.name`)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	var out []model.Operator
	for rows.Next() {
		var op model.Operator
		if err := rows.Scan(&op.ID, &op.Name, &op.Reserves); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) CountBySource(ctx context.Context, source model.Source) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reserves WHERE source = $1`, string(source)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s reserves: %w", source, err)
	}
	return n, nil
}

// ClearSource deletes every record of one ingestion source and returns
// the number removed. Operator links cascade; operator rows stay.
func (s *Store) ClearSource(ctx context.Context, source model.Source) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reserves WHERE source = $1`, string(source))
	if err != nil {
		return 0, fmt.Errorf("clear %s reserves: %w", source, err)
	}
	return tag.RowsAffected(), nil
}

// Tile loads the crawl state for an exact tile bbox. Tile identity is
// the bbox value; float64 coordinates round-trip exactly through
// DOUBLE PRECISION, so equality comparison is safe here.
func (s *Store) Tile(ctx context.Context, b geo.BBox) (model.GridTile, bool, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT success, created_count, updated_count, last_updated, error_message
        FROM import_tiles
        WHERE min_lon = $1 AND min_lat = $2 AND max_lon = $3 AND max_lat = $4`,
		b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)

	t := model.GridTile{BBox: b}
	err := row.Scan(&t.Success, &t.Created, &t.Updated, &t.LastUpdated, &t.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.GridTile{BBox: b}, false, nil
	}
	if err != nil {
		return model.GridTile{}, false, fmt.Errorf("load tile %s: %w", b, err)
	}
	return t, true, nil
}

func (s *Store) PutTile(ctx context.Context, t model.GridTile) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO import_tiles (min_lon, min_lat, max_lon, max_lat, success, created_count, updated_count, last_updated, error_message)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (min_lon, min_lat, max_lon, max_lat) DO UPDATE SET
            success = EXCLUDED.success,
            created_count = EXCLUDED.created_count,
            updated_count = EXCLUDED.updated_count,
            last_updated = EXCLUDED.last_updated,
            error_message = EXCLUDED.error_message`,
		t.BBox.MinLon, t.BBox.MinLat, t.BBox.MaxLon, t.BBox.MaxLat,
		t.Success, t.Created, t.Updated, t.LastUpdated, t.ErrorMessage)
	if err != nil {
		return fmt.Errorf("put tile %s: %w", t.BBox, err)
	}
	return nil
}

// filterSQL appends WHERE conditions for the populated fields of f,
// numbering placeholders after the ones already in args.
func filterSQL(f model.Filter, conds []string, args []any) ([]string, []any) {
	if f.Source != "" {
		args = append(args, string(f.Source))
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if f.Operator != "" {
		args = append(args, f.Operator)
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM reserve_operators ro WHERE ro.reserve_id = reserves.id AND ro.operator_id = $%d)", len(args)))
	}
	if len(f.AreaTypes) > 0 {
		args = append(args, f.AreaTypes)
		conds = append(conds, fmt.Sprintf("area_type = ANY($%d)", len(args)))
	}
	if len(f.ProtectClasses) > 0 {
		args = append(args, f.ProtectClasses)
		conds = append(conds, fmt.Sprintf("protect_class = ANY($%d)", len(args)))
	}
	return conds, args
}

func (s *Store) queryReserves(ctx context.Context, q string, args []any) ([]model.Reserve, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query reserves: %w", err)
	}
	defer rows.Close()

	var out []model.Reserve
	for rows.Next() {
		var (
			r    model.Reserve
			src  string
			tags []byte
		)
		if err := rows.Scan(&r.ID, &src, &r.Name, &r.AreaType, &r.ProtectClass, &r.Operators, &tags,
			&r.BBox.MinLon, &r.BBox.MinLat, &r.BBox.MaxLon, &r.BBox.MaxLat, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reserve: %w", err)
		}
		r.Source = model.Source(src)
		if err := decodeJSON(tags, &r.Tags, "tags", r.ID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeJSON(raw []byte, dst any, what, id string) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s for %s: %w", what, id, err)
	}
	return nil
}

func orEmptyTags(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyFeatures(fs []geo.Feature) []geo.Feature {
	if fs == nil {
		return []geo.Feature{}
	}
	return fs
}

func orEmptyList(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
