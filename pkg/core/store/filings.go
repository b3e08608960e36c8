package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"fincache/pkg/models"
)

// CacheStatus describes what the cache holds for one entity. It is derived
// from the filings table at query time and never stored.
type CacheStatus struct {
	Entity           string          `json:"entity"`
	Cached           bool            `json:"cached"`
	Current          bool            `json:"current"`
	NeedsUpdate      bool            `json:"needs_update"`
	Age              time.Duration   `json:"age"`
	AgeDays          int             `json:"age_days"`
	FilingCount      int             `json:"filing_count"`
	LatestFilingDate string          `json:"latest_filing_date,omitempty"`
	CachedAt         time.Time       `json:"cached_at"`
	Foreign          bool            `json:"foreign"`
	Standard         models.Standard `json:"standard,omitempty"`
}

// Stats summarizes the whole cache.
type Stats struct {
	TotalFilings   int                          `json:"total_filings"`
	UniqueEntities int                          `json:"unique_entities"`
	Domestic       int                          `json:"domestic"`
	Foreign        int                          `json:"foreign"`
	LineItems      map[models.StatementKind]int `json:"line_items"`
	SizeBytes      int64                        `json:"size_bytes"`
}

const filingColumns = `id, entity, form, filing_date, fiscal_year, fiscal_period,
	accession, source_url, is_foreign, standard, cached_at, last_accessed`

// UpsertFiling inserts filing metadata or, when (entity, form, filing date)
// already exists, overwrites it. cached_at and last_accessed are set to now
// either way. The returned id is stable across upserts of the same key.
func (s *Store) UpsertFiling(ctx context.Context, f models.Filing) (int64, error) {
	entity := models.NormalizeEntity(f.Entity)
	if entity == "" || f.Form == "" || f.FilingDate == "" {
		return 0, eris.New("upsert filing: entity, form and filing date are required")
	}
	standard := f.Standard
	if standard == "" {
		standard = models.StandardFor(f.Foreign)
	}
	now := s.timestamp()

	query := s.rebind(`
		INSERT INTO filings (
			entity, form, filing_date, fiscal_year, fiscal_period,
			accession, source_url, is_foreign, standard, cached_at, last_accessed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity, form, filing_date)
		DO UPDATE SET
			fiscal_year = excluded.fiscal_year,
			fiscal_period = excluded.fiscal_period,
			accession = excluded.accession,
			source_url = excluded.source_url,
			is_foreign = excluded.is_foreign,
			standard = excluded.standard,
			cached_at = excluded.cached_at,
			last_accessed = excluded.last_accessed
		RETURNING id`)

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		entity, string(f.Form), f.FilingDate, f.FiscalYear, f.FiscalPeriod,
		f.Accession, f.SourceURL, f.Foreign, string(standard), now, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "upsert filing %s %s %s", entity, f.Form, f.FilingDate)
	}

	s.logger.Debug("filing cached",
		zap.String("entity", entity),
		zap.String("form", string(f.Form)),
		zap.String("filing_date", f.FilingDate),
		zap.Int64("id", id))
	return id, nil
}

// Filings returns every cached filing of an entity, newest filing date first.
func (s *Store) Filings(ctx context.Context, entity string) ([]models.Filing, error) {
	return s.filings(ctx, models.NormalizeEntity(entity), -1)
}

func (s *Store) filings(ctx context.Context, entity string, limit int) ([]models.Filing, error) {
	query := `SELECT ` + filingColumns + ` FROM filings WHERE entity = ? ORDER BY filing_date DESC, id DESC`
	args := []any{entity}
	if limit >= 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "query filings for %s", entity)
	}
	defer rows.Close()

	var out []models.Filing
	for rows.Next() {
		f, err := scanFiling(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "iterate filings")
}

func scanFiling(rows *sql.Rows) (models.Filing, error) {
	var (
		f                      models.Filing
		form, standard         string
		cachedAt, lastAccessed string
	)
	err := rows.Scan(&f.ID, &f.Entity, &form, &f.FilingDate, &f.FiscalYear, &f.FiscalPeriod,
		&f.Accession, &f.SourceURL, &f.Foreign, &standard, &cachedAt, &lastAccessed)
	if err != nil {
		return f, eris.Wrap(err, "scan filing")
	}
	f.Form = models.FormKind(form)
	f.Standard = models.Standard(standard)
	f.CachedAt = parseTimestamp(cachedAt)
	f.LastAccessed = parseTimestamp(lastAccessed)
	return f, nil
}

// Staleness reports the cache status of an entity. An entity with no filings
// is not cached and needs an update. Otherwise the cache is current iff
// now - max(cached_at) <= maxAge.
func (s *Store) Staleness(ctx context.Context, entity string, maxAge time.Duration) (CacheStatus, error) {
	entity = models.NormalizeEntity(entity)
	status := CacheStatus{Entity: entity}

	var (
		count     int
		maxCached sql.NullString
		latest    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*), MAX(cached_at), MAX(filing_date) FROM filings WHERE entity = ?`), entity,
	).Scan(&count, &maxCached, &latest)
	if err != nil {
		return status, eris.Wrapf(err, "staleness for %s", entity)
	}
	if count == 0 {
		status.NeedsUpdate = true
		return status, nil
	}

	var standard string
	err = s.db.QueryRowContext(ctx, s.rebind(
		`SELECT is_foreign, standard FROM filings WHERE entity = ? ORDER BY filing_date DESC, id DESC LIMIT 1`), entity,
	).Scan(&status.Foreign, &standard)
	if err != nil {
		return status, eris.Wrapf(err, "latest filing for %s", entity)
	}

	status.Cached = true
	status.FilingCount = count
	status.LatestFilingDate = latest.String
	status.Standard = models.Standard(standard)
	status.CachedAt = parseTimestamp(maxCached.String)
	status.Age = s.now().Sub(status.CachedAt)
	if status.Age < 0 {
		status.Age = 0
	}
	status.AgeDays = int(status.Age / (24 * time.Hour))
	status.Current = status.Age <= maxAge
	status.NeedsUpdate = !status.Current
	return status, nil
}

// Stats returns cache-wide counts and the on-disk size of the store.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{LineItems: make(map[models.StatementKind]int)}

	var domestic, foreign sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT entity),
			SUM(CASE WHEN is_foreign THEN 0 ELSE 1 END),
			SUM(CASE WHEN is_foreign THEN 1 ELSE 0 END)
		FROM filings`,
	).Scan(&st.TotalFilings, &st.UniqueEntities, &domestic, &foreign)
	if err != nil {
		return st, eris.Wrap(err, "filing stats")
	}
	st.Domestic = int(domestic.Int64)
	st.Foreign = int(foreign.Int64)

	for _, kind := range models.StatementKinds {
		table, _ := tableFor(kind)
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return st, eris.Wrapf(err, "count %s", table)
		}
		st.LineItems[kind] = n
	}

	size, err := s.size(ctx)
	if err != nil {
		return st, err
	}
	st.SizeBytes = size
	return st, nil
}

func (s *Store) size(ctx context.Context) (int64, error) {
	var size int64
	if s.dialect == DriverPostgres {
		err := s.db.QueryRowContext(ctx, `SELECT pg_database_size(current_database())`).Scan(&size)
		return size, eris.Wrap(err, "database size")
	}
	var pages, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, eris.Wrap(err, "page_count")
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, eris.Wrap(err, "page_size")
	}
	return pages * pageSize, nil
}

// Standard returns the accounting standard of the entity's latest cached
// filing, or "" when the entity is not cached.
func (s *Store) Standard(ctx context.Context, entity string) (models.Standard, error) {
	var standard string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT standard FROM filings WHERE entity = ? ORDER BY filing_date DESC, id DESC LIMIT 1`),
		models.NormalizeEntity(entity),
	).Scan(&standard)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "standard for %s", entity)
	}
	return models.Standard(standard), nil
}
