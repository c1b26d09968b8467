package store

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/live-cpu/exhibition-sub000/internal/db"
	"github.com/live-cpu/exhibition-sub000/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store on Postgres with PostGIS venue geometry.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to cfg.DatabaseURL.
func NewPostgres(ctx context.Context, cfg Config) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close is a no-op.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool, migrationFS, "migrations"), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgExhibitionColumns = `id, title, title_key, venue_key, venue_name, venue_address, ST_AsEWKB(venue_location),
	period_start, period_end, permanent, period_unknown, price, barrier_free, website, description, images,
	source, source_record_id, review_count, rating_avg, created_at, updated_at, repair_attempted_at`

func (s *PostgresStore) GetExhibitionBySource(ctx context.Context, source, recordID string) (*model.Exhibition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgExhibitionColumns+` FROM exhibitions WHERE source = $1 AND source_record_id = $2`,
		source, recordID,
	)
	e, err := scanPgExhibition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get exhibition %s/%s", source, recordID)
	}
	return e, nil
}

func (s *PostgresStore) ExistsExhibitionByKey(ctx context.Context, titleKey, venueKey string, sources []string) (bool, error) {
	if len(sources) == 0 {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM exhibitions WHERE title_key = $1 AND venue_key = $2 AND source = ANY($3))`,
		titleKey, venueKey, sources,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: exists exhibition by key")
	}
	return exists, nil
}

func (s *PostgresStore) InsertExhibition(ctx context.Context, e *model.Exhibition) error {
	images, err := marshalImages(e.Images)
	if err != nil {
		return err
	}
	loc, err := encodeLocation(e.Venue.Location)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO exhibitions (id, title, title_key, venue_key, venue_name, venue_address, venue_location,
			period_start, period_end, permanent, period_unknown, price, barrier_free, website, description, images,
			source, source_record_id, review_count, rating_avg, created_at, updated_at, repair_attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, ST_GeomFromEWKB($7), $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23)`,
		e.ID, e.Title, e.TitleKey, e.VenueKey, e.Venue.Name, e.Venue.Address, loc,
		e.Period.Start, e.Period.End, e.Period.Permanent, e.PeriodUnknown, e.Price, e.BarrierFree,
		e.Website, e.Description, images, e.Source, e.SourceRecordID, e.Stats.ReviewCount, e.Stats.RatingAvg,
		e.CreatedAt, e.UpdatedAt, e.RepairAttemptedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicate, "postgres: insert exhibition %s/%s", e.Source, e.SourceRecordID)
		}
		return eris.Wrap(err, "postgres: insert exhibition")
	}
	return nil
}

func (s *PostgresStore) UpdateExhibition(ctx context.Context, e *model.Exhibition) error {
	images, err := marshalImages(e.Images)
	if err != nil {
		return err
	}
	loc, err := encodeLocation(e.Venue.Location)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE exhibitions SET title = $1, title_key = $2, venue_key = $3, venue_name = $4, venue_address = $5,
			venue_location = ST_GeomFromEWKB($6), period_start = $7, period_end = $8, permanent = $9,
			period_unknown = $10, price = $11, barrier_free = $12, website = $13, description = $14,
			images = $15, updated_at = $16
		 WHERE id = $17`,
		e.Title, e.TitleKey, e.VenueKey, e.Venue.Name, e.Venue.Address, loc,
		e.Period.Start, e.Period.End, e.Period.Permanent, e.PeriodUnknown, e.Price, e.BarrierFree,
		e.Website, e.Description, images, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update exhibition %s", e.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("exhibition not found: %s", e.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteExhibition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM exhibitions WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete exhibition %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("exhibition not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListUnknownPeriod(ctx context.Context, f RepairFilter) ([]model.Exhibition, error) {
	var sources []string
	if len(f.Sources) > 0 {
		sources = f.Sources
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgExhibitionColumns+` FROM exhibitions
		 WHERE period_unknown
		   AND ($1::text[] IS NULL OR source = ANY($1))
		   AND ($2::timestamptz IS NULL OR repair_attempted_at IS NULL OR repair_attempted_at < $2)
		 ORDER BY created_at, id
		 LIMIT $3`,
		sources, f.AttemptedBefore, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unknown period")
	}
	defer rows.Close()

	var out []model.Exhibition
	for rows.Next() {
		e, err := scanPgExhibition(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan exhibition")
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResolvePeriod(ctx context.Context, id string, p model.Period, price string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE exhibitions SET period_start = $1, period_end = $2, permanent = $3, period_unknown = false,
			price = CASE WHEN price = '' THEN $4 ELSE price END, updated_at = now()
		 WHERE id = $5`,
		p.Start, p.End, p.Permanent, price, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve period %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("exhibition not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkRepairAttempted(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE exhibitions SET repair_attempted_at = $1 WHERE id = $2`, at, id)
	return eris.Wrapf(err, "postgres: mark repair attempted %s", id)
}

func (s *PostgresStore) GetVenue(ctx context.Context, name string) (*model.Venue, error) {
	var v model.Venue
	var loc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT name, address, ST_AsEWKB(location), barrier_free, opening_hours, phone, updated_at
		 FROM venues WHERE name = $1`,
		name,
	).Scan(&v.Name, &v.Address, &loc, &v.BarrierFree, &v.OpeningHours, &v.Phone, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get venue %s", name)
	}
	if v.Location, err = decodeLocation(loc); err != nil {
		return nil, err
	}
	return &v, nil
}

// FillVenue inserts v or fills only the empty fields of the existing row.
func (s *PostgresStore) FillVenue(ctx context.Context, v *model.Venue) error {
	loc, err := encodeLocation(v.Location)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO venues (name, address, location, barrier_free, opening_hours, phone, updated_at)
		 VALUES ($1, $2, ST_GeomFromEWKB($3), $4, $5, $6, now())
		 ON CONFLICT (name) DO UPDATE SET
			address = COALESCE(NULLIF(venues.address, ''), EXCLUDED.address),
			location = COALESCE(venues.location, EXCLUDED.location),
			barrier_free = venues.barrier_free OR EXCLUDED.barrier_free,
			opening_hours = COALESCE(NULLIF(venues.opening_hours, ''), EXCLUDED.opening_hours),
			phone = COALESCE(NULLIF(venues.phone, ''), EXCLUDED.phone),
			updated_at = now()`,
		v.Name, v.Address, loc, v.BarrierFree, v.OpeningHours, v.Phone,
	)
	return eris.Wrapf(err, "postgres: fill venue %s", v.Name)
}

func (s *PostgresStore) ListVenueNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM venues UNION SELECT venue_name FROM exhibitions ORDER BY 1`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list venue names")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan venue name")
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *PostgresStore) LoadQuota(ctx context.Context) ([]model.QuotaState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider, calls_today, date_key, cooldown_until FROM quota_state ORDER BY provider`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load quota")
	}
	defer rows.Close()

	var out []model.QuotaState
	for rows.Next() {
		var q model.QuotaState
		var cooldown *time.Time
		if err := rows.Scan(&q.Provider, &q.CallsToday, &q.DateKey, &cooldown); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quota")
		}
		if cooldown != nil {
			q.CooldownUntil = *cooldown
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveQuota(ctx context.Context, states []model.QuotaState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save quota")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, q := range states {
		var cooldown *time.Time
		if !q.CooldownUntil.IsZero() {
			c := q.CooldownUntil
			cooldown = &c
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO quota_state (provider, calls_today, date_key, cooldown_until, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (provider) DO UPDATE SET
				calls_today = EXCLUDED.calls_today,
				date_key = EXCLUDED.date_key,
				cooldown_until = EXCLUDED.cooldown_until,
				updated_at = now()`,
			q.Provider, q.CallsToday, q.DateKey, cooldown,
		); err != nil {
			return eris.Wrapf(err, "postgres: save quota %s", q.Provider)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save quota")
}

func (s *PostgresStore) GetJobRun(ctx context.Context, job, dateKey string) (*model.JobRun, error) {
	var r model.JobRun
	var meta *string
	err := s.pool.QueryRow(ctx,
		`SELECT job_name, date_key, runs_today, last_run_at, meta FROM job_runs WHERE job_name = $1 AND date_key = $2`,
		job, dateKey,
	).Scan(&r.JobName, &r.DateKey, &r.RunsToday, &r.LastRunAt, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job run %s", job)
	}
	if r.Meta, err = unmarshalMeta(meta); err != nil {
		return nil, err
	}
	return &r, nil
}

// ClaimJobRun atomically increments today's run count if it is below cap.
// A cap of zero or less always claims.
func (s *PostgresStore) ClaimJobRun(ctx context.Context, job, dateKey string, cap int) (bool, error) {
	var runs int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO job_runs (job_name, date_key, runs_today) VALUES ($1, $2, 1)
		 ON CONFLICT (job_name, date_key) DO UPDATE SET runs_today = job_runs.runs_today + 1
		 WHERE $3 <= 0 OR job_runs.runs_today < $3
		 RETURNING runs_today`,
		job, dateKey, cap,
	).Scan(&runs)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim job run %s", job)
	}
	return true, nil
}

func (s *PostgresStore) RecordJobRun(ctx context.Context, job, dateKey string, at time.Time, meta map[string]any) error {
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_runs (job_name, date_key, runs_today, last_run_at, meta) VALUES ($1, $2, 0, $3, $4)
		 ON CONFLICT (job_name, date_key) DO UPDATE SET last_run_at = EXCLUDED.last_run_at, meta = EXCLUDED.meta`,
		job, dateKey, at, metaJSON,
	)
	return eris.Wrapf(err, "postgres: record job run %s", job)
}

func scanPgExhibition(row pgx.Row) (*model.Exhibition, error) {
	var e model.Exhibition
	var loc []byte
	var images string

	err := row.Scan(&e.ID, &e.Title, &e.TitleKey, &e.VenueKey, &e.Venue.Name, &e.Venue.Address, &loc,
		&e.Period.Start, &e.Period.End, &e.Period.Permanent, &e.PeriodUnknown, &e.Price, &e.BarrierFree,
		&e.Website, &e.Description, &images, &e.Source, &e.SourceRecordID, &e.Stats.ReviewCount,
		&e.Stats.RatingAvg, &e.CreatedAt, &e.UpdatedAt, &e.RepairAttemptedAt)
	if err != nil {
		return nil, err
	}
	if e.Venue.Location, err = decodeLocation(loc); err != nil {
		return nil, err
	}
	if e.Images, err = unmarshalImages(images); err != nil {
		return nil, err
	}
	return &e, nil
}
