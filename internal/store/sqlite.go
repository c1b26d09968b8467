package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/live-cpu/exhibition-sub000/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "exhibitions.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers; the ledger claim relies on it.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS exhibitions (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	title_key           TEXT NOT NULL,
	venue_key           TEXT NOT NULL,
	venue_name          TEXT NOT NULL,
	venue_address       TEXT NOT NULL DEFAULT '',
	venue_lat           REAL,
	venue_lng           REAL,
	period_start        TEXT,
	period_end          TEXT,
	permanent           INTEGER NOT NULL DEFAULT 0,
	period_unknown      INTEGER NOT NULL DEFAULT 0,
	price               TEXT NOT NULL DEFAULT '',
	barrier_free        INTEGER NOT NULL DEFAULT 0,
	website             TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	images              TEXT NOT NULL DEFAULT '[]',
	source              TEXT NOT NULL,
	source_record_id    TEXT NOT NULL,
	review_count        INTEGER NOT NULL DEFAULT 0,
	rating_avg          REAL NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	repair_attempted_at DATETIME,
	UNIQUE (source, source_record_id)
);

CREATE INDEX IF NOT EXISTS idx_exhibitions_identity ON exhibitions(title_key, venue_key, source);
CREATE INDEX IF NOT EXISTS idx_exhibitions_unknown ON exhibitions(period_unknown, source);

CREATE TABLE IF NOT EXISTS venues (
	name          TEXT PRIMARY KEY,
	address       TEXT NOT NULL DEFAULT '',
	lat           REAL,
	lng           REAL,
	barrier_free  INTEGER NOT NULL DEFAULT 0,
	opening_hours TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS quota_state (
	provider       TEXT PRIMARY KEY,
	calls_today    INTEGER NOT NULL DEFAULT 0,
	date_key       TEXT NOT NULL,
	cooldown_until DATETIME,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS job_runs (
	job_name    TEXT NOT NULL,
	date_key    TEXT NOT NULL,
	runs_today  INTEGER NOT NULL DEFAULT 0,
	last_run_at DATETIME,
	meta        TEXT,
	PRIMARY KEY (job_name, date_key)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteExhibitionColumns = `id, title, title_key, venue_key, venue_name, venue_address, venue_lat, venue_lng,
	period_start, period_end, permanent, period_unknown, price, barrier_free, website, description, images,
	source, source_record_id, review_count, rating_avg, created_at, updated_at, repair_attempted_at`

func (s *SQLiteStore) GetExhibitionBySource(ctx context.Context, source, recordID string) (*model.Exhibition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteExhibitionColumns+` FROM exhibitions WHERE source = ? AND source_record_id = ?`,
		source, recordID,
	)
	e, err := scanSQLiteExhibition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get exhibition %s/%s", source, recordID)
	}
	return e, nil
}

func (s *SQLiteStore) ExistsExhibitionByKey(ctx context.Context, titleKey, venueKey string, sources []string) (bool, error) {
	if len(sources) == 0 {
		return false, nil
	}
	args := []any{titleKey, venueKey}
	for _, src := range sources {
		args = append(args, src)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exhibitions WHERE title_key = ? AND venue_key = ? AND source IN (`+placeholders(len(sources))+`)`,
		args...,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: exists exhibition by key")
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertExhibition(ctx context.Context, e *model.Exhibition) error {
	images, err := marshalImages(e.Images)
	if err != nil {
		return err
	}
	lat, lng := latLng(e.Venue.Location)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exhibitions (`+sqliteExhibitionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.TitleKey, e.VenueKey, e.Venue.Name, e.Venue.Address, lat, lng,
		formatDate(e.Period.Start), formatDate(e.Period.End), e.Period.Permanent, e.PeriodUnknown,
		e.Price, e.BarrierFree, e.Website, e.Description, images,
		e.Source, e.SourceRecordID, e.Stats.ReviewCount, e.Stats.RatingAvg,
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(), nullTime(e.RepairAttemptedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return eris.Wrapf(ErrDuplicate, "sqlite: insert exhibition %s/%s", e.Source, e.SourceRecordID)
		}
		return eris.Wrap(err, "sqlite: insert exhibition")
	}
	return nil
}

func (s *SQLiteStore) UpdateExhibition(ctx context.Context, e *model.Exhibition) error {
	images, err := marshalImages(e.Images)
	if err != nil {
		return err
	}
	lat, lng := latLng(e.Venue.Location)
	res, err := s.db.ExecContext(ctx,
		`UPDATE exhibitions SET title = ?, title_key = ?, venue_key = ?, venue_name = ?, venue_address = ?,
		 venue_lat = ?, venue_lng = ?, period_start = ?, period_end = ?, permanent = ?, period_unknown = ?,
		 price = ?, barrier_free = ?, website = ?, description = ?, images = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, e.TitleKey, e.VenueKey, e.Venue.Name, e.Venue.Address, lat, lng,
		formatDate(e.Period.Start), formatDate(e.Period.End), e.Period.Permanent, e.PeriodUnknown,
		e.Price, e.BarrierFree, e.Website, e.Description, images, e.UpdatedAt.UTC(),
		e.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update exhibition %s", e.ID)
	}
	return checkRowsAffected(res, "exhibition", e.ID)
}

func (s *SQLiteStore) DeleteExhibition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exhibitions WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete exhibition %s", id)
	}
	return checkRowsAffected(res, "exhibition", id)
}

func (s *SQLiteStore) ListUnknownPeriod(ctx context.Context, f RepairFilter) ([]model.Exhibition, error) {
	query := `SELECT ` + sqliteExhibitionColumns + ` FROM exhibitions WHERE period_unknown = 1`
	var args []any
	if len(f.Sources) > 0 {
		query += ` AND source IN (` + placeholders(len(f.Sources)) + `)`
		for _, src := range f.Sources {
			args = append(args, src)
		}
	}
	if f.AttemptedBefore != nil {
		query += ` AND (repair_attempted_at IS NULL OR repair_attempted_at < ?)`
		args = append(args, f.AttemptedBefore.UTC().Truncate(time.Second))
	}
	query += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unknown period")
	}
	defer rows.Close()

	var out []model.Exhibition
	for rows.Next() {
		e, err := scanSQLiteExhibition(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exhibition")
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ResolvePeriod(ctx context.Context, id string, p model.Period, price string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exhibitions SET period_start = ?, period_end = ?, permanent = ?, period_unknown = 0,
		 price = CASE WHEN price = '' THEN ? ELSE price END, updated_at = ?
		 WHERE id = ?`,
		formatDate(p.Start), formatDate(p.End), p.Permanent, price, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve period %s", id)
	}
	return checkRowsAffected(res, "exhibition", id)
}

func (s *SQLiteStore) MarkRepairAttempted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE exhibitions SET repair_attempted_at = ? WHERE id = ?`,
		at.UTC().Truncate(time.Second), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark repair attempted %s", id)
	}
	return checkRowsAffected(res, "exhibition", id)
}

func (s *SQLiteStore) GetVenue(ctx context.Context, name string) (*model.Venue, error) {
	var v model.Venue
	var lat, lng sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, address, lat, lng, barrier_free, opening_hours, phone, updated_at FROM venues WHERE name = ?`,
		name,
	).Scan(&v.Name, &v.Address, &lat, &lng, &v.BarrierFree, &v.OpeningHours, &v.Phone, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get venue %s", name)
	}
	if lat.Valid && lng.Valid {
		v.Location = &model.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &v, nil
}

// FillVenue inserts v or fills only the empty fields of the existing row.
func (s *SQLiteStore) FillVenue(ctx context.Context, v *model.Venue) error {
	lat, lng := latLng(v.Location)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO venues (name, address, lat, lng, barrier_free, opening_hours, phone, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			address = CASE WHEN venues.address = '' THEN excluded.address ELSE venues.address END,
			lat = CASE WHEN venues.lat IS NULL THEN excluded.lat ELSE venues.lat END,
			lng = CASE WHEN venues.lat IS NULL THEN excluded.lng ELSE venues.lng END,
			barrier_free = MAX(venues.barrier_free, excluded.barrier_free),
			opening_hours = CASE WHEN venues.opening_hours = '' THEN excluded.opening_hours ELSE venues.opening_hours END,
			phone = CASE WHEN venues.phone = '' THEN excluded.phone ELSE venues.phone END,
			updated_at = excluded.updated_at`,
		v.Name, v.Address, lat, lng, v.BarrierFree, v.OpeningHours, v.Phone, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: fill venue %s", v.Name)
}

func (s *SQLiteStore) ListVenueNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM venues UNION SELECT venue_name FROM exhibitions ORDER BY 1`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list venue names")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan venue name")
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) LoadQuota(ctx context.Context) ([]model.QuotaState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, calls_today, date_key, cooldown_until FROM quota_state ORDER BY provider`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load quota")
	}
	defer rows.Close()

	var out []model.QuotaState
	for rows.Next() {
		var q model.QuotaState
		var cooldown sql.NullTime
		if err := rows.Scan(&q.Provider, &q.CallsToday, &q.DateKey, &cooldown); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quota")
		}
		if cooldown.Valid {
			q.CooldownUntil = cooldown.Time
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveQuota(ctx context.Context, states []model.QuotaState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save quota")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, q := range states {
		var cooldown any
		if !q.CooldownUntil.IsZero() {
			cooldown = q.CooldownUntil.UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quota_state (provider, calls_today, date_key, cooldown_until, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(provider) DO UPDATE SET
				calls_today = excluded.calls_today,
				date_key = excluded.date_key,
				cooldown_until = excluded.cooldown_until,
				updated_at = excluded.updated_at`,
			q.Provider, q.CallsToday, q.DateKey, cooldown, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save quota %s", q.Provider)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save quota")
}

func (s *SQLiteStore) GetJobRun(ctx context.Context, job, dateKey string) (*model.JobRun, error) {
	var r model.JobRun
	var last sql.NullTime
	var meta sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT job_name, date_key, runs_today, last_run_at, meta FROM job_runs WHERE job_name = ? AND date_key = ?`,
		job, dateKey,
	).Scan(&r.JobName, &r.DateKey, &r.RunsToday, &last, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job run %s", job)
	}
	if last.Valid {
		t := last.Time
		r.LastRunAt = &t
	}
	if meta.Valid {
		if r.Meta, err = unmarshalMeta(&meta.String); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// ClaimJobRun atomically increments today's run count if it is below cap.
// A cap of zero or less always claims.
func (s *SQLiteStore) ClaimJobRun(ctx context.Context, job, dateKey string, cap int) (bool, error) {
	var runs int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO job_runs (job_name, date_key, runs_today) VALUES (?, ?, 1)
		 ON CONFLICT(job_name, date_key) DO UPDATE SET runs_today = job_runs.runs_today + 1
		 WHERE ? <= 0 OR job_runs.runs_today < ?
		 RETURNING runs_today`,
		job, dateKey, cap, cap,
	).Scan(&runs)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim job run %s", job)
	}
	return true, nil
}

func (s *SQLiteStore) RecordJobRun(ctx context.Context, job, dateKey string, at time.Time, meta map[string]any) error {
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_runs (job_name, date_key, runs_today, last_run_at, meta) VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT(job_name, date_key) DO UPDATE SET last_run_at = excluded.last_run_at, meta = excluded.meta`,
		job, dateKey, at.UTC(), metaJSON,
	)
	return eris.Wrapf(err, "sqlite: record job run %s", job)
}

// checkRowsAffected returns an error if the result affected zero rows.
func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteExhibition(row scannable) (*model.Exhibition, error) {
	var e model.Exhibition
	var lat, lng sql.NullFloat64
	var start, end *string
	var images string
	var repaired sql.NullTime

	err := row.Scan(&e.ID, &e.Title, &e.TitleKey, &e.VenueKey, &e.Venue.Name, &e.Venue.Address, &lat, &lng,
		&start, &end, &e.Period.Permanent, &e.PeriodUnknown, &e.Price, &e.BarrierFree, &e.Website,
		&e.Description, &images, &e.Source, &e.SourceRecordID, &e.Stats.ReviewCount, &e.Stats.RatingAvg,
		&e.CreatedAt, &e.UpdatedAt, &repaired)
	if err != nil {
		return nil, err
	}

	if lat.Valid && lng.Valid {
		e.Venue.Location = &model.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	if e.Period.Start, err = parseDate(start); err != nil {
		return nil, err
	}
	if e.Period.End, err = parseDate(end); err != nil {
		return nil, err
	}
	if e.Images, err = unmarshalImages(images); err != nil {
		return nil, err
	}
	if repaired.Valid {
		t := repaired.Time
		e.RepairAttemptedAt = &t
	}
	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func latLng(loc *model.Location) (any, any) {
	if loc == nil {
		return nil, nil
	}
	return loc.Lat, loc.Lng
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
