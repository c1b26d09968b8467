// Package store persists exhibitions, venues, provider quota state and the
// job run ledger. SQLite serves local runs and tests; Postgres serves
// production.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/live-cpu/exhibition-sub000/internal/model"
)

// ErrDuplicate is returned when an insert hits a unique key.
var ErrDuplicate = eris.New("store: duplicate record")

// RepairFilter selects period-unknown exhibitions for a repair pass.
type RepairFilter struct {
	Sources []string
	Limit   int
	// AttemptedBefore excludes rows whose last repair attempt is at or after
	// this instant. Nil disables the check.
	AttemptedBefore *time.Time
}

// Store is the persistence contract of the sync pipeline.
type Store interface {
	// Exhibitions
	GetExhibitionBySource(ctx context.Context, source, recordID string) (*model.Exhibition, error)
	ExistsExhibitionByKey(ctx context.Context, titleKey, venueKey string, sources []string) (bool, error)
	InsertExhibition(ctx context.Context, e *model.Exhibition) error
	UpdateExhibition(ctx context.Context, e *model.Exhibition) error
	DeleteExhibition(ctx context.Context, id string) error
	ListUnknownPeriod(ctx context.Context, f RepairFilter) ([]model.Exhibition, error)
	ResolvePeriod(ctx context.Context, id string, p model.Period, price string) error
	MarkRepairAttempted(ctx context.Context, id string, at time.Time) error

	// Venues
	GetVenue(ctx context.Context, name string) (*model.Venue, error)
	FillVenue(ctx context.Context, v *model.Venue) error
	ListVenueNames(ctx context.Context) ([]string, error)

	// Quota
	LoadQuota(ctx context.Context) ([]model.QuotaState, error)
	SaveQuota(ctx context.Context, states []model.QuotaState) error

	// Job ledger
	GetJobRun(ctx context.Context, job, dateKey string) (*model.JobRun, error)
	ClaimJobRun(ctx context.Context, job, dateKey string, cap int) (bool, error)
	RecordJobRun(ctx context.Context, job, dateKey string, at time.Time, meta map[string]any) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Open returns the backend named by cfg.Driver ("sqlite" or "postgres").
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

const dateLayout = time.DateOnly

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, (*s)[:min(len(*s), len(dateLayout))])
	if err != nil {
		return nil, eris.Wrapf(err, "store: parse date %q", *s)
	}
	return &t, nil
}

func marshalImages(images []string) (string, error) {
	if len(images) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(images)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal images")
	}
	return string(b), nil
}

func unmarshalImages(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal images")
	}
	return out, nil
}

func marshalMeta(meta map[string]any) (*string, error) {
	if meta == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal meta")
	}
	s := string(b)
	return &s, nil
}

func unmarshalMeta(s *string) (map[string]any, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(*s), &out); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal meta")
	}
	return out, nil
}
