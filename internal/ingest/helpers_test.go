package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/extract"
	"github.com/live-cpu/exhibition-sub000/internal/merge"
	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/internal/provider"
	"github.com/live-cpu/exhibition-sub000/internal/quota"
	"github.com/live-cpu/exhibition-sub000/internal/resilience"
	"github.com/live-cpu/exhibition-sub000/internal/store"
	"github.com/live-cpu/exhibition-sub000/internal/venue"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fakeAdapter struct {
	name string
	fn   func(call int) ([]model.Candidate, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeAdapter) Name() string { return f.name }

// FetchCandidates sends a single request through call.
func (f *fakeAdapter) FetchCandidates(ctx context.Context, call provider.Call) ([]model.Candidate, error) {
	var out []model.Candidate
	err := call(ctx, func(context.Context) error {
		f.mu.Lock()
		f.calls++
		n := f.calls
		f.mu.Unlock()
		cands, err := f.fn(n)
		out = cands
		return err
	})
	return out, err
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// pagedAdapter sends one request per page and stops like a real adapter
// when call reports a quota denial or throttle.
type pagedAdapter struct {
	name  string
	pages [][]model.Candidate
	sent  int
}

func (p *pagedAdapter) Name() string { return p.name }

func (p *pagedAdapter) FetchCandidates(ctx context.Context, call provider.Call) ([]model.Candidate, error) {
	var out []model.Candidate
	for _, page := range p.pages {
		err := call(ctx, func(context.Context) error {
			p.sent++
			return nil
		})
		if err != nil {
			return out, err
		}
		out = append(out, page...)
	}
	return out, nil
}

func staticAdapter(name string, cands ...model.Candidate) *fakeAdapter {
	return &fakeAdapter{name: name, fn: func(int) ([]model.Candidate, error) { return cands, nil }}
}

type fakeLookup struct {
	name string
	fn   func(title, venue string) (string, error)

	calls int
}

func (f *fakeLookup) Name() string { return f.name }

func (f *fakeLookup) LookupPeriodText(_ context.Context, title, venue string) (string, error) {
	f.calls++
	return f.fn(title, venue)
}

type testEnv struct {
	svc   *Service
	store *store.SQLiteStore
	gov   *quota.Governor
}

func defaultLimits() map[string]quota.Limits {
	return map[string]quota.Limits{
		"culture": {Enabled: true, PerRun: 10, PerDay: 100},
		"naver":   {Enabled: true, PerRun: 10, PerDay: 100},
		"llm":     {Enabled: true, PerRun: 10, PerDay: 100},
		"repair":  {Enabled: true, PerRun: 10, PerDay: 100},
	}
}

func newTestEnv(t *testing.T, limits map[string]quota.Limits, providers []Provider, opts ...Option) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	clock := func() time.Time { return testNow }
	gov := quota.New(limits, quota.WithClock(clock), quota.WithLocation(time.UTC))

	rules, err := venue.DefaultRules()
	require.NoError(t, err)

	n := 0
	eng := merge.NewEngine(st,
		merge.WithClock(clock),
		merge.WithIDFunc(func() string { n++; return fmt.Sprintf("ex-%d", n) }),
	)

	base := []Option{
		WithClock(clock),
		WithLocation(time.UTC),
		WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}),
		WithRepairBudget("repair", 7*24*time.Hour),
	}
	svc := New(Deps{
		Store:     st,
		Governor:  gov,
		Resolver:  venue.NewResolver(rules),
		Extractor: extract.New(),
		Engine:    eng,
	}, providers, append(base, opts...)...)

	return &testEnv{svc: svc, store: st, gov: gov}
}

func liveCandidate(source, id, title, rawVenue string) model.Candidate {
	return model.Candidate{
		Title:          title,
		RawVenueName:   rawVenue,
		Period:         model.NewPeriod(date(2024, 3, 1), date(2024, 5, 31)),
		PeriodKnown:    true,
		SourceID:       source,
		SourceRecordID: id,
	}
}

func unknownExhibition(id, source, title, venueName string) *model.Exhibition {
	return &model.Exhibition{
		ID:             id,
		Title:          title,
		TitleKey:       merge.TitleKey(title),
		VenueKey:       merge.VenueKey(venueName),
		Venue:          model.VenueRef{Name: venueName},
		PeriodUnknown:  true,
		Source:         source,
		SourceRecordID: id,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}
