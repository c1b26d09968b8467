package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/live-cpu/exhibition-sub000/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Exhibitions ---

func TestSQLite_Exhibition_InsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := testExhibition()
	e.Images = []string{"https://img.example/1.jpg"}
	e.Price = "무료"
	require.NoError(t, st.InsertExhibition(ctx, e))

	got, err := st.GetExhibitionBySource(ctx, "culture", "PF-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Light and Space", got.Title)
	assert.Equal(t, "국립현대미술관 (서울)", got.Venue.Name)
	require.NotNil(t, got.Venue.Location)
	assert.InDelta(t, 37.5786, got.Venue.Location.Lat, 1e-9)
	require.NotNil(t, got.Period.Start)
	require.NotNil(t, got.Period.End)
	assert.Equal(t, "2024-03-01", got.Period.Start.Format(time.DateOnly))
	assert.Equal(t, "2024-05-31", got.Period.End.Format(time.DateOnly))
	assert.Equal(t, []string{"https://img.example/1.jpg"}, got.Images)
	assert.Equal(t, "무료", got.Price)
	assert.False(t, got.PeriodUnknown)
}

func TestSQLite_Exhibition_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetExhibitionBySource(context.Background(), "culture", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_Exhibition_Duplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertExhibition(ctx, testExhibition()))

	dup := testExhibition()
	dup.ID = "ex-2"
	err := st.InsertExhibition(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))
}

func TestSQLite_Exhibition_UpdatePreservesStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := testExhibition()
	e.Stats = model.Stats{ReviewCount: 4, RatingAvg: 4.5}
	require.NoError(t, st.InsertExhibition(ctx, e))

	e.Title = "Light and Space II"
	e.Stats = model.Stats{}
	e.Venue.Location = nil
	e.UpdatedAt = e.UpdatedAt.Add(time.Hour)
	require.NoError(t, st.UpdateExhibition(ctx, e))

	got, err := st.GetExhibitionBySource(ctx, "culture", "PF-1")
	require.NoError(t, err)
	assert.Equal(t, "Light and Space II", got.Title)
	assert.Equal(t, 4, got.Stats.ReviewCount)
	assert.InDelta(t, 4.5, got.Stats.RatingAvg, 1e-9)
	assert.Nil(t, got.Venue.Location)
}

func TestSQLite_Exhibition_UpdateMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateExhibition(context.Background(), testExhibition())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_Exhibition_Delete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertExhibition(ctx, testExhibition()))
	require.NoError(t, st.DeleteExhibition(ctx, "ex-1"))

	got, err := st.GetExhibitionBySource(ctx, "culture", "PF-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, st.DeleteExhibition(ctx, "ex-1"))
}

func TestSQLite_ExistsExhibitionByKey(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertExhibition(ctx, testExhibition()))

	ok, err := st.ExistsExhibitionByKey(ctx, "light and space", "국립현대미술관 (서울)", []string{"naver", "culture"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.ExistsExhibitionByKey(ctx, "light and space", "국립현대미술관 (서울)", []string{"naver"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.ExistsExhibitionByKey(ctx, "light and space", "국립현대미술관 (서울)", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_ListUnknownPeriod(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	known := testExhibition()
	require.NoError(t, st.InsertExhibition(ctx, known))

	for i, src := range []string{"naver", "naver", "llm"} {
		e := testExhibition()
		e.ID = "unknown-" + string(rune('a'+i))
		e.SourceRecordID = e.ID
		e.Source = src
		e.Period = model.Period{}
		e.PeriodUnknown = true
		e.CreatedAt = e.CreatedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.InsertExhibition(ctx, e))
	}

	all, err := st.ListUnknownPeriod(ctx, RepairFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "unknown-a", all[0].ID)
	assert.Nil(t, all[0].Period.Start)

	naver, err := st.ListUnknownPeriod(ctx, RepairFilter{Sources: []string{"naver"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, naver, 1)
	assert.Equal(t, "unknown-a", naver[0].ID)

	now := time.Now().UTC()
	require.NoError(t, st.MarkRepairAttempted(ctx, "unknown-a", now))
	cutoff := now.Add(-24 * time.Hour)
	fresh, err := st.ListUnknownPeriod(ctx, RepairFilter{AttemptedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, "unknown-b", fresh[0].ID)
}

func TestSQLite_ResolvePeriod(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := testExhibition()
	e.Period = model.Period{}
	e.PeriodUnknown = true
	require.NoError(t, st.InsertExhibition(ctx, e))

	p := model.NewPeriod(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, st.ResolvePeriod(ctx, e.ID, *p, "5,000원"))

	got, err := st.GetExhibitionBySource(ctx, "culture", "PF-1")
	require.NoError(t, err)
	assert.False(t, got.PeriodUnknown)
	assert.Equal(t, "2024-06-30", got.Period.End.Format(time.DateOnly))
	assert.Equal(t, "5,000원", got.Price)

	require.NoError(t, st.ResolvePeriod(ctx, e.ID, *p, "무료"))
	got, err = st.GetExhibitionBySource(ctx, "culture", "PF-1")
	require.NoError(t, err)
	assert.Equal(t, "5,000원", got.Price, "price is only filled when empty")
}

// --- Venues ---

func TestSQLite_FillVenue_FillsOnlyEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.FillVenue(ctx, &model.Venue{Name: "리움미술관", Phone: "02-2014-6900"}))
	require.NoError(t, st.FillVenue(ctx, &model.Venue{
		Name:        "리움미술관",
		Address:     "서울 용산구 이태원로55길 60-16",
		Location:    &model.Location{Lat: 37.538, Lng: 126.999},
		Phone:       "000-0000",
		BarrierFree: true,
	}))
	require.NoError(t, st.FillVenue(ctx, &model.Venue{
		Name:     "리움미술관",
		Address:  "다른 주소",
		Location: &model.Location{Lat: 1, Lng: 2},
	}))

	v, err := st.GetVenue(ctx, "리움미술관")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "서울 용산구 이태원로55길 60-16", v.Address)
	assert.Equal(t, "02-2014-6900", v.Phone)
	assert.True(t, v.BarrierFree)
	require.NotNil(t, v.Location)
	assert.InDelta(t, 37.538, v.Location.Lat, 1e-9)

	missing, err := st.GetVenue(ctx, "없는 미술관")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_ListVenueNames(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.FillVenue(ctx, &model.Venue{Name: "리움미술관"}))
	require.NoError(t, st.InsertExhibition(ctx, testExhibition()))

	names, err := st.ListVenueNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"리움미술관", "국립현대미술관 (서울)"}, names)
}

// --- Quota ---

func TestSQLite_Quota_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cooldown := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveQuota(ctx, []model.QuotaState{
		{Provider: "naver", CallsToday: 7, DateKey: "2024-03-01", CooldownUntil: cooldown},
		{Provider: "culture", CallsToday: 1, DateKey: "2024-03-01"},
	}))
	require.NoError(t, st.SaveQuota(ctx, []model.QuotaState{
		{Provider: "naver", CallsToday: 9, DateKey: "2024-03-01", CooldownUntil: cooldown},
	}))

	states, err := st.LoadQuota(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "culture", states[0].Provider)
	assert.True(t, states[0].CooldownUntil.IsZero())
	assert.Equal(t, "naver", states[1].Provider)
	assert.Equal(t, 9, states[1].CallsToday)
	assert.True(t, cooldown.Equal(states[1].CooldownUntil))
}

// --- Job ledger ---

func TestSQLite_ClaimJobRun_RespectsCap(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.ClaimJobRun(ctx, "sync", "2024-03-01", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.ClaimJobRun(ctx, "sync", "2024-03-01", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.ClaimJobRun(ctx, "sync", "2024-03-01", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.ClaimJobRun(ctx, "sync", "2024-03-02", 2)
	require.NoError(t, err)
	assert.True(t, ok, "new day starts a new ledger row")

	r, err := st.GetJobRun(ctx, "sync", "2024-03-01")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 2, r.RunsToday)
}

func TestSQLite_ClaimJobRun_Unlimited(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for range 5 {
		ok, err := st.ClaimJobRun(ctx, "repair", "2024-03-01", 0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestSQLite_ClaimJobRun_ConcurrentAtMostOnce(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var claimed atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.ClaimJobRun(ctx, "sync", "2024-03-01", 1)
			if err == nil && ok {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed.Load())
}

func TestSQLite_RecordJobRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.ClaimJobRun(ctx, "sync", "2024-03-01", 1)
	require.NoError(t, err)
	require.True(t, ok)

	at := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)
	require.NoError(t, st.RecordJobRun(ctx, "sync", "2024-03-01", at, map[string]any{"created": 3}))

	r, err := st.GetJobRun(ctx, "sync", "2024-03-01")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 1, r.RunsToday)
	require.NotNil(t, r.LastRunAt)
	assert.True(t, at.Equal(*r.LastRunAt))
	assert.EqualValues(t, 3, r.Meta["created"])

	none, err := st.GetJobRun(ctx, "sync", "2024-03-02")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
