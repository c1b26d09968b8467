package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/live-cpu/exhibition-sub000/internal/config"
	"github.com/live-cpu/exhibition-sub000/internal/ingest"
	"github.com/live-cpu/exhibition-sub000/internal/merge"
	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/internal/store"
	"github.com/live-cpu/exhibition-sub000/pkg/culture"
	culturemocks "github.com/live-cpu/exhibition-sub000/pkg/culture/mocks"
	"github.com/live-cpu/exhibition-sub000/pkg/naver"
	navermocks "github.com/live-cpu/exhibition-sub000/pkg/naver/mocks"
)

type testServer struct {
	handler http.Handler
	app     *app
	store   store.Store
}

func newTestServer(t *testing.T, c *config.Config, cl clients) *testServer {
	t.Helper()
	st := testStore(t, c)
	a, err := buildApp(st, c, cl)
	require.NoError(t, err)
	return &testServer{handler: newRouter(a, c), app: a, store: st}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestServe_Health(t *testing.T) {
	s := newTestServer(t, testConfig(t), clients{})

	rec := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestServe_Metrics(t *testing.T) {
	s := newTestServer(t, testConfig(t), clients{})

	rec := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServe_CORSPreflight(t *testing.T) {
	s := newTestServer(t, testConfig(t), clients{})

	req := httptest.NewRequest(http.MethodOptions, "/sync", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServe_SyncMergesCultureFeed(t *testing.T) {
	c := testConfig(t)
	cc := culturemocks.NewMockClient(t)
	cc.On("ListExhibitions", mock.Anything, 1, 100).Return(&culture.ListResponse{
		TotalCount: 1,
		Page:       1,
		PerPage:    100,
		Items: []culture.Item{{
			Seq:       "C-1",
			Title:     "올해의 작가상 2024",
			StartDate: "20200101",
			EndDate:   "20991231",
			Place:     "국립현대미술관 서울관",
			Price:     "무료",
		}},
	}, nil).Once()

	s := newTestServer(t, c, clients{Culture: cc})

	rec := s.do(t, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep ingest.CycleReport
	decodeBody(t, rec, &rep)
	require.Len(t, rep.Providers, 1)
	assert.Equal(t, "culture", rep.Providers[0].Provider)
	assert.Equal(t, ingest.StatusOK, rep.Providers[0].Status)
	assert.Equal(t, 1, rep.Providers[0].Fetched)
	assert.Equal(t, 1, rep.Providers[0].Created)

	got, err := s.store.GetExhibitionBySource(context.Background(), "culture", "C-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "올해의 작가상 2024", got.Title)
	assert.False(t, got.PeriodUnknown)

	rec = s.do(t, http.MethodGet, "/quota", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var q struct {
		Providers []model.QuotaState `json:"providers"`
	}
	decodeBody(t, rec, &q)
	calls := make(map[string]int)
	for _, st := range q.Providers {
		calls[st.Provider] = st.CallsToday
	}
	assert.Equal(t, 1, calls["culture"])
}

func TestServe_SyncInsertCeilingFromBody(t *testing.T) {
	c := testConfig(t)
	cc := culturemocks.NewMockClient(t)
	cc.On("ListExhibitions", mock.Anything, 1, 100).Return(&culture.ListResponse{
		TotalCount: 2,
		Page:       1,
		PerPage:    100,
		Items: []culture.Item{
			{Seq: "C-1", Title: "첫 번째 전시", StartDate: "20200101", EndDate: "20991231", Place: "대림미술관"},
			{Seq: "C-2", Title: "두 번째 전시", StartDate: "20200101", EndDate: "20991231", Place: "대림미술관"},
		},
	}, nil).Once()

	s := newTestServer(t, c, clients{Culture: cc})

	rec := s.do(t, http.MethodPost, "/sync", `{"max_new_inserts": 1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep ingest.CycleReport
	decodeBody(t, rec, &rep)
	require.Len(t, rep.Providers, 1)
	assert.Equal(t, 1, rep.Providers[0].Created)
	assert.True(t, rep.Providers[0].Saturated)
}

func TestServe_SyncInvalidBody(t *testing.T) {
	s := newTestServer(t, testConfig(t), clients{})

	rec := s.do(t, http.MethodPost, "/sync", `{"max_new_inserts":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "invalid request body", body["error"])
}

func TestServe_RepairResolvesPeriod(t *testing.T) {
	c := testConfig(t)
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -10)
	end := now.AddDate(0, 0, 40)
	text := fmt.Sprintf("전시기간 %s~%s 관람료 무료", start.Format("2006.01.02"), end.Format("2006.01.02"))

	nc := navermocks.NewMockClient(t)
	nc.On("Search", mock.Anything, mock.MatchedBy(func(req naver.SearchRequest) bool {
		return req.Display == 5
	})).Return(&naver.SearchResponse{
		Items: []naver.Item{{Title: "빛의 조각들", Description: text}},
	}, nil).Once()

	c.Providers["naver"] = config.ProviderConfig{Enabled: true, PerRun: 5, PerDay: 50, Priority: 2}
	s := newTestServer(t, c, clients{Naver: nc})

	require.NoError(t, s.store.InsertExhibition(context.Background(), &model.Exhibition{
		ID:             "ex-1",
		Title:          "빛의 조각들",
		TitleKey:       merge.TitleKey("빛의 조각들"),
		VenueKey:       merge.VenueKey("대림미술관"),
		Venue:          model.VenueRef{Name: "대림미술관"},
		PeriodUnknown:  true,
		Source:         "naver",
		SourceRecordID: "n-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	rec := s.do(t, http.MethodPost, "/repair", `{"force": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep ingest.RepairReport
	decodeBody(t, rec, &rep)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Attempted)
	assert.Equal(t, 1, rep.Resolved)

	got, err := s.store.GetExhibitionBySource(context.Background(), "naver", "n-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.PeriodUnknown)
	require.NotNil(t, got.Period.End)
	assert.Equal(t, end.Format(time.DateOnly), got.Period.End.Format(time.DateOnly))
	assert.Equal(t, "무료", got.Price)
}

func TestServe_JobLifecycle(t *testing.T) {
	s := newTestServer(t, testConfig(t), clients{})

	rec := s.do(t, http.MethodGet, "/jobs/repair", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job map[string]any
	decodeBody(t, rec, &job)
	assert.Equal(t, true, job["can_run_today"])

	rec = s.do(t, http.MethodPost, "/jobs/repair/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &job)
	assert.Equal(t, "ran", job["outcome"])

	rec = s.do(t, http.MethodGet, "/jobs/repair", "")
	decodeBody(t, rec, &job)
	assert.Equal(t, false, job["can_run_today"])

	rec = s.do(t, http.MethodPost, "/jobs/repair/run", "")
	decodeBody(t, rec, &job)
	assert.Equal(t, "capped", job["outcome"])

	rec = s.do(t, http.MethodPost, "/jobs/repair/run?force=true", "")
	decodeBody(t, rec, &job)
	assert.Equal(t, "ran", job["outcome"])

	rec = s.do(t, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Date string           `json:"date"`
		Jobs []map[string]any `json:"jobs"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, s.app.Scheduler.DateKey(), list.Date)
	require.Len(t, list.Jobs, 2)
	assert.Equal(t, "sync", list.Jobs[0]["job"])
	assert.EqualValues(t, 0, list.Jobs[0]["runs_today"])
	assert.Equal(t, "repair", list.Jobs[1]["job"])
	assert.EqualValues(t, 2, list.Jobs[1]["runs_today"])
}

func TestServe_UnknownJob(t *testing.T) {
	s := newTestServer(t, testConfig(t), clients{})

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/jobs/reindex", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/jobs/reindex/run", "").Code)
}
