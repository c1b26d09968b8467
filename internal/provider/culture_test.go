package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/live-cpu/exhibition-sub000/pkg/culture"
	culturemocks "github.com/live-cpu/exhibition-sub000/pkg/culture/mocks"
)

func TestCulture_FetchCandidates_Pages(t *testing.T) {
	client := culturemocks.NewMockClient(t)
	client.On("ListExhibitions", mock.Anything, 1, 2).Return(&culture.ListResponse{
		TotalCount: 3, Page: 1, PerPage: 2,
		Items: []culture.Item{
			{Seq: "PF-1", Title: " Light and Space ", Place: "국립현대미술관 서울관", StartDate: "20240301", EndDate: "20240531", Price: "무료", Thumbnail: "https://img/1.jpg"},
			{Seq: "PF-2", Title: "No Dates", Place: "리움미술관"},
		},
	}, nil).Once()
	client.On("ListExhibitions", mock.Anything, 2, 2).Return(&culture.ListResponse{
		TotalCount: 3, Page: 2, PerPage: 2,
		Items: []culture.Item{{Seq: "PF-3", Title: "Third", Place: "아트선재센터", StartDate: "20240401", EndDate: "20240430"}},
	}, nil).Once()

	loc := time.FixedZone("KST", 9*3600)
	got, err := NewCulture(client, loc, 2, 5).FetchCandidates(context.Background(), Direct)
	require.NoError(t, err)
	require.Len(t, got, 3)

	first := got[0]
	assert.Equal(t, "Light and Space", first.Title)
	assert.Equal(t, "국립현대미술관 서울관", first.RawVenueName)
	assert.Equal(t, SourceCulture, first.SourceID)
	assert.Equal(t, "PF-1", first.SourceRecordID)
	assert.True(t, first.PeriodKnown)
	require.NotNil(t, first.Period)
	assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, loc), *first.Period.End)
	assert.Equal(t, []string{"https://img/1.jpg"}, first.Images)

	assert.False(t, got[1].PeriodKnown)
	assert.Nil(t, got[1].Period)
}

func TestCulture_FetchCandidates_FirstPageFails(t *testing.T) {
	client := culturemocks.NewMockClient(t)
	client.On("ListExhibitions", mock.Anything, 1, 10).Return(nil, errors.New("boom")).Once()

	_, err := NewCulture(client, nil, 10, 3).FetchCandidates(context.Background(), Direct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list page 1")
}

func TestCulture_FetchCandidates_KeepsEarlierPages(t *testing.T) {
	client := culturemocks.NewMockClient(t)
	client.On("ListExhibitions", mock.Anything, 1, 1).Return(&culture.ListResponse{
		TotalCount: 5, Page: 1, PerPage: 1, Items: []culture.Item{{Seq: "1", Title: "A", Place: "B"}},
	}, nil).Once()
	client.On("ListExhibitions", mock.Anything, 2, 1).Return(nil, errors.New("boom")).Once()

	got, err := NewCulture(client, nil, 1, 3).FetchCandidates(context.Background(), Direct)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCulture_MaxPages(t *testing.T) {
	client := culturemocks.NewMockClient(t)
	client.On("ListExhibitions", mock.Anything, mock.AnythingOfType("int"), 1).Return(&culture.ListResponse{
		TotalCount: 100, PerPage: 1, Page: 1, Items: []culture.Item{{Seq: "x", Title: "A", Place: "B"}},
	}, nil).Times(2)

	got, err := NewCulture(client, nil, 1, 2).FetchCandidates(context.Background(), Direct)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCulture_OneRequestPerPage(t *testing.T) {
	client := culturemocks.NewMockClient(t)
	client.On("ListExhibitions", mock.Anything, mock.AnythingOfType("int"), 1).Return(&culture.ListResponse{
		TotalCount: 100, PerPage: 1, Page: 1, Items: []culture.Item{{Seq: "x", Title: "A", Place: "B"}},
	}, nil).Times(2)

	call := &countingCall{budget: 2}
	got, err := NewCulture(client, nil, 1, 5).FetchCandidates(context.Background(), call.Call)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaDenied)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, call.sent)
	assert.Equal(t, 1, call.denied)
}
