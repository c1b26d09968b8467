package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/live-cpu/exhibition-sub000/pkg/anthropic"
	anthropicmocks "github.com/live-cpu/exhibition-sub000/pkg/anthropic/mocks"
)

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

func TestLLMSearch_FetchCandidates(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == defaultLLMModel && r.Messages[0].Content == "Venue: 리움미술관" &&
			len(r.System) == 1 && r.System[0].CacheControl != nil
	})).Return(textResponse("```json\n"+`[
		{"title":"Light and Space","venue":"","start_date":"2024-03-01","end_date":"2024-05-31","price":"무료"},
		{"title":"Unknown Dates","venue":"Leeum","start_date":"","end_date":""},
		{"title":"","venue":"x"}
	]`+"\n```"), nil).Once()

	got, err := NewLLMSearch(client, []string{"리움미술관"}, "", nil).FetchCandidates(context.Background(), Direct)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Light and Space", got[0].Title)
	assert.Equal(t, "리움미술관", got[0].RawVenueName)
	assert.True(t, got[0].PeriodKnown)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *got[0].Period.Start)
	assert.Equal(t, SourceLLM, got[0].SourceID)
	assert.NotEmpty(t, got[0].SourceRecordID)

	assert.Equal(t, "Leeum", got[1].RawVenueName)
	assert.False(t, got[1].PeriodKnown)
}

func TestLLMSearch_RecordIDStable(t *testing.T) {
	l := NewLLMSearch(nil, nil, "", nil)
	a, _ := l.toCandidate(llmExhibition{Title: "T"}, "V")
	b, _ := l.toCandidate(llmExhibition{Title: "T"}, "V")
	c, _ := l.toCandidate(llmExhibition{Title: "T"}, "W")
	assert.Equal(t, a.SourceRecordID, b.SourceRecordID)
	assert.NotEqual(t, a.SourceRecordID, c.SourceRecordID)
}

func TestLLMSearch_BadJSON(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("sorry, no idea"), nil).Once()

	_, err := NewLLMSearch(client, []string{"A"}, "m", nil).FetchCandidates(context.Background(), Direct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
}

func TestLLMSearch_LookupPeriodText(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(" 2024.03.01~2024.05.31 개막\n"), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("unknown"), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()

	l := NewLLMSearch(client, nil, "", nil)
	text, err := l.LookupPeriodText(context.Background(), "T", "V")
	require.NoError(t, err)
	assert.Equal(t, "2024.03.01~2024.05.31 개막", text)

	text, err = l.LookupPeriodText(context.Background(), "T", "V")
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = l.LookupPeriodText(context.Background(), "T", "V")
	assert.Error(t, err)
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `[{"a":1}]`, cleanJSON("```json\n[{\"a\":1}]\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON(`Here: {"a":1} done`))
	assert.Equal(t, `[1,2]`, cleanJSON(`list [1,2]`))
}
