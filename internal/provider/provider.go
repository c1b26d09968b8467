// Package provider adapts external exhibition sources to candidate lists.
//
// Adapters are thin: they translate one provider's payload into
// model.Candidate values and leave venue resolution, period extraction,
// quota accounting and merging to the ingest orchestrator.
package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/internal/resilience"
)

// Source ids.
const (
	SourceCulture = "culture"
	SourceNaver   = "naver"
	SourceLLM     = "llm"
	SourceKakao   = "kakao"
	SourceWeb     = "jina"
)

// ErrQuotaDenied is returned by a Call when the provider has no budget left
// or is cooling down. The request was not sent.
var ErrQuotaDenied = eris.New("provider: quota unavailable")

// Call sends one outbound provider request. The orchestrator supplies it,
// so every request an adapter makes is charged and paced on its own.
type Call func(ctx context.Context, req func(ctx context.Context) error) error

// Direct runs req with no budget or pacing.
func Direct(ctx context.Context, req func(ctx context.Context) error) error {
	return req(ctx)
}

// Adapter fetches one provider's candidates for a sync cycle. Each request
// goes through call. On error the candidates gathered so far are returned
// with it.
type Adapter interface {
	Name() string
	FetchCandidates(ctx context.Context, call Call) ([]model.Candidate, error)
}

// stopFetch reports whether err ends the whole fetch rather than one
// request: the budget is gone, the provider is throttling, or ctx is done.
func stopFetch(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrQuotaDenied) {
		return true
	}
	_, throttled := resilience.AsThrottled(err)
	return throttled
}

// PeriodLookup returns free text likely to mention the run period of a
// known exhibition. An empty string means nothing was found.
type PeriodLookup interface {
	Name() string
	LookupPeriodText(ctx context.Context, title, venue string) (string, error)
}

// cleanJSON extracts the JSON payload from a model response that may carry
// markdown fences or prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	open, closing := "{", "}"
	if i := strings.IndexAny(text, "[{"); i >= 0 && text[i] == '[' {
		open, closing = "[", "]"
	}
	start := strings.Index(text, open)
	end := strings.LastIndex(text, closing)
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
