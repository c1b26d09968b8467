package provider

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/live-cpu/exhibition-sub000/pkg/jina"
)

const (
	webResults      = 3
	webContentRunes = 2000
)

// WebSearch is a PeriodLookup over general web search. Result pages are
// often the venue's own listing, which states the period plainly.
type WebSearch struct {
	client jina.Client
}

// NewWebSearch creates the web period lookup.
func NewWebSearch(client jina.Client) *WebSearch {
	return &WebSearch{client: client}
}

// Name is the quota key of the lookup.
func (w *WebSearch) Name() string { return SourceWeb }

// LookupPeriodText searches for the exhibition and returns the top results'
// descriptions and leading page content.
func (w *WebSearch) LookupPeriodText(ctx context.Context, title, venue string) (string, error) {
	query := strings.TrimSpace(title + " " + venue + " 전시기간")
	resp, err := w.client.Search(ctx, query)
	if err != nil {
		return "", eris.Wrap(err, "web: period lookup")
	}

	var parts []string
	for i, r := range resp.Data {
		if i == webResults {
			break
		}
		parts = append(parts, r.Title, r.Description, headRunes(r.Content, webContentRunes))
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

func headRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}
