package provider

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/pkg/naver"
)

// NaverSearch turns search snippets about watched venues into candidates.
// Snippets carry no structured dates; the orchestrator extracts them.
type NaverSearch struct {
	client  naver.Client
	venues  []string
	kind    naver.Kind
	display int
}

// NewNaverSearch creates the adapter. Each watched venue costs one search.
func NewNaverSearch(client naver.Client, venues []string, kind naver.Kind, display int) *NaverSearch {
	if kind == "" {
		kind = naver.KindNews
	}
	return &NaverSearch{client: client, venues: venues, kind: kind, display: display}
}

// Name returns the source id.
func (n *NaverSearch) Name() string { return SourceNaver }

// FetchCandidates searches "<venue> 전시" for every watched venue, one
// request each. A venue whose search fails is skipped; the fetch fails only
// if all of them do or the budget runs out.
func (n *NaverSearch) FetchCandidates(ctx context.Context, call Call) ([]model.Candidate, error) {
	var (
		out     []model.Candidate
		lastErr error
		failed  int
	)
	for _, venue := range n.venues {
		var resp *naver.SearchResponse
		err := call(ctx, func(ctx context.Context) error {
			var err error
			resp, err = n.client.Search(ctx, naver.SearchRequest{
				Kind:    n.kind,
				Query:   venue + " 전시",
				Display: n.display,
				Sort:    "date",
			})
			return err
		})
		if err != nil {
			if stopFetch(ctx, err) {
				return out, eris.Wrapf(err, "naver: fetch stopped at %q", venue)
			}
			failed++
			lastErr = err
			zap.L().Warn("naver: venue search failed", zap.String("venue", venue), zap.Error(err))
			continue
		}
		for _, it := range resp.Items {
			title := snippetTitle(it.Title)
			if title == "" {
				continue
			}
			out = append(out, model.Candidate{
				Title:          title,
				RawVenueName:   venue,
				Description:    it.Description,
				Website:        it.Link,
				SourceID:       SourceNaver,
				SourceRecordID: it.Link,
			})
		}
	}
	if failed > 0 && failed == len(n.venues) {
		return nil, eris.Wrap(lastErr, "naver: all venue searches failed")
	}
	return out, nil
}

// LookupPeriodText returns the joined snippets of a title+venue search.
func (n *NaverSearch) LookupPeriodText(ctx context.Context, title, venue string) (string, error) {
	resp, err := n.client.Search(ctx, naver.SearchRequest{
		Kind:    n.kind,
		Query:   strings.TrimSpace(title + " " + venue),
		Display: 5,
	})
	if err != nil {
		return "", eris.Wrap(err, "naver: period lookup")
	}
	parts := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		parts = append(parts, it.Text())
	}
	return strings.Join(parts, "\n"), nil
}

var (
	// 「」, 『』, <> and "" usually wrap the exhibition name in press copy.
	quotedTitleRe = regexp.MustCompile(`[「『<"“]([^」』>"”]{2,60})[」』>"”]`)
	tagPrefixRe   = regexp.MustCompile(`^\s*\[[^\]]{1,12}\]\s*`)
)

// snippetTitle picks the exhibition name out of a headline.
func snippetTitle(headline string) string {
	if m := quotedTitleRe.FindStringSubmatch(headline); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(tagPrefixRe.ReplaceAllString(headline, ""))
}
