package provider

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/pkg/culture"
)

// Culture reads the public exhibition feed. Its dates are structured, so
// candidates arrive with PeriodKnown set whenever both dates parse.
type Culture struct {
	client   culture.Client
	loc      *time.Location
	perPage  int
	maxPages int
}

// NewCulture creates the feed adapter. maxPages bounds one fetch.
func NewCulture(client culture.Client, loc *time.Location, perPage, maxPages int) *Culture {
	if loc == nil {
		loc = time.UTC
	}
	if maxPages <= 0 {
		maxPages = 10
	}
	return &Culture{client: client, loc: loc, perPage: perPage, maxPages: maxPages}
}

// Name returns the source id.
func (c *Culture) Name() string { return SourceCulture }

// FetchCandidates pages through the feed until it runs out or maxPages is
// hit. Each page is one request.
func (c *Culture) FetchCandidates(ctx context.Context, call Call) ([]model.Candidate, error) {
	var out []model.Candidate
	for page := 1; page <= c.maxPages; page++ {
		var resp *culture.ListResponse
		err := call(ctx, func(ctx context.Context) error {
			var err error
			resp, err = c.client.ListExhibitions(ctx, page, c.perPage)
			return err
		})
		if err != nil {
			if len(out) > 0 && !stopFetch(ctx, err) {
				zap.L().Warn("culture: stopping at failed page",
					zap.Int("page", page), zap.Int("fetched", len(out)), zap.Error(err))
				return out, nil
			}
			return out, eris.Wrapf(err, "culture: list page %d", page)
		}
		for _, it := range resp.Items {
			out = append(out, c.toCandidate(it))
		}
		if !resp.HasMore() {
			break
		}
	}
	return out, nil
}

func (c *Culture) toCandidate(it culture.Item) model.Candidate {
	cand := model.Candidate{
		Title:          strings.TrimSpace(it.Title),
		RawVenueName:   strings.TrimSpace(it.Place),
		Price:          strings.TrimSpace(it.Price),
		Description:    strings.TrimSpace(it.Description),
		Website:        it.URL,
		SourceID:       SourceCulture,
		SourceRecordID: it.Seq,
	}
	if it.Thumbnail != "" {
		cand.Images = []string{it.Thumbnail}
	}
	if start, end, ok := it.Dates(c.loc); ok {
		cand.Period = model.NewPeriod(start, end)
		cand.PeriodKnown = true
	}
	return cand
}
