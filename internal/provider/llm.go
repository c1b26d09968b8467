package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/pkg/anthropic"
)

const (
	defaultLLMModel     = "claude-haiku-4-5"
	defaultLLMMaxTokens = 2048
)

const llmSearchPrompt = `You list current and upcoming art exhibitions at a given venue in Korea.
Reply with a JSON array only. Each element has the keys:
"title", "venue", "start_date", "end_date", "price", "website", "description".
Dates are YYYY-MM-DD. Use "" for anything you are not sure of. Never guess dates.`

const llmPeriodPrompt = `You report the run period of one exhibition.
Reply with one line in the form YYYY.MM.DD~YYYY.MM.DD followed by the word 개막,
or the single word 상설 for a permanent exhibition, or the word unknown.`

// recordNamespace scopes deterministic record ids for LLM candidates.
var recordNamespace = uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427")

// LLMSearch is the fallback source: it asks a model for the programme of
// each watched venue. Results are only trusted for dates it states exactly.
type LLMSearch struct {
	client    anthropic.Client
	venues    []string
	model     string
	maxTokens int64
	loc       *time.Location
}

// NewLLMSearch creates the adapter.
func NewLLMSearch(client anthropic.Client, venues []string, model string, loc *time.Location) *LLMSearch {
	if model == "" {
		model = defaultLLMModel
	}
	if loc == nil {
		loc = time.UTC
	}
	return &LLMSearch{client: client, venues: venues, model: model, maxTokens: defaultLLMMaxTokens, loc: loc}
}

// Name returns the source id.
func (l *LLMSearch) Name() string { return SourceLLM }

type llmExhibition struct {
	Title       string `json:"title"`
	Venue       string `json:"venue"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Price       string `json:"price"`
	Website     string `json:"website"`
	Description string `json:"description"`
}

// FetchCandidates asks for each watched venue in turn, one request each.
func (l *LLMSearch) FetchCandidates(ctx context.Context, call Call) ([]model.Candidate, error) {
	var out []model.Candidate
	for _, venue := range l.venues {
		var resp *anthropic.MessageResponse
		err := call(ctx, func(ctx context.Context) error {
			var err error
			resp, err = l.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     l.model,
				MaxTokens: l.maxTokens,
				System:    anthropic.BuildCachedSystemBlocks(llmSearchPrompt),
				Messages:  []anthropic.Message{{Role: "user", Content: "Venue: " + venue}},
			})
			return err
		})
		if err != nil {
			return out, eris.Wrapf(err, "llm: search venue %q", venue)
		}
		resp.Usage.LogUsage(l.model, "exhibition_search")

		var items []llmExhibition
		if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &items); err != nil {
			return out, eris.Wrapf(err, "llm: parse response for %q", venue)
		}
		for _, it := range items {
			if c, ok := l.toCandidate(it, venue); ok {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (l *LLMSearch) toCandidate(it llmExhibition, venue string) (model.Candidate, bool) {
	title := strings.TrimSpace(it.Title)
	if title == "" {
		return model.Candidate{}, false
	}
	if v := strings.TrimSpace(it.Venue); v != "" {
		venue = v
	}
	c := model.Candidate{
		Title:          title,
		RawVenueName:   venue,
		Price:          strings.TrimSpace(it.Price),
		Website:        strings.TrimSpace(it.Website),
		Description:    strings.TrimSpace(it.Description),
		SourceID:       SourceLLM,
		SourceRecordID: uuid.NewSHA1(recordNamespace, []byte(title+"\x00"+venue)).String(),
	}
	start, errS := time.ParseInLocation(time.DateOnly, it.StartDate, l.loc)
	end, errE := time.ParseInLocation(time.DateOnly, it.EndDate, l.loc)
	if errS == nil && errE == nil && !end.Before(start) {
		c.Period = model.NewPeriod(start, end)
		c.PeriodKnown = true
	}
	return c, true
}

// LookupPeriodText asks for the period of one exhibition in a form the
// period extractor reads as grade A.
func (l *LLMSearch) LookupPeriodText(ctx context.Context, title, venue string) (string, error) {
	resp, err := l.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     l.model,
		MaxTokens: 64,
		System:    anthropic.BuildCachedSystemBlocks(llmPeriodPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: fmt.Sprintf("Exhibition: %s\nVenue: %s", title, venue)}},
	})
	if err != nil {
		return "", eris.Wrap(err, "llm: period lookup")
	}
	resp.Usage.LogUsage(l.model, "period_lookup")
	text := strings.TrimSpace(resp.Text())
	if strings.EqualFold(text, "unknown") {
		return "", nil
	}
	return text, nil
}
