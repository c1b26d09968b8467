// Package merge reconciles provider candidates into the persisted
// exhibition set under a source-priority policy.
package merge

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/metrics"
	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/internal/store"
)

// Repository is the persisted exhibition set as seen by the engine.
type Repository interface {
	GetExhibitionBySource(ctx context.Context, source, recordID string) (*model.Exhibition, error)
	ExistsExhibitionByKey(ctx context.Context, titleKey, venueKey string, sources []string) (bool, error)
	InsertExhibition(ctx context.Context, e *model.Exhibition) error
	UpdateExhibition(ctx context.Context, e *model.Exhibition) error
	DeleteExhibition(ctx context.Context, id string) error
}

// Policy is the per-provider merge policy for one cycle.
type Policy struct {
	// SkipVenueKeys are venue keys owned by a higher-priority provider.
	SkipVenueKeys map[string]bool
	// PreferredSources shadow this source for identical (title, venue) keys.
	PreferredSources []string
	// MaxNewInserts caps inserts in this batch. Zero or less is unlimited.
	MaxNewInserts int
	// AllowUnknownPeriod treats period-unknown candidates as live.
	AllowUnknownPeriod bool
}

// Result counts merge outcomes for one batch.
type Result struct {
	Created   int  `json:"created"`
	Updated   int  `json:"updated"`
	Removed   int  `json:"removed"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
	Saturated bool `json:"saturated"`
}

type outcome string

const (
	outcomeCreated outcome = "created"
	outcomeUpdated outcome = "updated"
	outcomeRemoved outcome = "removed"
	outcomeSkipped outcome = "skipped"
	outcomeFailed  outcome = "failed"
)

func (r *Result) add(o outcome) {
	switch o {
	case outcomeCreated:
		r.Created++
	case outcomeUpdated:
		r.Updated++
	case outcomeRemoved:
		r.Removed++
	case outcomeSkipped:
		r.Skipped++
	case outcomeFailed:
		r.Failed++
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDFunc overrides the record ID generator.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithEnricher enables venue enrichment on insert and update.
func WithEnricher(en *Enricher) Option {
	return func(e *Engine) { e.enricher = en }
}

// Engine applies merge decisions. Merge calls are serialized so two
// candidates touching the same keys never race past the existence checks.
type Engine struct {
	repo     Repository
	enricher *Enricher
	now      func() time.Time
	newID    func() string
	log      *zap.Logger

	mu sync.Mutex
}

// NewEngine creates an Engine over repo.
func NewEngine(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:  repo,
		now:   time.Now,
		newID: uuid.NewString,
		log:   zap.L().With(zap.String("component", "merge")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ResetEnrichment lets venues skipped by the enricher in an earlier cycle
// be tried again. It is a no-op without an enricher.
func (e *Engine) ResetEnrichment() {
	if e.enricher != nil {
		e.enricher.Reset()
	}
}

// Merge reconciles one provider's batch. ref is the day liveness is judged
// against. Individual candidate failures are counted, not returned; the
// error is non-nil only when ctx ends mid-batch.
func (e *Engine) Merge(ctx context.Context, source string, candidates []model.Candidate, policy Policy, ref time.Time) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.log.With(zap.String("source", source))
	var res Result
	seen := make(map[string]bool, len(candidates))
	seenRecords := make(map[string]bool, len(candidates))

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "merge: batch interrupted")
		}
		if policy.MaxNewInserts > 0 && res.Created >= policy.MaxNewInserts {
			rest := len(candidates) - i
			res.Skipped += rest
			res.Saturated = true
			metrics.MergeOutcomes.WithLabelValues(source, string(outcomeSkipped)).Add(float64(rest))
			log.Info("merge: insert ceiling reached", zap.Int("ceiling", policy.MaxNewInserts), zap.Int("skipped", rest))
			break
		}

		c := &candidates[i]
		o, reason, err := e.mergeOne(ctx, source, c, policy, ref, seen, seenRecords)
		if err != nil {
			log.Warn("merge: candidate failed",
				zap.String("record_id", c.SourceRecordID),
				zap.String("title", c.Title),
				zap.Error(err),
			)
		} else if o == outcomeSkipped {
			log.Debug("merge: candidate skipped",
				zap.String("record_id", c.SourceRecordID),
				zap.String("reason", reason),
			)
		}
		res.add(o)
		metrics.MergeOutcomes.WithLabelValues(source, string(o)).Inc()
	}

	log.Info("merge: batch complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("removed", res.Removed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Bool("saturated", res.Saturated),
	)
	return res, nil
}

func (e *Engine) mergeOne(
	ctx context.Context,
	source string,
	c *model.Candidate,
	policy Policy,
	ref time.Time,
	seen, seenRecords map[string]bool,
) (outcome, string, error) {
	if c.Title == "" || c.Venue == "" || c.SourceRecordID == "" {
		return outcomeSkipped, "missing title, venue or record id", nil
	}

	titleKey, venueKey := TitleKey(c.Title), VenueKey(c.Venue)
	id := identity(titleKey, venueKey)
	if seen[id] || seenRecords[c.SourceRecordID] {
		return outcomeSkipped, "duplicate in batch", nil
	}
	seen[id] = true
	seenRecords[c.SourceRecordID] = true

	if policy.SkipVenueKeys[venueKey] {
		return outcomeSkipped, "venue owned by higher-priority source", nil
	}

	if len(policy.PreferredSources) > 0 && !slices.Contains(policy.PreferredSources, source) {
		shadowed, err := e.repo.ExistsExhibitionByKey(ctx, titleKey, venueKey, policy.PreferredSources)
		if err != nil {
			return outcomeFailed, "", eris.Wrap(err, "merge: check preferred sources")
		}
		if shadowed {
			return outcomeSkipped, "preferred source owns exhibition", nil
		}
	}

	existing, err := e.repo.GetExhibitionBySource(ctx, source, c.SourceRecordID)
	if err != nil {
		return outcomeFailed, "", eris.Wrap(err, "merge: get existing")
	}

	known := c.PeriodKnown && c.Period != nil
	live := policy.AllowUnknownPeriod
	if known {
		live = c.Period.LiveOn(ref)
	}
	if !live {
		if existing != nil && known {
			if err := e.repo.DeleteExhibition(ctx, existing.ID); err != nil {
				return outcomeFailed, "", eris.Wrap(err, "merge: delete ended")
			}
			return outcomeRemoved, "", nil
		}
		return outcomeSkipped, "not live", nil
	}

	var venue *model.Venue
	if e.enricher != nil {
		venue = e.enricher.Enrich(ctx, c.Venue)
	}

	now := e.now()
	if existing != nil {
		applyCandidate(existing, c, titleKey, venueKey, venue)
		existing.UpdatedAt = now
		if err := e.repo.UpdateExhibition(ctx, existing); err != nil {
			return outcomeFailed, "", eris.Wrap(err, "merge: update")
		}
		return outcomeUpdated, "", nil
	}

	rec := &model.Exhibition{
		ID:             e.newID(),
		Source:         source,
		SourceRecordID: c.SourceRecordID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyCandidate(rec, c, titleKey, venueKey, venue)
	if err := e.repo.InsertExhibition(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return outcomeSkipped, "already exists", nil
		}
		return outcomeFailed, "", eris.Wrap(err, "merge: insert")
	}
	return outcomeCreated, "", nil
}

// applyCandidate copies the mutable candidate fields onto rec. A known
// period is never replaced by an unknown one, empty candidate fields never
// clear stored ones, and review stats are left alone.
func applyCandidate(rec *model.Exhibition, c *model.Candidate, titleKey, venueKey string, venue *model.Venue) {
	rec.Title = c.Title
	rec.TitleKey = titleKey
	rec.VenueKey = venueKey
	if rec.Venue.Name != c.Venue {
		rec.Venue = model.VenueRef{Name: c.Venue}
	}
	if venue != nil {
		if rec.Venue.Address == "" {
			rec.Venue.Address = venue.Address
		}
		if rec.Venue.Location == nil {
			rec.Venue.Location = venue.Location
		}
		rec.BarrierFree = rec.BarrierFree || venue.BarrierFree
	}

	if c.PeriodKnown && c.Period != nil {
		rec.Period = *c.Period
		rec.PeriodUnknown = false
	} else if rec.Period.Start == nil && rec.Period.End == nil && !rec.Period.Permanent {
		rec.PeriodUnknown = true
	}

	if c.Price != "" {
		rec.Price = c.Price
	}
	if c.Website != "" {
		rec.Website = c.Website
	}
	if c.Description != "" {
		rec.Description = c.Description
	}
	if len(c.Images) > 0 {
		rec.Images = c.Images
	}
}
