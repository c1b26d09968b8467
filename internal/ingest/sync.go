package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/live-cpu/exhibition-sub000/internal/extract"
	"github.com/live-cpu/exhibition-sub000/internal/merge"
	"github.com/live-cpu/exhibition-sub000/internal/metrics"
	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/internal/provider"
	"github.com/live-cpu/exhibition-sub000/internal/resilience"
)

// SyncOptions tunes one sync cycle.
type SyncOptions struct {
	// MaxNewInserts caps inserts per provider batch. Zero or less is unlimited.
	MaxNewInserts int
}

// Fetch statuses.
const (
	StatusOK        = "ok"
	StatusQuota     = "quota_unavailable"
	StatusThrottled = "throttled"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// ProviderReport is the outcome of one provider in one cycle.
type ProviderReport struct {
	Provider string `json:"provider"`
	Status   string `json:"status"`
	Fetched  int    `json:"fetched"`
	Error    string `json:"error,omitempty"`
	merge.Result
}

// CycleReport summarizes a sync cycle.
type CycleReport struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Providers  []ProviderReport `json:"providers"`
}

// Totals sums merge outcomes across providers.
func (r *CycleReport) Totals() merge.Result {
	var t merge.Result
	for _, p := range r.Providers {
		t.Created += p.Created
		t.Updated += p.Updated
		t.Removed += p.Removed
		t.Skipped += p.Skipped
		t.Failed += p.Failed
		t.Saturated = t.Saturated || p.Saturated
	}
	return t
}

// Meta flattens the report for the job ledger.
func (r *CycleReport) Meta() map[string]any {
	t := r.Totals()
	var failed []string
	for _, p := range r.Providers {
		if p.Status != StatusOK {
			failed = append(failed, p.Provider+":"+p.Status)
		}
	}
	meta := map[string]any{
		"created":   t.Created,
		"updated":   t.Updated,
		"removed":   t.Removed,
		"skipped":   t.Skipped,
		"failed":    t.Failed,
		"saturated": t.Saturated,
	}
	if len(failed) > 0 {
		meta["provider_errors"] = strings.Join(failed, ",")
	}
	return meta
}

type fetchResult struct {
	candidates []model.Candidate
	status     string
	err        error
}

// RunSyncCycle fetches every provider concurrently and merges the batches
// sequentially in priority order. A failing provider contributes nothing
// and never aborts the cycle; the error is non-nil only when ctx ends.
func (s *Service) RunSyncCycle(ctx context.Context, opts SyncOptions) (*CycleReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	report := &CycleReport{StartedAt: s.now()}
	log := s.log.With(zap.String("op", "sync"))

	s.governor.ResetRun()
	if err := s.governor.Load(ctx, s.store); err != nil {
		log.Warn("quota state unavailable, using in-memory counters", zap.Error(err))
	}
	defer s.flushQuota(ctx)
	s.engine.ResetEnrichment()

	if names, err := s.store.ListVenueNames(ctx); err != nil {
		log.Warn("known venue names unavailable", zap.Error(err))
	} else {
		s.resolver.Learn(names...)
	}

	results := s.fetchAll(ctx)

	ref := s.refDay()
	owned := make(map[string]bool)
	var higher []string
	for i, p := range s.providers {
		name := p.Name()
		res := results[i]
		pr := ProviderReport{Provider: name, Status: res.status, Fetched: len(res.candidates)}
		if res.err != nil {
			pr.Error = res.err.Error()
		}

		if len(res.candidates) > 0 {
			batch := s.prepare(res.candidates, ref)
			policy := merge.Policy{
				SkipVenueKeys:      copySet(owned),
				PreferredSources:   append([]string(nil), higher...),
				MaxNewInserts:      opts.MaxNewInserts,
				AllowUnknownPeriod: p.AllowUnknownPeriod,
			}
			mr, err := s.engine.Merge(ctx, name, batch, policy, ref)
			pr.Result = mr
			if err != nil {
				report.Providers = append(report.Providers, pr)
				report.FinishedAt = s.now()
				return report, eris.Wrapf(err, "ingest: merge %s", name)
			}
			if p.OwnsVenues {
				for _, c := range batch {
					if c.Venue != "" {
						owned[merge.VenueKey(c.Venue)] = true
					}
				}
			}
		}
		higher = append(higher, name)

		log.Info("provider merged",
			zap.String("provider", name),
			zap.String("status", pr.Status),
			zap.Int("fetched", pr.Fetched),
			zap.Int("created", pr.Created),
			zap.Int("updated", pr.Updated),
			zap.Int("removed", pr.Removed),
			zap.Int("skipped", pr.Skipped),
			zap.Int("failed", pr.Failed),
			zap.Bool("saturated", pr.Saturated),
		)
		report.Providers = append(report.Providers, pr)
	}

	report.FinishedAt = s.now()
	t := report.Totals()
	log.Info("sync cycle complete",
		zap.Int("providers", len(report.Providers)),
		zap.Int("created", t.Created),
		zap.Int("updated", t.Updated),
		zap.Int("removed", t.Removed),
		zap.Int("skipped", t.Skipped),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "ingest: sync interrupted")
	}
	return report, nil
}

// fetchAll runs one bounded fetch per provider. Results line up with
// s.providers.
func (s *Service) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(s.providers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range s.providers {
		g.Go(func() error {
			results[i] = s.fetchOne(gctx, p)
			return nil // one provider never aborts the others
		})
	}
	_ = g.Wait()
	return results
}

// fetchOne runs one adapter fetch. Candidates gathered before a quota
// denial, throttle or failure are kept; a canceled fetch keeps nothing.
// Quota state is saved as soon as the fetch ends.
func (s *Service) fetchOne(ctx context.Context, p Provider) fetchResult {
	name := p.Name()
	log := s.log.With(zap.String("provider", name))

	cands, err := p.Adapter.FetchCandidates(ctx, s.providerCall(name))
	s.flushQuota(ctx)

	switch {
	case err == nil:
		return fetchResult{candidates: cands, status: StatusOK}
	case ctx.Err() != nil:
		return fetchResult{status: StatusCanceled, err: err}
	case errors.Is(err, provider.ErrQuotaDenied):
		log.Info("fetch stopped, quota unavailable", zap.Int("fetched", len(cands)))
		metrics.FetchFailures.WithLabelValues(name, StatusQuota).Inc()
		return fetchResult{candidates: cands, status: StatusQuota}
	}

	if _, ok := resilience.AsThrottled(err); ok {
		log.Warn("provider throttled, cooling down",
			zap.Time("until", s.governor.CooldownUntil(name)), zap.Int("fetched", len(cands)))
		metrics.FetchFailures.WithLabelValues(name, StatusThrottled).Inc()
		return fetchResult{candidates: cands, status: StatusThrottled, err: err}
	}
	log.Warn("fetch failed", zap.Int("fetched", len(cands)), zap.Error(err))
	metrics.FetchFailures.WithLabelValues(name, StatusFailed).Inc()
	return fetchResult{candidates: cands, status: StatusFailed, err: err}
}

// providerCall is the per-request policy handed to adapters: every attempt
// costs one quota unit, waits for the pacer, runs under the call timeout
// and is retried while transient. A throttle sets the provider cooldown,
// which denies the adapter's next request.
func (s *Service) providerCall(name string) provider.Call {
	pc := s.pacers[name]
	retry := s.retry
	retry.OnRetry = resilience.RetryLogger(name, "provider_request")

	return func(ctx context.Context, req func(ctx context.Context) error) error {
		return resilience.Do(ctx, retry, func(ctx context.Context) error {
			if !s.governor.TryConsume(name) {
				return provider.ErrQuotaDenied
			}
			if err := pc.Wait(ctx); err != nil {
				return eris.Wrap(err, "ingest: pacing")
			}
			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			err := req(callCtx)
			if err == nil {
				pc.OnSuccess()
				return nil
			}
			if te, ok := resilience.AsThrottled(err); ok {
				s.governor.ReportThrottled(name, te.Cooldown())
				pc.OnThrottle(name)
			}
			return err
		})
	}
}

// prepare resolves venues and fills missing period and price facts from
// the candidate's own text.
func (s *Service) prepare(cands []model.Candidate, ref time.Time) []model.Candidate {
	out := make([]model.Candidate, len(cands))
	for i, c := range cands {
		c.Venue = s.resolver.Resolve(c.RawVenueName)
		text := c.Title + "\n" + c.Description
		if !c.PeriodKnown {
			c.Period = nil
			if r := s.extractor.ExtractPeriod(text, ref); r != nil {
				c.Period = r.Period()
				c.PeriodKnown = true
				c.Grade = string(r.Grade)
				metrics.PeriodExtractions.WithLabelValues(gradeLabel(r)).Inc()
			} else {
				metrics.PeriodExtractions.WithLabelValues("unknown").Inc()
			}
		}
		if c.Price == "" {
			if pr := extract.ExtractPrice(c.Description); pr != nil {
				c.Price = pr.Text
			}
		}
		out[i] = c
	}
	return out
}

func gradeLabel(r *extract.PeriodResult) string {
	if r.Permanent {
		return "permanent"
	}
	return string(r.Grade)
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
