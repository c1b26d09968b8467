package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/extract"
	"github.com/live-cpu/exhibition-sub000/internal/metrics"
	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/internal/resilience"
	"github.com/live-cpu/exhibition-sub000/internal/store"
)

const defaultRepairLimit = 50

// RepairOptions scopes a period repair pass.
type RepairOptions struct {
	// Sources restricts the pass to these sources. Empty means all.
	Sources []string
	Limit   int
	// Force ignores the per-record retry cooldown. Budgets still apply.
	Force bool
}

// RepairReport summarizes a repair pass.
type RepairReport struct {
	Candidates      int  `json:"candidates"`
	Attempted       int  `json:"attempted"`
	Resolved        int  `json:"resolved"`
	Unresolved      int  `json:"unresolved"`
	Failed          int  `json:"failed"`
	BudgetExhausted bool `json:"budget_exhausted"`
	BreakerOpen     bool `json:"breaker_open"`
}

// Meta flattens the report for the job ledger.
func (r *RepairReport) Meta() map[string]any {
	return map[string]any{
		"candidates":       r.Candidates,
		"attempted":        r.Attempted,
		"resolved":         r.Resolved,
		"unresolved":       r.Unresolved,
		"failed":           r.Failed,
		"budget_exhausted": r.BudgetExhausted,
		"breaker_open":     r.BreakerOpen,
	}
}

// RunPeriodRepair revisits persisted records whose period is unknown and
// tries to resolve it through the period lookups. Each record costs one unit
// of the repair budget; the pass stops quietly when the budget runs out or
// the lookups keep failing.
func (s *Service) RunPeriodRepair(ctx context.Context, opts RepairOptions) (*RepairReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	log := s.log.With(zap.String("op", "repair"))
	report := &RepairReport{}

	if err := s.governor.Load(ctx, s.store); err != nil {
		log.Warn("quota state unavailable, using in-memory counters", zap.Error(err))
	}
	defer s.flushQuota(ctx)

	filter := store.RepairFilter{Sources: opts.Sources, Limit: opts.Limit}
	if filter.Limit <= 0 {
		filter.Limit = defaultRepairLimit
	}
	if !opts.Force && s.repairCooldown > 0 {
		before := s.now().Add(-s.repairCooldown)
		filter.AttemptedBefore = &before
	}

	rows, err := s.store.ListUnknownPeriod(ctx, filter)
	if err != nil {
		return report, eris.Wrap(err, "ingest: list unknown period")
	}
	report.Candidates = len(rows)
	if len(rows) == 0 || len(s.lookups) == 0 {
		return report, nil
	}

	breaker := resilience.NewBreaker(3, time.Minute)
	ref := s.refDay()
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "ingest: repair interrupted")
		}
		if !breaker.Allow() {
			report.BreakerOpen = true
			log.Warn("repair stopped, lookups keep failing", zap.Int("remaining", len(rows)-i))
			break
		}
		if !s.governor.TryConsume(s.repairKey) {
			report.BudgetExhausted = true
			log.Info("repair stopped, budget exhausted", zap.Int("remaining", len(rows)-i))
			break
		}

		row := &rows[i]
		report.Attempted++
		if err := s.store.MarkRepairAttempted(ctx, row.ID, s.now()); err != nil {
			log.Warn("mark repair attempted failed", zap.String("id", row.ID), zap.Error(err))
		}

		resolved, err := s.repairOne(ctx, breaker, row, ref)
		s.flushQuota(ctx)
		switch {
		case err != nil:
			report.Failed++
			log.Warn("repair failed", zap.String("id", row.ID), zap.Error(err))
		case resolved:
			report.Resolved++
		default:
			report.Unresolved++
		}
	}

	log.Info("period repair complete",
		zap.Int("candidates", report.Candidates),
		zap.Int("attempted", report.Attempted),
		zap.Int("resolved", report.Resolved),
		zap.Int("unresolved", report.Unresolved),
		zap.Int("failed", report.Failed),
		zap.Bool("budget_exhausted", report.BudgetExhausted),
	)
	return report, nil
}

// repairOne asks each lookup in turn until one yields an extractable
// period. Lookups without quota, or throttled, are skipped.
func (s *Service) repairOne(ctx context.Context, breaker *resilience.Breaker, row *model.Exhibition, ref time.Time) (bool, error) {
	var lastErr error
	for _, lk := range s.lookups {
		name := lk.Name()
		if !s.governor.TryConsume(name) {
			continue
		}
		text, err := resilience.Call(ctx, breaker, func(ctx context.Context) (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			return lk.LookupPeriodText(callCtx, row.Title, row.Venue.Name)
		})
		if err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return false, err
			}
			if te, ok := resilience.AsThrottled(err); ok {
				s.governor.ReportThrottled(name, te.Cooldown())
				s.pacers[name].OnThrottle(name)
			}
			lastErr = err
			continue
		}

		r := s.extractor.ExtractPeriod(text, ref)
		if r == nil {
			metrics.PeriodExtractions.WithLabelValues("unknown").Inc()
			continue
		}
		metrics.PeriodExtractions.WithLabelValues(gradeLabel(r)).Inc()

		var price string
		if row.Price == "" {
			if pr := extract.ExtractPrice(text); pr != nil {
				price = pr.Text
			}
		}
		if err := s.store.ResolvePeriod(ctx, row.ID, *r.Period(), price); err != nil {
			return false, eris.Wrapf(err, "ingest: resolve period %s", row.ID)
		}
		return true, nil
	}
	return false, lastErr
}
