// Package ingest orchestrates the sync pipeline: it fetches every enabled
// provider behind the quota governor, canonicalizes venues, fills in
// periods and prices from free text, and merges the batches in priority
// order. It also runs the narrower period repair pass.
package ingest

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/extract"
	"github.com/live-cpu/exhibition-sub000/internal/merge"
	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/internal/provider"
	"github.com/live-cpu/exhibition-sub000/internal/quota"
	"github.com/live-cpu/exhibition-sub000/internal/resilience"
	"github.com/live-cpu/exhibition-sub000/internal/store"
	"github.com/live-cpu/exhibition-sub000/internal/venue"
)

// Provider is one adapter plus the policy the orchestrator applies to it.
type Provider struct {
	Adapter  provider.Adapter
	Priority int
	// AllowUnknownPeriod lets period-unknown candidates be inserted.
	AllowUnknownPeriod bool
	// OwnsVenues puts every venue this provider reported into the skip set
	// of lower-priority providers for the rest of the cycle.
	OwnsVenues bool
	RPS        float64
	Burst      int
}

// Name is the adapter's source id.
func (p Provider) Name() string { return p.Adapter.Name() }

// JobChecker answers the read-only daily-cap question. *scheduler.Scheduler
// satisfies it.
type JobChecker interface {
	CanRunToday(ctx context.Context, name string) (bool, error)
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Store     store.Store
	Governor  *quota.Governor
	Resolver  *venue.Resolver
	Extractor *extract.Extractor
	Engine    *merge.Engine
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone reference days are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithCallTimeout bounds every provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithConcurrency bounds parallel provider fetches.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRetry overrides the transient retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithPeriodLookups sets the secondary lookups used by period repair, in
// the order they are tried.
func WithPeriodLookups(lookups ...provider.PeriodLookup) Option {
	return func(s *Service) { s.lookups = lookups }
}

// WithRepairBudget names the quota key charged once per repaired record and
// the minimum delay between two repair attempts on the same record.
func WithRepairBudget(quotaKey string, cooldown time.Duration) Option {
	return func(s *Service) {
		s.repairKey = quotaKey
		if cooldown >= 0 {
			s.repairCooldown = cooldown
		}
	}
}

// WithJobChecker wires CanJobRunToday to the scheduler.
func WithJobChecker(jc JobChecker) Option {
	return func(s *Service) { s.jobs = jc }
}

// Service runs sync cycles and repair passes.
type Service struct {
	store     store.Store
	governor  *quota.Governor
	resolver  *venue.Resolver
	extractor *extract.Extractor
	engine    *merge.Engine

	providers []Provider
	pacers    map[string]*pacer
	lookups   []provider.PeriodLookup
	jobs      JobChecker

	repairKey      string
	repairCooldown time.Duration

	timeout     time.Duration
	concurrency int
	retry       resilience.RetryConfig
	now         func() time.Time
	loc         *time.Location
	log         *zap.Logger

	// cycleMu keeps a sync cycle and a repair pass from interleaving their
	// quota resets and flushes.
	cycleMu sync.Mutex
	// flushMu orders quota saves so an older snapshot never lands last.
	flushMu sync.Mutex
}

// New creates a Service. Providers are merged in ascending Priority order;
// ties keep the given order.
func New(deps Deps, providers []Provider, opts ...Option) *Service {
	sorted := slices.Clone(providers)
	slices.SortStableFunc(sorted, func(a, b Provider) int { return a.Priority - b.Priority })

	s := &Service{
		store:          deps.Store,
		governor:       deps.Governor,
		resolver:       deps.Resolver,
		extractor:      deps.Extractor,
		engine:         deps.Engine,
		providers:      sorted,
		pacers:         make(map[string]*pacer, len(sorted)),
		repairKey:      provider.SourceNaver,
		repairCooldown: 7 * 24 * time.Hour,
		timeout:        30 * time.Second,
		concurrency:    4,
		retry:          resilience.DefaultRetryConfig(),
		now:            time.Now,
		loc:            time.UTC,
		log:            zap.L().With(zap.String("component", "ingest")),
	}
	for _, p := range sorted {
		s.pacers[p.Name()] = newPacer(p.RPS, p.Burst)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// refDay is today at midnight in the service location.
func (s *Service) refDay() time.Time {
	return model.DayOf(s.now().In(s.loc))
}

// CanJobRunToday reports whether jobName is still below its daily cap. It
// never mutates the ledger; lookup failures read as false.
func (s *Service) CanJobRunToday(ctx context.Context, jobName string) bool {
	if s.jobs == nil {
		return false
	}
	ok, err := s.jobs.CanRunToday(ctx, jobName)
	if err != nil {
		s.log.Warn("can job run today: ledger check failed", zap.String("job", jobName), zap.Error(err))
		return false
	}
	return ok
}

// flushQuota persists governor state even when ctx has been canceled. It
// runs after every provider fetch and repaired record, so a crash loses at
// most the units of the calls in flight.
func (s *Service) flushQuota(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if err := s.governor.Flush(context.WithoutCancel(ctx), s.store); err != nil {
		s.log.Warn("quota flush failed", zap.Error(err))
	}
}
