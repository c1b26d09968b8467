// Package quota gates calls to external providers against per-run and
// per-day budgets and honours provider throttling with a cooldown.
package quota

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/metrics"
	"github.com/live-cpu/exhibition-sub000/internal/model"
)

// Limits is the budget of one provider. Zero caps mean unlimited.
type Limits struct {
	Enabled bool
	PerRun  int
	PerDay  int
}

// StateStore persists daily counters and cooldowns across restarts.
type StateStore interface {
	LoadQuota(ctx context.Context) ([]model.QuotaState, error)
	SaveQuota(ctx context.Context, states []model.QuotaState) error
}

// Denial reasons, also used as metric labels.
const (
	ReasonUnknown  = "unknown"
	ReasonDisabled = "disabled"
	ReasonCooldown = "cooldown"
	ReasonRunCap   = "run_cap"
	ReasonDayCap   = "day_cap"
)

type counter struct {
	run      int
	day      int
	dateKey  string
	cooldown time.Time
}

// Governor tracks provider budgets. All methods are safe for concurrent use.
type Governor struct {
	mu     sync.Mutex
	limits map[string]Limits
	state  map[string]*counter
	now    func() time.Time
	loc    *time.Location
	log    *zap.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithLocation sets the zone in which calendar days roll over.
func WithLocation(loc *time.Location) Option {
	return func(g *Governor) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// New creates a Governor for the given providers.
func New(limits map[string]Limits, opts ...Option) *Governor {
	g := &Governor{
		limits: make(map[string]Limits, len(limits)),
		state:  make(map[string]*counter, len(limits)),
		now:    time.Now,
		loc:    time.Local,
		log:    zap.L().With(zap.String("component", "quota")),
	}
	for id, l := range limits {
		g.limits[id] = l
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// entry returns the counter for provider, rolling the daily count over
// when the date key has changed. Caller holds g.mu.
func (g *Governor) entry(provider string, now time.Time) *counter {
	key := model.DateKey(now, g.loc)
	c, ok := g.state[provider]
	if !ok {
		c = &counter{dateKey: key}
		g.state[provider] = c
	}
	if c.dateKey != key {
		c.day = 0
		c.dateKey = key
	}
	return c
}

// TryConsume takes one unit of budget from provider. It returns false,
// leaving state untouched, when the provider is unknown or disabled, is
// cooling down, or has hit either cap.
func (g *Governor) TryConsume(provider string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	reason := g.denyReason(provider)
	if reason != "" {
		metrics.QuotaDenials.WithLabelValues(provider, reason).Inc()
		g.log.Debug("quota denied", zap.String("provider", provider), zap.String("reason", reason))
		return false
	}

	c := g.entry(provider, g.now())
	c.run++
	c.day++
	return true
}

// Allowed reports whether TryConsume would currently succeed.
func (g *Governor) Allowed(provider string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.denyReason(provider) == ""
}

// denyReason returns why provider cannot consume now, or "". Caller holds g.mu.
func (g *Governor) denyReason(provider string) string {
	l, ok := g.limits[provider]
	if !ok {
		return ReasonUnknown
	}
	if !l.Enabled {
		return ReasonDisabled
	}
	now := g.now()
	c := g.entry(provider, now)
	switch {
	case now.Before(c.cooldown):
		return ReasonCooldown
	case l.PerRun > 0 && c.run >= l.PerRun:
		return ReasonRunCap
	case l.PerDay > 0 && c.day >= l.PerDay:
		return ReasonDayCap
	}
	return ""
}

// ReportThrottled suspends provider for d. A cooldown only ever moves
// forward; a shorter signal never cuts an existing one short.
func (g *Governor) ReportThrottled(provider string, d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	c := g.entry(provider, now)
	until := now.Add(d)
	if until.After(c.cooldown) {
		c.cooldown = until
	}
	metrics.QuotaThrottles.WithLabelValues(provider).Inc()
	g.log.Info("provider throttled",
		zap.String("provider", provider),
		zap.Duration("cooldown", d),
		zap.Time("until", c.cooldown),
	)
}

// CooldownUntil returns the end of provider's cooldown, zero if none.
func (g *Governor) CooldownUntil(provider string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.state[provider]; ok {
		return c.cooldown
	}
	return time.Time{}
}

// Remaining returns the budget left for the current run and day. -1 means
// unlimited.
func (g *Governor) Remaining(provider string) (run, day int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limits[provider]
	if !ok || !l.Enabled {
		return 0, 0
	}
	c := g.entry(provider, g.now())
	run, day = -1, -1
	if l.PerRun > 0 {
		run = max(l.PerRun-c.run, 0)
	}
	if l.PerDay > 0 {
		day = max(l.PerDay-c.day, 0)
	}
	return run, day
}

// ResetRun clears the run-scoped counters, starting a new run.
func (g *Governor) ResetRun() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.state {
		c.run = 0
	}
}

// Snapshot returns the current state of every tracked provider, sorted by id.
func (g *Governor) Snapshot() []model.QuotaState {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	out := make([]model.QuotaState, 0, len(g.state))
	for id := range g.state {
		c := g.entry(id, now)
		out = append(out, model.QuotaState{
			Provider:      id,
			CallsThisRun:  c.run,
			CallsToday:    c.day,
			DateKey:       c.dateKey,
			CooldownUntil: c.cooldown,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Restore loads persisted state. Daily counts from another date are
// dropped; cooldowns are kept. Run counters are never restored.
func (g *Governor) Restore(states []model.QuotaState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := model.DateKey(g.now(), g.loc)
	for _, s := range states {
		c := g.entry(s.Provider, g.now())
		if s.DateKey == key && s.CallsToday > c.day {
			c.day = s.CallsToday
		}
		if s.CooldownUntil.After(c.cooldown) {
			c.cooldown = s.CooldownUntil
		}
	}
}

// Load restores state from store.
func (g *Governor) Load(ctx context.Context, store StateStore) error {
	states, err := store.LoadQuota(ctx)
	if err != nil {
		return eris.Wrap(err, "quota: load state")
	}
	g.Restore(states)
	return nil
}

// Flush writes the current state to store.
func (g *Governor) Flush(ctx context.Context, store StateStore) error {
	if err := store.SaveQuota(ctx, g.Snapshot()); err != nil {
		return eris.Wrap(err, "quota: flush state")
	}
	return nil
}
