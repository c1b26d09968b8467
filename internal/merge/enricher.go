package merge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/model"
	"github.com/live-cpu/exhibition-sub000/internal/resilience"
)

// VenueLookup resolves venue attributes from a secondary provider.
type VenueLookup interface {
	Provider() string
	LookupVenue(ctx context.Context, name string) (*model.Venue, error)
}

// VenueStore is the durable venue set.
type VenueStore interface {
	GetVenue(ctx context.Context, name string) (*model.Venue, error)
	FillVenue(ctx context.Context, v *model.Venue) error
}

// Budget gates secondary provider calls. *quota.Governor satisfies it.
type Budget interface {
	TryConsume(provider string) bool
	ReportThrottled(provider string, d time.Duration)
}

// Enricher fills empty venue fields from a VenueLookup. Each venue name is
// tried at most once between two calls to Reset, and only when the budget
// allows. Failures degrade to whatever the store already holds; the venue
// is tried again after the next Reset.
type Enricher struct {
	lookup  VenueLookup
	venues  VenueStore
	budget  Budget
	timeout time.Duration
	log     *zap.Logger

	mu    sync.Mutex
	tried map[string]bool
}

// NewEnricher creates an Enricher. timeout bounds each lookup call.
func NewEnricher(lookup VenueLookup, venues VenueStore, budget Budget, timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Enricher{
		lookup:  lookup,
		venues:  venues,
		budget:  budget,
		timeout: timeout,
		log:     zap.L().With(zap.String("component", "venue_enricher")),
		tried:   make(map[string]bool),
	}
}

// Enrich returns the stored venue for name, first filling its empty
// fields from the lookup when possible. The result may be nil.
func (en *Enricher) Enrich(ctx context.Context, name string) *model.Venue {
	current, err := en.venues.GetVenue(ctx, name)
	if err != nil {
		en.log.Warn("enrich: get venue failed", zap.String("venue", name), zap.Error(err))
		return nil
	}
	if !current.NeedsEnrichment() || !en.claim(name) {
		return current
	}

	provider := en.lookup.Provider()
	if !en.budget.TryConsume(provider) {
		en.log.Debug("enrich: budget unavailable, skipping", zap.String("venue", name), zap.String("provider", provider))
		return current
	}

	lookupCtx, cancel := context.WithTimeout(ctx, en.timeout)
	defer cancel()
	found, err := en.lookup.LookupVenue(lookupCtx, name)
	if err != nil {
		if te, ok := resilience.AsThrottled(err); ok {
			en.budget.ReportThrottled(provider, te.Cooldown())
		}
		en.log.Warn("enrich: lookup failed", zap.String("venue", name), zap.Error(err))
		return current
	}
	if found == nil {
		return current
	}

	patch := *found
	patch.Name = name
	if err := en.venues.FillVenue(ctx, &patch); err != nil {
		en.log.Warn("enrich: fill venue failed", zap.String("venue", name), zap.Error(err))
		return current
	}
	return fillVenue(current, &patch)
}

// Reset forgets which venues were tried. The orchestrator calls it at the
// start of every sync cycle.
func (en *Enricher) Reset() {
	en.mu.Lock()
	defer en.mu.Unlock()
	clear(en.tried)
}

func (en *Enricher) claim(name string) bool {
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.tried[name] {
		return false
	}
	en.tried[name] = true
	return true
}

// fillVenue mirrors the store's fill-empty rule in memory.
func fillVenue(current, patch *model.Venue) *model.Venue {
	if current == nil {
		v := *patch
		return &v
	}
	v := *current
	if v.Address == "" {
		v.Address = patch.Address
	}
	if v.Location == nil {
		v.Location = patch.Location
	}
	if v.OpeningHours == "" {
		v.OpeningHours = patch.OpeningHours
	}
	if v.Phone == "" {
		v.Phone = patch.Phone
	}
	v.BarrierFree = v.BarrierFree || patch.BarrierFree
	return &v
}
