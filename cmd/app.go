package main

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/config"
	"github.com/live-cpu/exhibition-sub000/internal/extract"
	"github.com/live-cpu/exhibition-sub000/internal/ingest"
	"github.com/live-cpu/exhibition-sub000/internal/merge"
	"github.com/live-cpu/exhibition-sub000/internal/provider"
	"github.com/live-cpu/exhibition-sub000/internal/quota"
	"github.com/live-cpu/exhibition-sub000/internal/resilience"
	"github.com/live-cpu/exhibition-sub000/internal/scheduler"
	"github.com/live-cpu/exhibition-sub000/internal/store"
	"github.com/live-cpu/exhibition-sub000/internal/venue"
	"github.com/live-cpu/exhibition-sub000/pkg/anthropic"
	"github.com/live-cpu/exhibition-sub000/pkg/culture"
	"github.com/live-cpu/exhibition-sub000/pkg/jina"
	"github.com/live-cpu/exhibition-sub000/pkg/kakao"
	"github.com/live-cpu/exhibition-sub000/pkg/naver"
)

const (
	jobSync   = "sync"
	jobRepair = "repair"
)

// app holds the store, the ingest service and the scheduler needed by the
// sync/repair/jobs/daemon/serve commands.
type app struct {
	Store     store.Store
	Governor  *quota.Governor
	Service   *ingest.Service
	Scheduler *scheduler.Scheduler
}

// Close releases resources held by the app.
func (a *app) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

// clients are the external API clients. Nil fields mean the credentials are
// not configured.
type clients struct {
	Culture   culture.Client
	Naver     naver.Client
	Kakao     kakao.Client
	Anthropic anthropic.Client
	Jina      jina.Client
}

func newClients(c *config.Config) clients {
	var cl clients
	if c.Culture.Key != "" {
		cl.Culture = culture.NewClient(c.Culture.Key, culture.WithBaseURL(c.Culture.BaseURL))
	}
	if c.Naver.ClientID != "" && c.Naver.ClientSecret != "" {
		cl.Naver = naver.NewClient(c.Naver.ClientID, c.Naver.ClientSecret, naver.WithBaseURL(c.Naver.BaseURL))
	}
	if c.Kakao.Key != "" {
		cl.Kakao = kakao.NewClient(c.Kakao.Key, kakao.WithBaseURL(c.Kakao.BaseURL))
	}
	if c.Anthropic.Key != "" {
		cl.Anthropic = anthropic.NewClient(c.Anthropic.Key)
	}
	if c.Jina.Key != "" {
		cl.Jina = jina.NewClient(c.Jina.Key, jina.WithBaseURL(c.Jina.BaseURL))
	}
	return cl
}

// initApp opens and migrates the store and builds the pipeline from
// configuration. Callers should defer a.Close().
func initApp(ctx context.Context, c *config.Config) (*app, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:      c.Store.Driver,
		DatabaseURL: c.Store.DatabaseURL,
		MaxConns:    c.Store.MaxConns,
		MinConns:    c.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	a, err := buildApp(st, c, newClients(c))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

// buildApp wires everything on top of an open store.
func buildApp(st store.Store, c *config.Config, cl clients) (*app, error) {
	log := zap.L().With(zap.String("component", "app"))
	loc := c.Location()

	rules, err := loadRules(c.Venue.RulesPath)
	if err != nil {
		return nil, err
	}

	gov := quota.New(quotaLimits(c.Providers), quota.WithLocation(loc))
	resolver := venue.NewResolver(rules, venue.WithCacheSize(c.Venue.CacheSize))
	extractor := extract.New(
		extract.WithGraceDays(c.Extract.GraceDays),
		extract.WithWindow(c.Extract.WindowRunes),
	)

	var engineOpts []merge.Option
	if cl.Kakao != nil {
		en := merge.NewEnricher(provider.NewKakaoPlaces(cl.Kakao), st, gov, c.SyncTimeout())
		engineOpts = append(engineOpts, merge.WithEnricher(en))
	}
	engine := merge.NewEngine(st, engineOpts...)

	venues := rules.Canonicals()
	slices.Sort(venues)
	venues = slices.Compact(venues)

	var (
		providers []ingest.Provider
		lookups   = make(map[string]provider.PeriodLookup)
	)
	add := func(a provider.Adapter) {
		pc := c.Providers[a.Name()]
		if !pc.Enabled {
			return
		}
		providers = append(providers, ingest.Provider{
			Adapter:            a,
			Priority:           pc.Priority,
			AllowUnknownPeriod: pc.AllowUnknownPeriod,
			OwnsVenues:         pc.OwnsVenues,
			RPS:                pc.RPS,
			Burst:              pc.Burst,
		})
	}

	if cl.Culture != nil {
		add(provider.NewCulture(cl.Culture, loc, c.Culture.PerPage, c.Culture.MaxPages))
	} else if c.Providers[provider.SourceCulture].Enabled {
		log.Warn("culture provider enabled without culture.key, skipping")
	}
	if cl.Naver != nil {
		n := provider.NewNaverSearch(cl.Naver, orDefault(c.Naver.Venues, venues), naver.Kind(c.Naver.Kind), c.Naver.Display)
		add(n)
		lookups[provider.SourceNaver] = n
	} else if c.Providers[provider.SourceNaver].Enabled {
		log.Warn("naver provider enabled without naver credentials, skipping")
	}
	if cl.Anthropic != nil {
		l := provider.NewLLMSearch(cl.Anthropic, orDefault(c.Anthropic.Venues, venues), c.Anthropic.Model, loc)
		add(l)
		lookups[provider.SourceLLM] = l
	} else if c.Providers[provider.SourceLLM].Enabled {
		log.Warn("llm provider enabled without anthropic.key, skipping")
	}

	if cl.Jina != nil {
		lookups[provider.SourceWeb] = provider.NewWebSearch(cl.Jina)
	}

	var repairLookups []provider.PeriodLookup
	for _, name := range c.Repair.Lookups {
		l, ok := lookups[name]
		if !ok {
			log.Warn("repair lookup not available", zap.String("lookup", name))
			continue
		}
		repairLookups = append(repairLookups, l)
	}

	a := &app{Store: st, Governor: gov}

	jobs, err := schedulerJobs(c, a)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(st, jobs,
		scheduler.WithLocation(loc),
		scheduler.WithTickInterval(time.Duration(c.Scheduler.TickSecs)*time.Second),
	)
	if err != nil {
		return nil, eris.Wrap(err, "init scheduler")
	}
	a.Scheduler = sched

	retry := resilience.DefaultRetryConfig()
	if c.Sync.RetryAttempts > 0 {
		retry.MaxAttempts = c.Sync.RetryAttempts
	}

	a.Service = ingest.New(ingest.Deps{
		Store:     st,
		Governor:  gov,
		Resolver:  resolver,
		Extractor: extractor,
		Engine:    engine,
	}, providers,
		ingest.WithLocation(loc),
		ingest.WithCallTimeout(c.SyncTimeout()),
		ingest.WithConcurrency(c.Sync.Concurrency),
		ingest.WithRetry(retry),
		ingest.WithPeriodLookups(repairLookups...),
		ingest.WithRepairBudget(c.Repair.Provider, time.Duration(c.Repair.CooldownDays)*24*time.Hour),
		ingest.WithJobChecker(sched),
	)

	log.Info("app initialized",
		zap.Int("providers", len(providers)),
		zap.Int("repair_lookups", len(repairLookups)),
		zap.Bool("venue_enrichment", cl.Kakao != nil),
	)
	return a, nil
}

// schedulerJobs binds configured job names to service operations. The
// closures read a.Service at run time, after buildApp has set it.
func schedulerJobs(c *config.Config, a *app) ([]scheduler.Job, error) {
	jobs := make([]scheduler.Job, 0, len(c.Scheduler.Jobs))
	for _, jc := range c.Scheduler.Jobs {
		var run scheduler.RunFunc
		switch jc.Name {
		case jobSync:
			run = func(ctx context.Context) (map[string]any, error) {
				rep, err := a.Service.RunSyncCycle(ctx, ingest.SyncOptions{MaxNewInserts: c.Sync.MaxNewInserts})
				if rep == nil {
					return nil, err
				}
				return rep.Meta(), err
			}
		case jobRepair:
			run = func(ctx context.Context) (map[string]any, error) {
				rep, err := a.Service.RunPeriodRepair(ctx, ingest.RepairOptions{Limit: c.Repair.Limit})
				if rep == nil {
					return nil, err
				}
				return rep.Meta(), err
			}
		default:
			return nil, eris.Errorf("unknown scheduler job %q", jc.Name)
		}
		jobs = append(jobs, scheduler.Job{Name: jc.Name, At: jc.At, DailyCap: jc.DailyCap, Run: run})
	}
	return jobs, nil
}

func loadRules(path string) (*venue.Rules, error) {
	if path == "" {
		rules, err := venue.DefaultRules()
		return rules, eris.Wrap(err, "load default venue rules")
	}
	rules, err := venue.LoadRulesFile(path)
	return rules, eris.Wrapf(err, "load venue rules %s", path)
}

func quotaLimits(providers map[string]config.ProviderConfig) map[string]quota.Limits {
	out := make(map[string]quota.Limits, len(providers))
	for name, p := range providers {
		out[name] = quota.Limits{Enabled: p.Enabled, PerRun: p.PerRun, PerDay: p.PerDay}
	}
	return out
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
