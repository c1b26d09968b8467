// Package scheduler runs named daily jobs at most DailyCap times per
// calendar day, using a durable run ledger as the source of truth.
package scheduler

import (
	"context"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/live-cpu/exhibition-sub000/internal/metrics"
	"github.com/live-cpu/exhibition-sub000/internal/model"
)

// Ledger is the durable job run ledger. Claim must increment runs_today
// only while it is below cap, atomically across processes.
type Ledger interface {
	GetJobRun(ctx context.Context, job, dateKey string) (*model.JobRun, error)
	ClaimJobRun(ctx context.Context, job, dateKey string, cap int) (bool, error)
	RecordJobRun(ctx context.Context, job, dateKey string, at time.Time, meta map[string]any) error
}

// RunFunc is the body of a job. The returned meta is stored on the ledger
// entry whether or not err is nil.
type RunFunc func(ctx context.Context) (map[string]any, error)

// Job is a named daily job.
type Job struct {
	Name string
	// At is the local "HH:MM" after which the job becomes due each day.
	At       string
	DailyCap int
	Run      RunFunc

	hour, minute int
}

// Outcome is the result of one eligibility evaluation.
type Outcome string

const (
	OutcomeRan    Outcome = "ran"
	OutcomeFailed Outcome = "failed"
	OutcomeCapped Outcome = "capped"
	OutcomeBusy   Outcome = "busy"
	OutcomeNotDue Outcome = "not_due"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocation sets the zone used for due times and date keys.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithTickInterval sets how often Start evaluates jobs.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// Scheduler drives jobs through Idle, Eligible, Running and Recorded. One
// job runs at a time per process; the ledger prevents duplicate runs
// across processes and restarts.
type Scheduler struct {
	ledger  Ledger
	jobs    []Job
	now     func() time.Time
	loc     *time.Location
	tick    time.Duration
	running atomic.Bool
	log     *zap.Logger
}

// New validates jobs and creates a Scheduler.
func New(ledger Ledger, jobs []Job, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		ledger: ledger,
		now:    time.Now,
		loc:    time.Local,
		tick:   time.Minute,
		log:    zap.L().With(zap.String("component", "scheduler")),
	}
	for _, o := range opts {
		o(s)
	}

	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return nil, eris.New("scheduler: job needs a name and a run func")
		}
		if seen[j.Name] {
			return nil, eris.Errorf("scheduler: duplicate job %q", j.Name)
		}
		seen[j.Name] = true
		if _, err := fmt.Sscanf(j.At, "%d:%d", &j.hour, &j.minute); err != nil ||
			j.hour < 0 || j.hour > 23 || j.minute < 0 || j.minute > 59 {
			return nil, eris.Errorf("scheduler: job %q: invalid time %q", j.Name, j.At)
		}
		s.jobs = append(s.jobs, j)
	}
	return s, nil
}

// Start evaluates jobs every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info("scheduler: started", zap.Int("jobs", len(s.jobs)), zap.Duration("tick", s.tick))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every job once and returns the outcome per job name.
func (s *Scheduler) Tick(ctx context.Context) map[string]Outcome {
	out := make(map[string]Outcome, len(s.jobs))
	now := s.now().In(s.loc)
	for i := range s.jobs {
		j := &s.jobs[i]
		if !s.due(j, now) {
			out[j.Name] = OutcomeNotDue
			continue
		}
		o, err := s.run(ctx, j, false)
		if err != nil {
			s.log.Warn("scheduler: evaluation failed", zap.String("job", j.Name), zap.Error(err))
			continue
		}
		out[j.Name] = o
	}
	return out
}

// RunNow runs the named job immediately. force bypasses the daily cap and
// the due time; the run is still recorded on the ledger.
func (s *Scheduler) RunNow(ctx context.Context, name string, force bool) (Outcome, error) {
	j, err := s.job(name)
	if err != nil {
		return "", err
	}
	return s.run(ctx, j, force)
}

// CanRunToday reports whether the named job is below its daily cap. It
// does not modify the ledger.
func (s *Scheduler) CanRunToday(ctx context.Context, name string) (bool, error) {
	j, err := s.job(name)
	if err != nil {
		return false, err
	}
	return s.belowCap(ctx, j, s.DateKey())
}

// Running reports whether a job is executing in this process.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) run(ctx context.Context, j *Job, force bool) (Outcome, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.JobRuns.WithLabelValues(j.Name, string(OutcomeBusy)).Inc()
		s.log.Debug("scheduler: another job is running", zap.String("job", j.Name))
		return OutcomeBusy, nil
	}
	defer s.running.Store(false)

	log := s.log.With(zap.String("job", j.Name), zap.Bool("forced", force))
	dateKey := s.DateKey()

	if !force {
		ok, err := s.belowCap(ctx, j, dateKey)
		if err != nil {
			return "", err
		}
		if !ok {
			metrics.JobRuns.WithLabelValues(j.Name, string(OutcomeCapped)).Inc()
			return OutcomeCapped, nil
		}
	}

	capacity := j.DailyCap
	if force {
		capacity = 0
	}
	claimed, err := s.ledger.ClaimJobRun(ctx, j.Name, dateKey, capacity)
	if err != nil {
		return "", eris.Wrapf(err, "scheduler: claim %s", j.Name)
	}
	if !claimed {
		metrics.JobRuns.WithLabelValues(j.Name, string(OutcomeCapped)).Inc()
		log.Debug("scheduler: claim lost to another instance")
		return OutcomeCapped, nil
	}

	log.Info("scheduler: job starting", zap.String("date_key", dateKey))
	start := s.now()
	meta, runErr := j.Run(ctx)

	recorded := make(map[string]any, len(meta)+3)
	maps.Copy(recorded, meta)
	recorded["duration_ms"] = s.now().Sub(start).Milliseconds()
	if force {
		recorded["forced"] = true
	}
	outcome := OutcomeRan
	if runErr != nil {
		outcome = OutcomeFailed
		recorded["error"] = runErr.Error()
		log.Warn("scheduler: job finished with error", zap.Error(runErr))
	}

	// A started job counts as run even if ctx was canceled mid-way.
	if err := s.ledger.RecordJobRun(context.WithoutCancel(ctx), j.Name, dateKey, s.now(), recorded); err != nil {
		log.Error("scheduler: record run failed", zap.Error(err))
	}
	metrics.JobRuns.WithLabelValues(j.Name, string(outcome)).Inc()
	log.Info("scheduler: job recorded", zap.String("outcome", string(outcome)))
	return outcome, nil
}

func (s *Scheduler) belowCap(ctx context.Context, j *Job, dateKey string) (bool, error) {
	if j.DailyCap <= 0 {
		return true, nil
	}
	r, err := s.ledger.GetJobRun(ctx, j.Name, dateKey)
	if err != nil {
		return false, eris.Wrapf(err, "scheduler: read ledger for %s", j.Name)
	}
	return r == nil || r.RunsToday < j.DailyCap, nil
}

func (s *Scheduler) due(j *Job, now time.Time) bool {
	return now.Hour() > j.hour || (now.Hour() == j.hour && now.Minute() >= j.minute)
}

// DateKey is today's ledger key in the scheduler location.
func (s *Scheduler) DateKey() string {
	return model.DateKey(s.now(), s.loc)
}

func (s *Scheduler) job(name string) (*Job, error) {
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			return &s.jobs[i], nil
		}
	}
	return nil, eris.Errorf("scheduler: unknown job %q", name)
}
