package model

import "time"

// QuotaState is the per-provider call accounting held by the quota governor.
type QuotaState struct {
	Provider      string    `json:"provider"`
	CallsThisRun  int       `json:"calls_this_run"`
	CallsToday    int       `json:"calls_today"`
	DateKey       string    `json:"date_key"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// JobRun is one row of the job run ledger, unique per (JobName, DateKey).
type JobRun struct {
	JobName   string         `json:"job_name"`
	DateKey   string         `json:"date_key"`
	RunsToday int            `json:"runs_today"`
	LastRunAt *time.Time     `json:"last_run_at,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// DateKey formats the calendar day of t in loc as YYYY-MM-DD.
func DateKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02")
}
