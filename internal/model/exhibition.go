package model

import "time"

// Period is the run window of an exhibition. A nil Start or End means the
// bound is open. Permanent exhibitions carry no dates.
type Period struct {
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Permanent bool       `json:"permanent,omitempty"`
}

// NewPeriod builds a closed period from two dates.
func NewPeriod(start, end time.Time) *Period {
	return &Period{Start: &start, End: &end}
}

// LiveOn reports whether the period has not ended as of the given day.
// Upcoming exhibitions count as live.
func (p *Period) LiveOn(day time.Time) bool {
	if p == nil {
		return false
	}
	if p.Permanent || p.End == nil {
		return true
	}
	return civilDay(*p.End) >= civilDay(day)
}

// civilDay orders calendar dates independent of location.
func civilDay(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// DayOf truncates t to midnight in its own location.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Candidate is an exhibition fact tuple produced by one provider in one
// ingestion cycle. It is never persisted as-is.
type Candidate struct {
	Title          string   `json:"title"`
	RawVenueName   string   `json:"raw_venue_name"`
	Period         *Period  `json:"period,omitempty"`
	PeriodKnown    bool     `json:"period_known"`
	Price          string   `json:"price,omitempty"`
	Description    string   `json:"description,omitempty"`
	Website        string   `json:"website,omitempty"`
	Images         []string `json:"images,omitempty"`
	SourceID       string   `json:"source_id"`
	SourceRecordID string   `json:"source_record_id"`

	// Set by the orchestrator before merge.
	Venue string `json:"venue,omitempty"`
	Grade string `json:"grade,omitempty"`
}

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// VenueRef is the venue snapshot embedded in an exhibition record.
type VenueRef struct {
	Name     string    `json:"name"`
	Address  string    `json:"address,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Stats holds review aggregates owned by the review subsystem. Merges
// never modify them.
type Stats struct {
	ReviewCount int     `json:"review_count"`
	RatingAvg   float64 `json:"rating_avg"`
}

// Exhibition is the reconciled, persisted exhibition record.
type Exhibition struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	TitleKey       string    `json:"title_key"`
	VenueKey       string    `json:"venue_key"`
	Venue          VenueRef  `json:"venue"`
	Period         Period    `json:"period"`
	PeriodUnknown  bool      `json:"period_unknown"`
	Price          string    `json:"price,omitempty"`
	BarrierFree    bool      `json:"barrier_free"`
	Website        string    `json:"website,omitempty"`
	Description    string    `json:"description,omitempty"`
	Images         []string  `json:"images,omitempty"`
	Source         string    `json:"source"`
	SourceRecordID string    `json:"source_record_id"`
	Stats          Stats     `json:"stats"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	RepairAttemptedAt *time.Time `json:"repair_attempted_at,omitempty"`
}

// Venue is the durable venue entity. Enrichment only fills empty fields.
type Venue struct {
	Name         string    `json:"name"`
	Address      string    `json:"address,omitempty"`
	Location     *Location `json:"location,omitempty"`
	BarrierFree  bool      `json:"barrier_free"`
	OpeningHours string    `json:"opening_hours,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NeedsEnrichment reports whether a lookup could still fill something.
func (v *Venue) NeedsEnrichment() bool {
	return v == nil || v.Address == "" || v.Location == nil
}
