// Package extract pulls run periods and admission prices out of free text.
//
// Source text is written for people, not parsers: blog reviews mention the
// day the author visited, listings repeat dates in several formats, and
// press copy mixes the run with side events. The extractor therefore scores
// every date-range match against its neighbourhood and only trusts a winner
// that also survives a window check against the reference date.
package extract

import (
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/live-cpu/exhibition-sub000/internal/model"
)

const (
	defaultWindowRunes = 30
	defaultGraceDays   = 3
	maxPastDays        = 7
	maxFutureDays      = 365
)

// PeriodResult is a resolved run period.
type PeriodResult struct {
	Start     time.Time
	End       time.Time
	Grade     Grade
	Permanent bool
	Score     float64
}

// Period converts the result into the model type.
func (r *PeriodResult) Period() *model.Period {
	if r == nil {
		return nil
	}
	if r.Permanent {
		return &model.Period{Permanent: true}
	}
	return model.NewPeriod(r.Start, r.End)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithGraceDays sets how far past the reference day an end date must lie.
func WithGraceDays(days int) Option {
	return func(e *Extractor) {
		if days >= 0 {
			e.graceDays = days
		}
	}
}

// WithWindow sets the context window, in runes, scored on each side of a match.
func WithWindow(runes int) Option {
	return func(e *Extractor) {
		if runes > 0 {
			e.window = runes
		}
	}
}

// Extractor is stateless and safe for concurrent use.
type Extractor struct {
	graceDays int
	window    int
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{graceDays: defaultGraceDays, window: defaultWindowRunes}
	for _, o := range opts {
		o(e)
	}
	return e
}

type match struct {
	start, end time.Time
	grade      Grade
	score      float64
}

// ExtractPeriod returns the most plausible run period in text, judged
// against ref, or nil when nothing survives scoring and the safety window.
func (e *Extractor) ExtractPeriod(text string, ref time.Time) *PeriodResult {
	text = norm.NFKC.String(text)
	if text == "" {
		return nil
	}
	if permanentRe.MatchString(text) {
		return &PeriodResult{Permanent: true}
	}

	var matches []match
	for _, f := range families {
		for _, loc := range f.re.FindAllStringSubmatchIndex(text, -1) {
			m, ok := buildMatch(text, f.grade, loc, ref)
			if !ok {
				continue
			}
			m.score = scoreContext(f.grade.Base(), e.context(text, loc[0], loc[1]))
			if m.score <= 0 {
				continue
			}
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.end.Equal(b.end) {
			return a.end.After(b.end)
		}
		if sa, sb := a.end.Sub(a.start), b.end.Sub(b.start); sa != sb {
			return sa > sb
		}
		return a.start.Before(b.start)
	})

	best := matches[0]
	if !e.withinWindow(best, ref) {
		return nil
	}
	return &PeriodResult{Start: best.start, End: best.end, Grade: best.grade, Score: best.score}
}

// withinWindow rejects periods that ended more than a week ago, start more
// than a year out, or end inside the grace period.
func (e *Extractor) withinWindow(m match, ref time.Time) bool {
	today := model.DayOf(ref)
	if m.end.Before(today.AddDate(0, 0, -maxPastDays)) {
		return false
	}
	if m.start.After(today.AddDate(0, 0, maxFutureDays)) {
		return false
	}
	return !m.end.Before(today.AddDate(0, 0, e.graceDays))
}

// context returns up to window runes on each side of text[start:end],
// excluding the match itself.
func (e *Extractor) context(text string, start, end int) string {
	before := text[:start]
	for n := 0; n < e.window && before != ""; n++ {
		_, size := utf8.DecodeLastRuneInString(before)
		before = before[:len(before)-size]
	}
	after := text[end:]
	cut := 0
	for n := 0; n < e.window && cut < len(after); n++ {
		_, size := utf8.DecodeRuneInString(after[cut:])
		cut += size
	}
	return text[len(before):start] + " " + after[:cut]
}

// buildMatch turns submatch indices into concrete dates. Grade B and C
// take missing years from ref and bump the end year when the range
// crosses a new year.
func buildMatch(text string, g Grade, loc []int, ref time.Time) (match, bool) {
	group := func(i int) int {
		s, e := loc[2*i], loc[2*i+1]
		if s < 0 {
			return -1
		}
		n, err := strconv.Atoi(text[s:e])
		if err != nil {
			return -1
		}
		return n
	}

	var sy, sm, sd, ey, em, ed int
	switch g {
	case GradeA:
		sy, sm, sd, ey, em, ed = group(1), group(2), group(3), group(4), group(5), group(6)
	case GradeB:
		sy, sm, sd, em, ed = group(1), group(2), group(3), group(4), group(5)
		ey = sy
		if em < sm || (em == sm && ed < sd) {
			ey++
		}
	case GradeC:
		sm, sd, em, ed = group(1), group(2), group(3), group(4)
		sy = ref.Year()
		ey = sy
		if em < sm || (em == sm && ed < sd) {
			ey++
		}
	}

	tz := ref.Location()
	start, ok := civilDate(sy, sm, sd, tz)
	if !ok {
		return match{}, false
	}
	end, ok := civilDate(ey, em, ed, tz)
	if !ok || end.Before(start) {
		return match{}, false
	}
	return match{start: start, end: end, grade: g}, true
}

// civilDate rejects values time.Date would silently normalize, such as
// February 30th.
func civilDate(y, m, d int, loc *time.Location) (time.Time, bool) {
	if y < 1900 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
