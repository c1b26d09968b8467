package extract

import (
	"regexp"
	"strings"
)

// Grade is the intrinsic precision of a date-range pattern.
type Grade string

const (
	// GradeA has year, month and day on both ends.
	GradeA Grade = "A"
	// GradeB has a year on the start only.
	GradeB Grade = "B"
	// GradeC has no year; both years are inferred from the reference date.
	GradeC Grade = "C"
)

// Base returns the starting score for a match of this grade.
func (g Grade) Base() float64 {
	switch g {
	case GradeA:
		return 3
	case GradeB:
		return 2
	case GradeC:
		return 1
	default:
		return 0
	}
}

const (
	ymdStart = `\b(\d{4})\s*[./\-년]\s*(\d{1,2})\s*[./\-월]\s*(\d{1,2})\s*일?\.?(?:\s*\([^)]{1,4}\))?`
	mdStart  = `\b(\d{1,2})\s*[./\-월]\s*(\d{1,2})\s*일?\.?(?:\s*\([^)]{1,4}\))?`
	rangeSep = `\s*[~\-–—]\s*`
	ymdEnd   = `(\d{4})\s*[./\-년]\s*(\d{1,2})\s*[./\-월]\s*(\d{1,2})\b`
	mdEnd    = `(\d{1,2})\s*[./\-월]\s*(\d{1,2})\b`
)

type family struct {
	grade Grade
	re    *regexp.Regexp
}

var families = []family{
	{GradeA, regexp.MustCompile(ymdStart + rangeSep + ymdEnd)},
	{GradeB, regexp.MustCompile(ymdStart + rangeSep + mdEnd)},
	{GradeC, regexp.MustCompile(mdStart + rangeSep + mdEnd)},
}

var (
	permanentRe = regexp.MustCompile(`(?i)(상설\s*전시|상설전|상시\s*전시|상시\s*운영|permanent\s+(?:exhibition|collection)|ongoing\s+exhibition)`)

	// Words that announce an official run period.
	periodWords = []string{
		"전시기간", "기간", "개막", "폐막", "연장", "일정", "개최", "오픈",
		"period", "opening", "closing", "extended", "on view", "runs",
	}

	// Words of a personal visit narrative.
	narrativeWords = []string{
		"방문", "후기", "다녀", "관람기", "리뷰", "일기", "데이트",
		"visited", "my visit", "review", "diary",
	}

	bareWeekdayRe = regexp.MustCompile(`(?i)(?:^|[^(])(?:[월화수목금토일]요일|monday|tuesday|wednesday|thursday|friday|saturday|sunday)`)
	visitStampRe  = regexp.MustCompile(`\b\d{6}\b`)
)

const (
	periodWordBonus  = 0.5
	periodWordCap    = 1.0
	narrativePenalty = 3.0
	weekdayPenalty   = 2.0
	stampPenalty     = 2.0
)

// scoreContext adjusts a base score by the words surrounding a match.
func scoreContext(base float64, context string) float64 {
	lower := strings.ToLower(context)

	bonus := 0.0
	for _, w := range periodWords {
		if strings.Contains(lower, w) {
			bonus += periodWordBonus
		}
	}
	if bonus > periodWordCap {
		bonus = periodWordCap
	}

	score := base + bonus
	if containsAny(lower, narrativeWords) {
		score -= narrativePenalty
	}
	if bareWeekdayRe.MatchString(context) {
		score -= weekdayPenalty
	}
	if visitStampRe.MatchString(context) {
		score -= stampPenalty
	}
	return score
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
