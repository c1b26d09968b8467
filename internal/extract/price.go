package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PriceResult is an admission price as written in the source.
type PriceResult struct {
	Text string
	Free bool
}

// Free only counts in an admission phrase; "무료 주차" or "barrier-free"
// say nothing about the ticket.
var (
	freeRe  = regexp.MustCompile(`(?i)(무료\s*(?:관람|입장|전시)|(?:관람료|입장료|관람|입장)\s*[:：]?\s*무료|입장료\s*없음|\bfree\s+(?:admission|entry)\b|\b(?:admission|entry)\s*(?:is\s+|:\s*)?free\b)`)
	priceRe = regexp.MustCompile(`(?i)(?:₩|\bKRW)\s?\d[\d,]*|\d[\d,]*(?:\.\d+)?\s?(?:만\s?)?원|\$\s?\d[\d,]*(?:\.\d{1,2})?|\b\d[\d,]*\s?(?:won|krw)\b`)
)

// FreeText is the normalized text stored for free admission.
const FreeText = "무료"

// ExtractPrice returns the admission price mentioned in text, or nil. A
// free-admission phrase wins over any amount; otherwise the first amount is
// returned verbatim.
func ExtractPrice(text string) *PriceResult {
	text = norm.NFKC.String(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if freeRe.MatchString(text) {
		return &PriceResult{Text: FreeText, Free: true}
	}
	if m := priceRe.FindString(text); m != "" {
		return &PriceResult{Text: strings.TrimSpace(m)}
	}
	return nil
}
