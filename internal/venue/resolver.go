// Package venue canonicalizes provider-specific venue spellings into one
// stable venue identity.
package venue

import (
	"regexp"
	"strings"
	"sync"
)

const defaultCacheSize = 4096

var terminalRe = regexp.MustCompile(`(?i)(미술관|박물관|갤러리|센터|museum|gallery|cent(?:er|re))`)

// Resolver maps raw venue names to canonical venue identities. It is safe
// for concurrent use.
type Resolver struct {
	rules *Rules

	mu        sync.RWMutex
	cache     map[string]string
	cacheSize int
	known     map[string]string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCacheSize bounds the memo cache. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		r.cacheSize = n
	}
}

// NewResolver creates a Resolver over a compiled rule set.
func NewResolver(rules *Rules, opts ...Option) *Resolver {
	r := &Resolver{
		rules:     rules,
		cache:     make(map[string]string),
		cacheSize: defaultCacheSize,
		known:     make(map[string]string),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the canonical identity for raw, or "" when raw carries no
// usable name. Resolve(Resolve(x)) == Resolve(x) for every x.
func (r *Resolver) Resolve(raw string) string {
	s := Normalize(raw)
	if s == "" {
		return ""
	}

	r.mu.RLock()
	if c, ok := r.cache[s]; ok {
		r.mu.RUnlock()
		return c
	}
	r.mu.RUnlock()

	out := r.resolveStatic(s)
	if k := CompactKey(out); k != "" {
		r.mu.RLock()
		if name, ok := r.known[k]; ok {
			out = name
		}
		r.mu.RUnlock()
	}

	r.remember(s, out)
	return out
}

// Learn registers persisted venue names so later spellings that differ only
// in case, spacing or punctuation resolve to them. Names that are not
// already canonical are ignored.
func (r *Resolver) Learn(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		n = Normalize(n)
		if n == "" || r.resolveStatic(n) != n {
			continue
		}
		k := CompactKey(n)
		if _, ok := r.known[k]; !ok {
			r.known[k] = n
		}
	}
	// Cached answers may now be stale.
	r.cache = make(map[string]string)
}

func (r *Resolver) remember(s, out string) {
	if r.cacheSize <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) >= r.cacheSize {
		r.cache = make(map[string]string)
	}
	r.cache[s] = out
}

// resolveStatic applies the rule table only. s must be normalized.
func (r *Resolver) resolveStatic(s string) string {
	if c, ok := r.rules.matchCompound(s); ok {
		return c
	}
	if c, ok := r.rules.matchBranch(s); ok {
		return c
	}

	cleaned := r.clean(s)
	if c, ok := r.rules.lookupAlias(cleaned); ok {
		return c
	}
	if c, ok := r.rules.lookupAlias(s); ok {
		return c
	}
	return cleaned
}

// clean drops noise parentheticals, strips structural suffixes and puts
// kept location qualifiers back at the end.
func (r *Resolver) clean(s string) string {
	var kept []string
	base, groups := splitGroups(s)
	for _, g := range groups {
		g = Normalize(g)
		if g != "" && !strings.ContainsAny(g, "()[]") && r.rules.isLocation(g) {
			kept = append(kept, g)
		}
	}
	base = r.stripSuffixes(Normalize(base))
	for _, k := range kept {
		if base == "" {
			base = k
			continue
		}
		base += " (" + k + ")"
	}
	return base
}

// splitGroups removes top-level (...) and [...] groups from s, nested ones
// included, and returns their contents. A group left open runs to the end
// of s; a stray closing bracket is dropped.
func splitGroups(s string) (string, []string) {
	var (
		base   strings.Builder
		inner  strings.Builder
		groups []string
		depth  int
	)
	for _, c := range s {
		switch c {
		case '(', '[':
			if depth > 0 {
				inner.WriteRune(c)
			} else {
				base.WriteByte(' ')
			}
			depth++
			continue
		case ')', ']':
			switch {
			case depth > 1:
				inner.WriteRune(c)
				depth--
			case depth == 1:
				groups = append(groups, inner.String())
				inner.Reset()
				depth = 0
			default:
				base.WriteByte(' ')
			}
			continue
		}
		if depth > 0 {
			inner.WriteRune(c)
		} else {
			base.WriteRune(c)
		}
	}
	if depth > 0 {
		groups = append(groups, inner.String())
	}
	return base.String(), groups
}

func (r *Resolver) stripSuffixes(s string) string {
	for changed := true; changed; {
		changed = false
		for _, re := range r.rules.suffixRes {
			loc := re.FindStringIndex(s)
			if loc == nil {
				continue
			}
			next := strings.TrimSpace(s[:loc[0]])
			if next == "" || terminalRe.MatchString(s[loc[0]:]) {
				continue
			}
			s = next
			changed = true
		}
	}
	return s
}
