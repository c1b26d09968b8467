package venue

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rules is the data-driven rule set behind Resolver. Build one with
// LoadRules, DefaultRules or LoadRulesFile; the zero value is unusable.
type Rules struct {
	Compound  []CompoundRule      `yaml:"compound"`
	Branches  []BranchRule        `yaml:"branches"`
	Locations []string            `yaml:"locations"`
	Suffixes  []string            `yaml:"suffixes"`
	Aliases   map[string][]string `yaml:"aliases"`

	suffixRes   []*regexp.Regexp
	locationSet map[string]bool
	aliasIndex  map[string]string
}

// CompoundRule collapses a multi-venue phrasing to one canonical name.
type CompoundRule struct {
	Pattern   string `yaml:"pattern"`
	Canonical string `yaml:"canonical"`

	re *regexp.Regexp
}

// BranchRule describes a brand operating several physical sites.
type BranchRule struct {
	Brand     string           `yaml:"brand"`
	Aliases   []string         `yaml:"aliases"`
	Default   string           `yaml:"default"`
	Locations []BranchLocation `yaml:"locations"`
}

// BranchLocation maps location keywords to one branch of a brand.
type BranchLocation struct {
	Branch   string   `yaml:"branch"`
	Keywords []string `yaml:"keywords"`
}

// Canonical returns the identity string for one branch of the brand.
func (b BranchRule) Canonical(branch string) string {
	return b.Brand + " (" + branch + ")"
}

// DefaultRules returns the embedded rule set.
func DefaultRules() (*Rules, error) {
	return LoadRules(defaultRules)
}

// LoadRulesFile reads a rule set from a YAML file.
func LoadRulesFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "venue: read rules %s", path)
	}
	return LoadRules(data)
}

// LoadRules parses and compiles a YAML rule set.
func LoadRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "venue: parse rules")
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) compile() error {
	for i := range r.Compound {
		re, err := regexp.Compile(r.Compound[i].Pattern)
		if err != nil {
			return eris.Wrapf(err, "venue: compile compound pattern %q", r.Compound[i].Pattern)
		}
		r.Compound[i].re = re
	}

	r.suffixRes = make([]*regexp.Regexp, 0, len(r.Suffixes))
	for _, p := range r.Suffixes {
		re, err := regexp.Compile(p)
		if err != nil {
			return eris.Wrapf(err, "venue: compile suffix pattern %q", p)
		}
		r.suffixRes = append(r.suffixRes, re)
	}

	r.locationSet = make(map[string]bool)
	for _, l := range r.Locations {
		r.locationSet[CompactKey(l)] = true
	}
	for _, b := range r.Branches {
		if b.Brand == "" || b.Default == "" {
			return eris.Errorf("venue: branch rule %q needs brand and default", b.Brand)
		}
		for _, loc := range b.Locations {
			for _, kw := range loc.Keywords {
				r.locationSet[CompactKey(kw)] = true
			}
		}
	}

	r.aliasIndex = make(map[string]string)
	for canonical, variants := range r.Aliases {
		r.aliasIndex[CompactKey(canonical)] = canonical
		for _, v := range variants {
			k := CompactKey(v)
			if prev, ok := r.aliasIndex[k]; ok && prev != canonical {
				return eris.Errorf("venue: alias %q maps to both %q and %q", v, prev, canonical)
			}
			r.aliasIndex[k] = canonical
		}
	}
	return nil
}

// Canonicals lists every identity the rule set can produce directly.
func (r *Rules) Canonicals() []string {
	var out []string
	for _, c := range r.Compound {
		out = append(out, c.Canonical)
	}
	for _, b := range r.Branches {
		for _, loc := range b.Locations {
			out = append(out, b.Canonical(loc.Branch))
		}
		out = append(out, b.Canonical(b.Default))
	}
	for c := range r.Aliases {
		out = append(out, c)
	}
	return out
}

func (r *Rules) matchCompound(s string) (string, bool) {
	for _, c := range r.Compound {
		if c.re.MatchString(s) {
			return c.Canonical, true
		}
	}
	return "", false
}

func (r *Rules) matchBranch(s string) (string, bool) {
	key := CompactKey(s)
	for _, b := range r.Branches {
		if !containsAny(key, b.Aliases) {
			continue
		}
		for _, loc := range b.Locations {
			if containsAny(key, loc.Keywords) {
				return b.Canonical(loc.Branch), true
			}
		}
		return b.Canonical(b.Default), true
	}
	return "", false
}

func (r *Rules) lookupAlias(s string) (string, bool) {
	c, ok := r.aliasIndex[CompactKey(s)]
	return c, ok
}

func (r *Rules) isLocation(s string) bool {
	return r.locationSet[CompactKey(s)]
}

func containsAny(key string, needles []string) bool {
	for _, n := range needles {
		if k := CompactKey(n); k != "" && strings.Contains(key, k) {
			return true
		}
	}
	return false
}
