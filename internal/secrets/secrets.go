// Package secrets redacts credentials that users paste into build queries
// before the text is sent to a model provider or written to logs.
//
// Detection is rule based. Each rule is a regular expression, optionally
// gated by keywords that must appear somewhere in the text. Overlapping
// matches from different rules collapse into a single redaction.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultReplacement is substituted for each redacted span.
const DefaultReplacement = "[REDACTED]"

// Rule describes one kind of credential.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	// Keywords gate the rule: when set, at least one must occur
	// (case-insensitively) in the text for Pattern to be evaluated.
	Keywords []string
}

// Finding is one detected credential. Offsets refer to the input text.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Result is the outcome of scrubbing a text.
type Result struct {
	Text     string
	Findings []Finding
}

// Redacted reports whether anything was removed.
func (r Result) Redacted() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the distinct rules that matched, sorted.
func (r Result) RuleIDs() []string {
	seen := make(map[string]bool, len(r.Findings))
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []string
}

// Scrubber redacts credentials. It is immutable and safe for concurrent use.
type Scrubber struct {
	rules       []compiledRule
	allow       []*regexp.Regexp
	replacement string
}

// Option configures a Scrubber.
type Option func(*Scrubber) error

// WithReplacement overrides DefaultReplacement.
func WithReplacement(s string) Option {
	return func(sc *Scrubber) error {
		sc.replacement = s
		return nil
	}
}

// WithAllowList skips matches that match any of patterns.
func WithAllowList(patterns ...string) Option {
	return func(sc *Scrubber) error {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("invalid allow pattern %q: %w", p, err)
			}
			sc.allow = append(sc.allow, re)
		}
		return nil
	}
}

// New compiles rules. With no rules, DefaultRules is used.
func New(rules []Rule, opts ...Option) (*Scrubber, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	s := &Scrubber{replacement: DefaultReplacement}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule with pattern %q has no id", r.Pattern)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		kws := make([]string, len(r.Keywords))
		for i, kw := range r.Keywords {
			kws[i] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, pattern: re, keywords: kws})
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustNew is New for the built-in rules; it panics on error.
func MustNew(opts ...Option) *Scrubber {
	s, err := New(nil, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub returns text with every detected credential replaced.
func (s *Scrubber) Scrub(text string) Result {
	findings := s.Check(text)
	if len(findings) == 0 {
		return Result{Text: text}
	}

	spans := mergeSpans(findings)
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, sp := range spans {
		b.WriteString(text[last:sp.start])
		b.WriteString(s.replacement)
		last = sp.end
	}
	b.WriteString(text[last:])
	return Result{Text: b.String(), Findings: findings}
}

// Check detects credentials without redacting. Findings are ordered by
// offset.
func (s *Scrubber) Check(text string) []Finding {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var findings []Finding
	for _, r := range s.rules {
		if !r.gated(lower) {
			continue
		}
		for _, m := range r.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			findings = append(findings, Finding{
				RuleID: r.id,
				Line:   strings.Count(text[:m[0]], "\n") + 1,
				Start:  m[0],
				End:    m[1],
			})
		}
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Start < findings[j].Start
	})
	return findings
}

func (r compiledRule) gated(lower string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

type span struct{ start, end int }

// mergeSpans collapses overlapping findings. findings must be sorted by
// Start.
func mergeSpans(findings []Finding) []span {
	spans := []span{{findings[0].Start, findings[0].End}}
	for _, f := range findings[1:] {
		last := &spans[len(spans)-1]
		if f.Start <= last.end {
			last.end = max(last.end, f.End)
			continue
		}
		spans = append(spans, span{f.Start, f.End})
	}
	return spans
}
