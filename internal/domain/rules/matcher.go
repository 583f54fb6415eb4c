package rules

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultLineTimeout bounds the time spent evaluating one line.
	DefaultLineTimeout = 2 * time.Second
	// DefaultMaxLineLength is the longest line the matcher evaluates.
	DefaultMaxLineLength = 1 << 20
)

// MatchCandidate is a raw regex match of one rule within one line, before any
// allowlist has been consulted.
type MatchCandidate struct {
	RuleID string
	// Offender is the first capture group when the rule defines one and it
	// participated in the match, otherwise the whole match.
	Offender string
	// Start and End are byte offsets of Offender within the line.
	Start int
	End   int
}

// Matcher applies candidate rules to single lines of text.
type Matcher struct {
	rs            *RuleSet
	lineTimeout   time.Duration
	maxLineLength int
	now           func() time.Time
}

// MatcherOption customizes a Matcher.
type MatcherOption func(*Matcher)

// WithLineTimeout sets the per-line evaluation budget. Zero disables it.
func WithLineTimeout(d time.Duration) MatcherOption {
	return func(m *Matcher) { m.lineTimeout = d }
}

// WithMaxLineLength sets the longest line that is evaluated. Zero disables it.
func WithMaxLineLength(n int) MatcherOption {
	return func(m *Matcher) { m.maxLineLength = n }
}

// NewMatcher returns a Matcher for rules of rs.
func NewMatcher(rs *RuleSet, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		rs:            rs,
		lineTimeout:   DefaultLineTimeout,
		maxLineLength: DefaultMaxLineLength,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ScanLine evaluates every candidate rule against line and returns one
// MatchCandidate per (rule, match) pair, in candidate order then position
// order. A *MatchError means the line must be skipped as a whole.
func (m *Matcher) ScanLine(line string, lineNumber int, candidates []*Rule) (out []MatchCandidate, err error) {
	if m.maxLineLength > 0 && len(line) > m.maxLineLength {
		return nil, &MatchError{LineNumber: lineNumber, Err: ErrLineTooLong}
	}

	var current string
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &MatchError{RuleID: current, LineNumber: lineNumber, Err: fmt.Errorf("regex evaluation failed: %v", p)}
		}
	}()

	var (
		lower   string
		lowered bool
		start   = m.now()
	)
	for _, rule := range candidates {
		current = rule.id

		matches := m.match(rule, line)

		// A rule only reports on lines that carry one of its keywords. The
		// keyword index already guarantees that when gating is on.
		if len(matches) > 0 && !m.rs.gated && !rule.AlwaysCandidate() {
			if !lowered {
				lower, lowered = strings.ToLower(line), true
			}
			if !rule.keywordIn(lower) {
				matches = nil
			}
		}
		out = append(out, matches...)

		if m.lineTimeout > 0 && m.now().Sub(start) > m.lineTimeout {
			return nil, &MatchError{RuleID: rule.id, LineNumber: lineNumber, Err: ErrMatchTimeout}
		}
	}
	return out, nil
}

func (m *Matcher) match(rule *Rule, line string) []MatchCandidate {
	locs := rule.regex.FindAllStringSubmatchIndex(line, -1)
	if len(locs) == 0 {
		return nil
	}

	out := make([]MatchCandidate, 0, len(locs))
	for _, loc := range locs {
		s, e := loc[0], loc[1]
		if rule.hasGroups && len(loc) >= 4 && loc[2] >= 0 {
			s, e = loc[2], loc[3]
		}
		if s == e {
			continue
		}
		out = append(out, MatchCandidate{RuleID: rule.id, Offender: line[s:e], Start: s, End: e})
	}
	return out
}
