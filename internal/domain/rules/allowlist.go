package rules

import (
	"fmt"
	"strings"

	regexp "github.com/wasilibs/go-re2"
)

// RegexTarget selects which text an allowlist's regexes and stopwords are
// evaluated against.
type RegexTarget int

const (
	// RegexTargetMatch evaluates against the offender (the matched secret).
	RegexTargetMatch RegexTarget = iota
	// RegexTargetLine evaluates against the full line containing the match.
	RegexTargetLine
)

// ParseRegexTarget converts a configuration value into a RegexTarget. The
// empty string selects RegexTargetMatch.
func ParseRegexTarget(s string) (RegexTarget, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "match":
		return RegexTargetMatch, nil
	case "line":
		return RegexTargetLine, nil
	default:
		return RegexTargetMatch, fmt.Errorf("%w: %q", ErrInvalidRegexTarget, s)
	}
}

// String returns the configuration spelling of the target.
func (t RegexTarget) String() string {
	if t == RegexTargetLine {
		return "line"
	}
	return "match"
}

// AllowlistDefinition is an allowlist as it is described in configuration.
type AllowlistDefinition struct {
	Description string
	// Paths are regexes matched against the file path.
	Paths []string
	// Commits are exact commit identifiers.
	Commits []string
	// RegexTarget is "match" (default) or "line".
	RegexTarget string
	// Regexes suppress a match when they match the targeted text.
	Regexes []string
	// StopWords suppress a match when the targeted text contains them,
	// ignoring case.
	StopWords []string
}

// Target is everything a suppression predicate may look at.
type Target struct {
	Path     string
	Commit   string
	Line     string
	Offender string
}

// PredicateKind names one of the four suppression predicates.
type PredicateKind string

const (
	PredicatePath     PredicateKind = "path"
	PredicateCommit   PredicateKind = "commit"
	PredicateRegex    PredicateKind = "regex"
	PredicateStopword PredicateKind = "stopword"
)

// Predicate is a single suppression rule. An empty predicate never suppresses.
type Predicate interface {
	Kind() PredicateKind
	Empty() bool
	Suppresses(t Target) bool
}

// PathPredicate suppresses targets whose path matches any of its regexes.
type PathPredicate struct{ patterns []*regexp.Regexp }

func (p PathPredicate) Kind() PredicateKind { return PredicatePath }
func (p PathPredicate) Empty() bool         { return len(p.patterns) == 0 }

func (p PathPredicate) Suppresses(t Target) bool {
	for _, re := range p.patterns {
		if re.MatchString(t.Path) {
			return true
		}
	}
	return false
}

// CommitPredicate suppresses targets in any of its commits.
type CommitPredicate struct{ commits map[string]struct{} }

func (p CommitPredicate) Kind() PredicateKind { return PredicateCommit }
func (p CommitPredicate) Empty() bool         { return len(p.commits) == 0 }

func (p CommitPredicate) Suppresses(t Target) bool {
	if len(p.commits) == 0 || t.Commit == "" {
		return false
	}
	_, ok := p.commits[strings.ToLower(t.Commit)]
	return ok
}

// RegexPredicate suppresses targets whose offender or line (per target)
// matches any of its regexes.
type RegexPredicate struct {
	target   RegexTarget
	patterns []*regexp.Regexp
}

func (p RegexPredicate) Kind() PredicateKind { return PredicateRegex }
func (p RegexPredicate) Empty() bool         { return len(p.patterns) == 0 }

func (p RegexPredicate) Suppresses(t Target) bool {
	text := selectText(p.target, t)
	for _, re := range p.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// StopwordPredicate suppresses targets whose offender or line (per target)
// contains any stopword, ignoring case.
type StopwordPredicate struct {
	target RegexTarget
	words  []string // lowercased
}

func (p StopwordPredicate) Kind() PredicateKind { return PredicateStopword }
func (p StopwordPredicate) Empty() bool         { return len(p.words) == 0 }

func (p StopwordPredicate) Suppresses(t Target) bool {
	if len(p.words) == 0 {
		return false
	}
	text := strings.ToLower(selectText(p.target, t))
	for _, w := range p.words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func selectText(target RegexTarget, t Target) string {
	if target == RegexTargetLine {
		return t.Line
	}
	return t.Offender
}

// Allowlist is a compiled suppression policy. A nil *Allowlist is valid and
// never suppresses anything.
type Allowlist struct {
	description string
	target      RegexTarget
	paths       PathPredicate
	commits     CommitPredicate
	regexes     RegexPredicate
	stopwords   StopwordPredicate
}

// NewAllowlist compiles def. ruleID is used for error reporting only and is
// empty for the global allowlist.
func NewAllowlist(ruleID string, def AllowlistDefinition) (*Allowlist, error) {
	target, err := ParseRegexTarget(def.RegexTarget)
	if err != nil {
		return nil, &ConfigError{RuleID: ruleID, Field: "allowlist regex target", Err: err}
	}

	paths, err := compileAll(def.Paths)
	if err != nil {
		return nil, &ConfigError{RuleID: ruleID, Field: "allowlist path", Err: err}
	}
	regexes, err := compileAll(def.Regexes)
	if err != nil {
		return nil, &ConfigError{RuleID: ruleID, Field: "allowlist regex", Err: err}
	}

	var commits map[string]struct{}
	for _, c := range def.Commits {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if commits == nil {
			commits = make(map[string]struct{}, len(def.Commits))
		}
		commits[c] = struct{}{}
	}

	var words []string
	for _, w := range def.StopWords {
		if w = strings.ToLower(w); w != "" {
			words = append(words, w)
		}
	}

	return &Allowlist{
		description: def.Description,
		target:      target,
		paths:       PathPredicate{patterns: paths},
		commits:     CommitPredicate{commits: commits},
		regexes:     RegexPredicate{target: target, patterns: regexes},
		stopwords:   StopwordPredicate{target: target, words: words},
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Description returns the allowlist's description.
func (a *Allowlist) Description() string {
	if a == nil {
		return ""
	}
	return a.description
}

// RegexTarget returns the text regexes and stopwords are evaluated against.
func (a *Allowlist) RegexTarget() RegexTarget {
	if a == nil {
		return RegexTargetMatch
	}
	return a.target
}

// Predicates returns the four predicates in evaluation order.
func (a *Allowlist) Predicates() []Predicate {
	if a == nil {
		return nil
	}
	return []Predicate{a.paths, a.commits, a.regexes, a.stopwords}
}

// Empty reports whether all four lists are empty.
func (a *Allowlist) Empty() bool {
	if a == nil {
		return true
	}
	return a.paths.Empty() && a.commits.Empty() && a.regexes.Empty() && a.stopwords.Empty()
}

// SuppressesPath reports whether path is allowlisted.
func (a *Allowlist) SuppressesPath(path string) bool {
	if a == nil {
		return false
	}
	return a.paths.Suppresses(Target{Path: path})
}

// SuppressesCommit reports whether commit is allowlisted.
func (a *Allowlist) SuppressesCommit(commit string) bool {
	if a == nil {
		return false
	}
	return a.commits.Suppresses(Target{Commit: commit})
}

// SuppressesContent reports whether the regexes or stopwords suppress t.
func (a *Allowlist) SuppressesContent(t Target) bool {
	if a == nil {
		return false
	}
	return a.stopwords.Suppresses(t) || a.regexes.Suppresses(t)
}

// Suppresses evaluates all four predicates against t.
func (a *Allowlist) Suppresses(t Target) bool {
	for _, p := range a.Predicates() {
		if p.Suppresses(t) {
			return true
		}
	}
	return false
}

// Filter applies the two allowlist tiers: the global allowlist, which can drop
// whole commits and files, and each rule's own allowlist, which only ever
// drops individual matches.
type Filter struct{ global *Allowlist }

// NewFilter returns a Filter over the global allowlist.
func NewFilter(global *Allowlist) Filter { return Filter{global: global} }

// SkipCommit reports whether the commit is globally allowlisted.
func (f Filter) SkipCommit(commit string) bool { return f.global.SuppressesCommit(commit) }

// SkipFile reports whether the path is globally allowlisted.
func (f Filter) SkipFile(path string) bool { return f.global.SuppressesPath(path) }

// Suppress reports whether a raw match of rule described by t is allowlisted.
func (f Filter) Suppress(rule *Rule, t Target) bool {
	if f.global.SuppressesContent(t) {
		return true
	}
	return rule.Allowlist().Suppresses(t)
}
