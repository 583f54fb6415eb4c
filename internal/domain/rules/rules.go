// Package rules compiles detection rules and allowlists and decides, line by
// line, which regex matches are reportable.
package rules

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	regexp "github.com/wasilibs/go-re2"
)

// RuleDefinition is a detection rule as it is described in configuration,
// before any of its patterns are compiled.
type RuleDefinition struct {
	ID          string
	Description string
	Regex       string
	Keywords    []string
	Tags        []string
	Allowlist   *AllowlistDefinition
}

// GenerateHash generates a deterministic MD5 hash of the essential rule content.
func (d RuleDefinition) GenerateHash() string {
	h := md5.New()

	h.Write([]byte(d.ID))
	h.Write([]byte(d.Regex))

	// Keywords and allowlist entries change which leaks a rule reports even
	// when the pattern itself is untouched.
	for _, keyword := range d.Keywords {
		h.Write([]byte(keyword))
	}

	if a := d.Allowlist; a != nil {
		h.Write([]byte(a.Description))
		for _, commit := range a.Commits {
			h.Write([]byte(commit))
		}
		for _, path := range a.Paths {
			h.Write([]byte(path))
		}
		for _, regex := range a.Regexes {
			h.Write([]byte(regex))
		}
		h.Write([]byte(a.RegexTarget))
		for _, stopWord := range a.StopWords {
			h.Write([]byte(stopWord))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Rule is a compiled detection rule. It is immutable once built by NewRuleSet
// and safe to share between goroutines.
type Rule struct {
	id          string
	description string
	regex       *regexp.Regexp
	hasGroups   bool
	keywords    []string // lowercased, deduplicated
	tags        []string
	allowlist   *Allowlist // nil when the rule has none
}

// ID returns the rule's unique identifier.
func (r *Rule) ID() string { return r.id }

// Description returns the human readable description.
func (r *Rule) Description() string { return r.description }

// Regex returns the compiled detection pattern.
func (r *Rule) Regex() *regexp.Regexp { return r.regex }

// Keywords returns the lowercased keywords gating this rule.
func (r *Rule) Keywords() []string { return append([]string(nil), r.keywords...) }

// Tags returns the rule's tags.
func (r *Rule) Tags() []string { return append([]string(nil), r.tags...) }

// Allowlist returns the rule's own allowlist, or nil.
func (r *Rule) Allowlist() *Allowlist { return r.allowlist }

// AlwaysCandidate reports whether the rule has no keywords and therefore runs
// on every line.
func (r *Rule) AlwaysCandidate() bool { return len(r.keywords) == 0 }

// keywordIn reports whether any keyword occurs in the already lowercased line.
func (r *Rule) keywordIn(lowerLine string) bool {
	if r.AlwaysCandidate() {
		return true
	}
	for _, kw := range r.keywords {
		if strings.Contains(lowerLine, kw) {
			return true
		}
	}
	return false
}

func normalizeKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}
