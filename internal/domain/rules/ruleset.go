package rules

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	regexp "github.com/wasilibs/go-re2"
)

// RuleSet holds the compiled rules, the global allowlist and the keyword index
// used to pick candidate rules per line. It is immutable after construction and
// is shared by reference between scan workers.
type RuleSet struct {
	rules       []*Rule
	byID        map[string]*Rule
	global      *Allowlist
	index       *KeywordIndex
	gated       bool
	fingerprint string
}

// RuleSetOption customizes RuleSet construction.
type RuleSetOption func(*RuleSet)

// WithoutKeywordGating disables the keyword index so every rule's regex is
// evaluated on every line. Results are identical, only slower.
func WithoutKeywordGating() RuleSetOption {
	return func(rs *RuleSet) { rs.gated = false }
}

// NewRuleSet compiles defs and the global allowlist. It fails with a
// *ConfigError on an empty or duplicate id, a pattern that does not compile,
// or an invalid allowlist.
func NewRuleSet(defs []RuleDefinition, global AllowlistDefinition, opts ...RuleSetOption) (*RuleSet, error) {
	rs := &RuleSet{
		rules: make([]*Rule, 0, len(defs)),
		byID:  make(map[string]*Rule, len(defs)),
		gated: true,
	}
	for _, opt := range opts {
		opt(rs)
	}

	var err error
	if rs.global, err = NewAllowlist("", global); err != nil {
		return nil, err
	}

	h := md5.New()
	for i, def := range defs {
		if def.ID == "" {
			return nil, &ConfigError{RuleID: fmt.Sprintf("#%d", i), Field: "id", Err: ErrEmptyRuleID}
		}
		if _, dup := rs.byID[def.ID]; dup {
			return nil, &ConfigError{RuleID: def.ID, Field: "id", Err: ErrDuplicateRuleID}
		}

		rule, err := compileRule(def)
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, rule)
		rs.byID[rule.id] = rule
		h.Write([]byte(def.GenerateHash()))
	}
	rs.fingerprint = hex.EncodeToString(h.Sum(nil))
	rs.index = newKeywordIndex(rs.rules)

	return rs, nil
}

func compileRule(def RuleDefinition) (*Rule, error) {
	if def.Regex == "" {
		return nil, &ConfigError{RuleID: def.ID, Field: "regex", Err: ErrEmptyRegex}
	}
	re, err := regexp.Compile(def.Regex)
	if err != nil {
		return nil, &ConfigError{RuleID: def.ID, Field: "regex", Err: err}
	}

	rule := &Rule{
		id:          def.ID,
		description: def.Description,
		regex:       re,
		hasGroups:   re.NumSubexp() > 0,
		keywords:    normalizeKeywords(def.Keywords),
		tags:        append([]string(nil), def.Tags...),
	}
	if def.Allowlist != nil {
		al, err := NewAllowlist(def.ID, *def.Allowlist)
		if err != nil {
			return nil, err
		}
		if !al.Empty() {
			rule.allowlist = al
		}
	}
	return rule, nil
}

// Rules returns the rules in configuration order.
func (rs *RuleSet) Rules() []*Rule { return append([]*Rule(nil), rs.rules...) }

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Rule looks a rule up by id.
func (rs *RuleSet) Rule(id string) (*Rule, bool) {
	r, ok := rs.byID[id]
	return r, ok
}

// Global returns the global allowlist.
func (rs *RuleSet) Global() *Allowlist { return rs.global }

// Filter returns the allowlist filter for this rule set.
func (rs *RuleSet) Filter() Filter { return NewFilter(rs.global) }

// Gated reports whether candidate selection uses the keyword index.
func (rs *RuleSet) Gated() bool { return rs.gated }

// Fingerprint is a digest over every rule's content, stable across runs.
func (rs *RuleSet) Fingerprint() string { return rs.fingerprint }

// CandidateRules returns the rules worth evaluating against line, in rule set
// order. With gating disabled it returns every rule.
func (rs *RuleSet) CandidateRules(line string) []*Rule {
	if !rs.gated {
		return rs.rules
	}
	return rs.index.candidates(line)
}
