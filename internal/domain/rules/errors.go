package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateRuleID is returned when two rule definitions share an id.
	ErrDuplicateRuleID = errors.New("duplicate rule id")
	// ErrEmptyRuleID is returned for a rule definition without an id.
	ErrEmptyRuleID = errors.New("rule id is empty")
	// ErrEmptyRegex is returned for a rule definition without a pattern.
	ErrEmptyRegex = errors.New("rule regex is empty")
	// ErrInvalidRegexTarget is returned for a regex target other than "match" or "line".
	ErrInvalidRegexTarget = errors.New("invalid regex target")

	// ErrMatchTimeout indicates a line exceeded its evaluation budget.
	ErrMatchTimeout = errors.New("line evaluation exceeded time budget")
	// ErrLineTooLong indicates a line was skipped because of its length.
	ErrLineTooLong = errors.New("line exceeds maximum length")
)

// ConfigError reports an invalid rule or allowlist definition. It is fatal and
// always raised before any scanning starts.
type ConfigError struct {
	// RuleID is empty for errors in the global allowlist.
	RuleID string
	Field  string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("global allowlist: invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("rule %q: invalid %s: %v", e.RuleID, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// MatchError reports a runtime fault while evaluating a line. Callers treat it
// like an unreadable entry: the line is skipped and scanning continues.
type MatchError struct {
	RuleID     string
	LineNumber int
	Err        error
}

func (e *MatchError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("line %d: %v", e.LineNumber, e.Err)
	}
	return fmt.Sprintf("rule %q at line %d: %v", e.RuleID, e.LineNumber, e.Err)
}

func (e *MatchError) Unwrap() error { return e.Err }
