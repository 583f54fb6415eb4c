package scanning

import (
	"strings"

	"github.com/ahrav/leakwalk/internal/domain/shared"
)

// Target is one repository to scan together with the commits to select in it.
type Target struct {
	// RepoPath is the local path of the repository or any directory inside it.
	RepoPath string
	// Name is the repository name reported in leaks. Defaults to the base
	// name of the repository's top level directory.
	Name string
	// Selector defaults to History when nil.
	Selector Selector
	// User narrows the selection to commits authored by this identity, matched
	// against the author name or, ignoring case, the author email.
	User shared.Optional[string]
}

// SelectorOrDefault returns the target's selector, or History when unset.
func (t Target) SelectorOrDefault() Selector {
	if t.Selector == nil {
		return History{}
	}
	return t.Selector
}

// MatchesUser reports whether an author passes the target's user filter.
func (t Target) MatchesUser(name, email string) bool {
	user, ok := t.User.Get()
	if !ok {
		return true
	}
	return name == user || strings.EqualFold(email, user)
}

// String identifies the target in logs and errors.
func (t Target) String() string {
	return t.RepoPath + " (" + t.SelectorOrDefault().Kind().String() + ")"
}
