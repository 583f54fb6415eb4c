package scanning

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ahrav/leakwalk/internal/domain/shared"
)

// SelectorKind names a commit selection mode.
type SelectorKind string

const (
	SelectorHistory      SelectorKind = "history"
	SelectorSingleCommit SelectorKind = "commit"
	SelectorCommitList   SelectorKind = "commits"
	SelectorDateRange    SelectorKind = "date-range"
	SelectorCommitRange  SelectorKind = "commit-range"
	SelectorBranch       SelectorKind = "branch"
	SelectorUncommitted  SelectorKind = "uncommitted"
)

// String returns the string representation of the SelectorKind.
func (k SelectorKind) String() string { return string(k) }

// Selector picks which commits of a repository are scanned. The concrete
// selectors in this package are the only implementations.
type Selector interface {
	Kind() SelectorKind
	selector()
}

// LatestCommit is the SingleCommit reference naming the commit HEAD points to.
const LatestCommit = "latest"

// History selects the whole first-parent history reachable from HEAD. It is
// the default when no other selector is given.
type History struct{}

// SingleCommit selects one commit by full or abbreviated id, or LatestCommit.
type SingleCommit struct{ Ref string }

// CommitList selects the listed commits in the given order. Duplicates are
// scanned once.
type CommitList struct{ Refs []string }

// DateRange selects history commits whose author date falls within the
// inclusive bounds. An unset bound is open.
type DateRange struct {
	Since shared.Optional[time.Time]
	Until shared.Optional[time.Time]
}

// CommitRange selects the first-parent chain after From up to and including To.
type CommitRange struct {
	From string
	To   string
}

// Branch selects the first-parent history of a branch tip.
type Branch struct{ Name string }

// Uncommitted selects the changes in the working tree and index relative to HEAD.
type Uncommitted struct{}

func (History) Kind() SelectorKind      { return SelectorHistory }
func (SingleCommit) Kind() SelectorKind { return SelectorSingleCommit }
func (CommitList) Kind() SelectorKind   { return SelectorCommitList }
func (DateRange) Kind() SelectorKind    { return SelectorDateRange }
func (CommitRange) Kind() SelectorKind  { return SelectorCommitRange }
func (Branch) Kind() SelectorKind       { return SelectorBranch }
func (Uncommitted) Kind() SelectorKind  { return SelectorUncommitted }

func (History) selector()      {}
func (SingleCommit) selector() {}
func (CommitList) selector()   {}
func (DateRange) selector()    {}
func (CommitRange) selector()  {}
func (Branch) selector()       {}
func (Uncommitted) selector()  {}

// CommitListFromFile reads a CommitList from path: one reference per line,
// blank lines and lines starting with # ignored.
func CommitListFromFile(path string) (CommitList, error) {
	f, err := os.Open(path)
	if err != nil {
		return CommitList{}, fmt.Errorf("open commit list: %w", err)
	}
	defer f.Close()

	var refs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	if err := sc.Err(); err != nil {
		return CommitList{}, fmt.Errorf("read commit list %s: %w", path, err)
	}
	return CommitList{Refs: refs}, nil
}

var dateBoundLayouts = []string{
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
}

// ErrInvalidDateBound is returned for a date bound in no supported layout.
var ErrInvalidDateBound = errors.New("invalid date bound")

// ParseDateBound parses a date range bound. A date without a time is
// normalized to midnight UTC. Timestamps keep their offset.
func ParseDateBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range dateBoundLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q (want YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS+hhmm)", ErrInvalidDateBound, s)
}

// NewDateRange builds a DateRange from optional textual bounds.
func NewDateRange(since, until shared.Optional[string]) (DateRange, error) {
	var dr DateRange
	if s, ok := since.Get(); ok {
		t, err := ParseDateBound(s)
		if err != nil {
			return DateRange{}, fmt.Errorf("since: %w", err)
		}
		dr.Since = shared.Some(t)
	}
	if s, ok := until.Get(); ok {
		t, err := ParseDateBound(s)
		if err != nil {
			return DateRange{}, fmt.Errorf("until: %w", err)
		}
		dr.Until = shared.Some(t)
	}

	from, hasFrom := dr.Since.Get()
	to, hasTo := dr.Until.Get()
	if hasFrom && hasTo && to.Before(from) {
		return DateRange{}, ErrInvalidDateRange
	}
	return dr, nil
}

// Contains reports whether t lies within the range, bounds included.
func (d DateRange) Contains(t time.Time) bool {
	if since, ok := d.Since.Get(); ok && t.Before(since) {
		return false
	}
	if until, ok := d.Until.Get(); ok && t.After(until) {
		return false
	}
	return true
}

// String renders the range for logs and errors.
func (d DateRange) String() string {
	format := func(o shared.Optional[time.Time]) string {
		if t, ok := o.Get(); ok {
			return t.Format(time.RFC3339)
		}
		return "*"
	}
	return format(d.Since) + ".." + format(d.Until)
}
