package scanning

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRef is returned when a commit, branch or tag name cannot be
	// found in the repository.
	ErrUnknownRef = errors.New("unknown reference")
	// ErrAmbiguousRef is returned when an abbreviated id matches more than one commit.
	ErrAmbiguousRef = errors.New("ambiguous reference")
	// ErrRangeUnreachable is returned when the start of a commit range is not
	// an ancestor of its end.
	ErrRangeUnreachable = errors.New("range start is not an ancestor of range end")
	// ErrInvalidDateRange is returned when a date range ends before it starts.
	ErrInvalidDateRange = errors.New("date range ends before it starts")
)

// ResolutionError reports that a target's selector could not be turned into a
// list of commits. It is fatal for that target only and is always returned
// before any commit of the target has been scanned.
type ResolutionError struct {
	Target string
	Ref    string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("resolve %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("resolve %s: %s: %v", e.Target, e.Ref, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ReadError reports an entry that could not be read or evaluated. The entry is
// skipped and scanning continues. Path and Line are empty when the failure
// concerns a whole commit or file.
type ReadError struct {
	Commit string
	Path   string
	Line   int
	Err    error
}

func (e *ReadError) Error() string {
	switch {
	case e.Path == "":
		return fmt.Sprintf("commit %s: %v", e.Commit, e.Err)
	case e.Line == 0:
		return fmt.Sprintf("commit %s: %s: %v", e.Commit, e.Path, e.Err)
	default:
		return fmt.Sprintf("commit %s: %s:%d: %v", e.Commit, e.Path, e.Line, e.Err)
	}
}

func (e *ReadError) Unwrap() error { return e.Err }
