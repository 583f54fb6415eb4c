// Package scanning holds the data model shared by the commit walker, the scan
// session and the reporters: commits and their added content, selection
// modes, leaks and results.
package scanning

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CommitIDSize is the length in bytes of a commit content hash.
const CommitIDSize = 20

// ErrInvalidCommitID is returned when a string is not a full hex commit id.
var ErrInvalidCommitID = errors.New("invalid commit id")

// CommitID identifies a commit by its SHA-1 content hash. Equality and
// ordering are defined on the raw bytes. The zero value identifies the
// synthetic commit built from uncommitted changes.
type CommitID [CommitIDSize]byte

// ParseCommitID parses a full 40 character hex commit id, in either case.
func ParseCommitID(s string) (CommitID, error) {
	var id CommitID
	s = strings.TrimSpace(s)
	if len(s) != hex.EncodedLen(CommitIDSize) {
		return id, fmt.Errorf("%w: %q: want %d hex characters", ErrInvalidCommitID, s, hex.EncodedLen(CommitIDSize))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return CommitID{}, fmt.Errorf("%w: %q: %v", ErrInvalidCommitID, s, err)
	}
	return id, nil
}

// String returns the 40 character lowercase hex form.
func (id CommitID) String() string { return hex.EncodeToString(id[:]) }

// Short returns the first seven hex characters.
func (id CommitID) Short() string { return id.String()[:7] }

// Compare orders ids by their raw bytes.
func (id CommitID) Compare(other CommitID) int { return bytes.Compare(id[:], other[:]) }

// IsZero reports whether id is the zero id.
func (id CommitID) IsZero() bool { return id == CommitID{} }

// Operation tells whether a CommitInfo describes a real commit or the working
// tree.
type Operation string

const (
	// OperationCommit marks content introduced by a commit in history.
	OperationCommit Operation = "commit"
	// OperationUncommitted marks content present only in the working tree.
	OperationUncommitted Operation = "uncommitted"
)

// String returns the string representation of the Operation.
func (o Operation) String() string { return string(o) }

// Fragment is a contiguous block of added lines. StartLine is the 1-based
// number of the first line in the new version of the file.
type Fragment struct {
	StartLine int
	Content   string
}

// Lines splits the fragment into lines, paired with their line numbers.
// A trailing newline does not produce an extra empty line.
func (f Fragment) Lines() []Line {
	if f.Content == "" {
		return nil
	}
	content := strings.TrimSuffix(f.Content, "\n")
	parts := strings.Split(content, "\n")
	lines := make([]Line, len(parts))
	for i, p := range parts {
		lines[i] = Line{Number: f.StartLine + i, Text: strings.TrimSuffix(p, "\r")}
	}
	return lines
}

// Line is a single added line.
type Line struct {
	Number int
	Text   string
}

// File is one changed path of a commit together with the content it added.
type File struct {
	Path      string
	Fragments []Fragment
}

// CommitInfo is everything the matcher needs to know about one commit.
type CommitInfo struct {
	Repo      string
	Commit    CommitID
	Author    string
	Email     string
	Message   string
	Date      time.Time // author date, original offset preserved
	Files     []File
	Tags      []string
	Operation Operation
}

// CommitString renders the commit id as it appears in reports. The working
// tree has no commit, so it renders empty.
func (c CommitInfo) CommitString() string {
	if c.Operation == OperationUncommitted && c.Commit.IsZero() {
		return ""
	}
	return c.Commit.String()
}
