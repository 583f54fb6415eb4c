package scanning

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/leakwalk/internal/domain/rules"
)

func TestNewLeak(t *testing.T) {
	t.Parallel()

	id, err := ParseCommitID("deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	require.NoError(t, err)

	info := CommitInfo{
		Repo:      "demo",
		Commit:    id,
		Author:    "Jane Doe",
		Email:     "jane@example.com",
		Message:   "add config",
		Date:      time.Date(2023, 3, 14, 15, 9, 26, 0, time.FixedZone("", 2*3600)),
		Tags:      []string{"v1.0.0", "release"},
		Operation: OperationCommit,
	}
	line := Line{Number: 5, Text: `API_KEY = "abcd1234abcd1234"`}
	match := rules.MatchCandidate{RuleID: "generic-api-key", Offender: "abcd1234abcd1234", Start: 11, End: 27}

	leak := NewLeak(info, "config.py", line, match)

	assert.Equal(t, Leak{
		Line:          `API_KEY = "abcd1234abcd1234"`,
		LineNumber:    5,
		Offender:      "abcd1234abcd1234",
		Commit:        "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Repo:          "demo",
		Rule:          "generic-api-key",
		CommitMessage: "add config",
		Author:        "Jane Doe",
		Email:         "jane@example.com",
		File:          "config.py",
		Date:          "2023-03-14 15:09:26 +0200",
		Tags:          "v1.0.0, release",
		Operation:     "commit",
	}, leak)
}

func TestLeak_JSONFieldOrder(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Leak{Operation: "uncommitted"})
	require.NoError(t, err)
	assert.Equal(t,
		`{"line":"","line_number":0,"offender":"","commit":"","repo":"","rule":"","commit_message":"",`+
			`"author":"","email":"","file":"","date":"","tags":"","operation":"uncommitted"}`,
		string(b),
	)
}

func TestResults_JSON(t *testing.T) {
	t.Parallel()

	r := NewResults()
	r.CommitsNumber = 3
	r.Warnings = append(r.Warnings, NewWarning(&ReadError{Commit: "abc", Path: "a.bin", Err: errors.New("zlib: invalid header")}))

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"commits_number":3,"outputs":[]}`, string(b))
	assert.False(t, r.HasLeaks())

	w := r.Warnings[0]
	assert.Equal(t, "abc", w.Commit)
	assert.Equal(t, "a.bin", w.Path)
	assert.Equal(t, "commit abc: a.bin: zlib: invalid header", w.Message())
}

func TestResults_Merge(t *testing.T) {
	t.Parallel()

	a := NewResults()
	a.CommitsNumber = 2
	a.Outputs = append(a.Outputs, Leak{Offender: "first"})

	b := NewResults()
	b.CommitsNumber = 5
	b.Outputs = append(b.Outputs, Leak{Offender: "second"}, Leak{Offender: "third"})
	b.Warnings = append(b.Warnings, NewWarning(errors.New("skipped")))

	a.Merge(b)
	a.Merge(nil)

	assert.Equal(t, 7, a.CommitsNumber)
	require.Len(t, a.Outputs, 3)
	assert.Equal(t, "first", a.Outputs[0].Offender)
	assert.Equal(t, "third", a.Outputs[2].Offender)
	assert.Len(t, a.Warnings, 1)
}
