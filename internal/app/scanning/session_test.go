package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/leakwalk/internal/domain/rules"
	"github.com/ahrav/leakwalk/internal/domain/scanning"
	"github.com/ahrav/leakwalk/pkg/common/logger"
)

// fakeSource serves a fixed list of commits. Every target resolves to the same
// commits unless its RepoPath is listed in failing.
type fakeSource struct {
	commits  []scanning.CommitInfo
	warnings map[scanning.CommitID][]error
	loadErrs map[scanning.CommitID]error
	failing  map[string]error
	onLoad   func(id scanning.CommitID)
}

func (f *fakeSource) Resolve(_ context.Context, target scanning.Target) (scanning.CommitStream, error) {
	if err, ok := f.failing[target.RepoPath]; ok {
		return nil, err
	}
	byID := make(map[scanning.CommitID]scanning.CommitInfo, len(f.commits))
	for _, c := range f.commits {
		byID[c.Commit] = c
	}
	return &fakeStream{src: f, byID: byID}, nil
}

type fakeStream struct {
	src  *fakeSource
	byID map[scanning.CommitID]scanning.CommitInfo

	mu   sync.Mutex
	next int
}

func (s *fakeStream) Len() int { return len(s.src.commits) }

func (s *fakeStream) NextID(ctx context.Context) (scanning.CommitID, error) {
	if err := ctx.Err(); err != nil {
		return scanning.CommitID{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.src.commits) {
		return scanning.CommitID{}, io.EOF
	}
	id := s.src.commits[s.next].Commit
	s.next++
	return id, nil
}

func (s *fakeStream) Load(_ context.Context, id scanning.CommitID) (scanning.CommitInfo, []error, error) {
	if s.src.onLoad != nil {
		s.src.onLoad(id)
	}
	if err, ok := s.src.loadErrs[id]; ok {
		return scanning.CommitInfo{}, nil, err
	}
	return s.byID[id], s.src.warnings[id], nil
}

func (s *fakeStream) Next(ctx context.Context) (scanning.CommitInfo, []error, error) {
	id, err := s.NextID(ctx)
	if err != nil {
		return scanning.CommitInfo{}, nil, err
	}
	return s.Load(ctx, id)
}

func commitID(n int) scanning.CommitID {
	var id scanning.CommitID
	id[18] = byte(n >> 8)
	id[19] = byte(n) + 1
	id[0] = 0xde
	return id
}

func commit(n int, files ...scanning.File) scanning.CommitInfo {
	return scanning.CommitInfo{
		Repo:      "demo",
		Commit:    commitID(n),
		Author:    "Jane Doe",
		Email:     "jane@example.com",
		Message:   fmt.Sprintf("change %d", n),
		Date:      time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour),
		Files:     files,
		Operation: scanning.OperationCommit,
	}
}

func file(path string, startLine int, content string) scanning.File {
	return scanning.File{
		Path:      path,
		Fragments: []scanning.Fragment{{StartLine: startLine, Content: content}},
	}
}

func apiKeyRule() rules.RuleDefinition {
	return rules.RuleDefinition{
		ID:       "generic-api-key",
		Regex:    `(?i)api_key\s*=\s*['"]([a-z0-9]{16,})['"]`,
		Keywords: []string{"api_key"},
	}
}

func newTestSession(t *testing.T, src scanning.CommitSource, rs *rules.RuleSet, opts SessionOptions) *ScanSession {
	t.Helper()
	metrics, err := NewMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)
	return NewScanSession(src, rs, opts, logger.Noop(), noop.NewTracerProvider().Tracer("test"), metrics)
}

func mustRuleSet(t *testing.T, global rules.AllowlistDefinition, defs ...rules.RuleDefinition) *rules.RuleSet {
	t.Helper()
	rs, err := rules.NewRuleSet(defs, global)
	require.NoError(t, err)
	return rs
}

func TestScanSession_Run_APIKey(t *testing.T) {
	t.Parallel()

	src := &fakeSource{commits: []scanning.CommitInfo{
		commit(0, file("config.py", 5, "API_KEY = \"abcd1234abcd1234\"\n")),
	}}
	rs := mustRuleSet(t, rules.AllowlistDefinition{}, apiKeyRule())
	session := newTestSession(t, src, rs, SessionOptions{Workers: 2})

	res, err := session.Run(context.Background(), scanning.Target{RepoPath: "demo"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.CommitsNumber)
	require.Len(t, res.Outputs, 1)
	leak := res.Outputs[0]
	assert.Equal(t, "abcd1234abcd1234", leak.Offender)
	assert.Equal(t, "generic-api-key", leak.Rule)
	assert.Equal(t, 5, leak.LineNumber)
	assert.Equal(t, "config.py", leak.File)
	assert.Equal(t, commitID(0).String(), leak.Commit)
	assert.Equal(t, "commit", leak.Operation)
	assert.Empty(t, res.Warnings)
}

func TestScanSession_Run_Suppression(t *testing.T) {
	t.Parallel()

	withStopword := apiKeyRule()
	withStopword.Allowlist = &rules.AllowlistDefinition{
		RegexTarget: "match",
		StopWords:   []string{"abcd1234abcd1234"},
	}

	tests := []struct {
		name        string
		global      rules.AllowlistDefinition
		rule        rules.RuleDefinition
		files       []scanning.File
		wantLeaks   int
		wantCommits int
	}{
		{
			name:        "rule_stopword",
			rule:        withStopword,
			files:       []scanning.File{file("config.py", 5, "API_KEY = \"abcd1234abcd1234\"\n")},
			wantLeaks:   0,
			wantCommits: 1,
		},
		{
			name:   "global_path",
			global: rules.AllowlistDefinition{Paths: []string{"^vendor/"}},
			rule:   apiKeyRule(),
			files: []scanning.File{
				file("vendor/lib.py", 1, "api_key = \"abcd1234abcd1234\"\n"),
				file("app.py", 1, "api_key = \"ffff0000ffff0000\"\n"),
			},
			wantLeaks:   1,
			wantCommits: 1,
		},
		{
			name:        "global_commit_still_counted",
			global:      rules.AllowlistDefinition{Commits: []string{commitID(0).String()}},
			rule:        apiKeyRule(),
			files:       []scanning.File{file("app.py", 1, "api_key = \"abcd1234abcd1234\"\n")},
			wantLeaks:   0,
			wantCommits: 1,
		},
		{
			name:        "global_line_regex",
			global:      rules.AllowlistDefinition{RegexTarget: "line", Regexes: []string{`#\s*test fixture`}},
			rule:        apiKeyRule(),
			files:       []scanning.File{file("app.py", 1, "api_key = \"abcd1234abcd1234\" # test fixture\n")},
			wantLeaks:   0,
			wantCommits: 1,
		},
		{
			name:        "no_match_counts_commit",
			rule:        apiKeyRule(),
			files:       []scanning.File{file("README.md", 1, "nothing to see here\n")},
			wantLeaks:   0,
			wantCommits: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := &fakeSource{commits: []scanning.CommitInfo{commit(0, tt.files...)}}
			session := newTestSession(t, src, mustRuleSet(t, tt.global, tt.rule), SessionOptions{})

			res, err := session.Run(context.Background(), scanning.Target{RepoPath: "demo"})
			require.NoError(t, err)
			assert.Len(t, res.Outputs, tt.wantLeaks)
			assert.Equal(t, tt.wantCommits, res.CommitsNumber)
		})
	}
}

func TestScanSession_Run_OrderIndependentOfWorkers(t *testing.T) {
	t.Parallel()

	const n = 40
	commits := make([]scanning.CommitInfo, 0, n)
	for i := range n {
		commits = append(commits, commit(i,
			file("a.py", 1, fmt.Sprintf("api_key = \"%016d\"\n", i)),
			file("b.py", 1, fmt.Sprintf("api_key = \"%016d\"\napi_key = \"%016d\"\n", i+1000, i+2000)),
		))
	}
	src := &fakeSource{
		commits: commits,
		onLoad: func(id scanning.CommitID) {
			// Make early commits finish last.
			if id[19]%2 == 1 {
				time.Sleep(time.Millisecond)
			}
		},
	}
	rs := mustRuleSet(t, rules.AllowlistDefinition{}, apiKeyRule())

	sequential, err := newTestSession(t, src, rs, SessionOptions{Workers: 1}).
		Run(context.Background(), scanning.Target{RepoPath: "demo"})
	require.NoError(t, err)

	parallel, err := newTestSession(t, src, rs, SessionOptions{Workers: 8, QueueSize: 4}).
		Run(context.Background(), scanning.Target{RepoPath: "demo"})
	require.NoError(t, err)

	require.Len(t, sequential.Outputs, 3*n)
	assert.Equal(t, sequential, parallel)

	for i := range n {
		batch := parallel.Outputs[3*i : 3*i+3]
		for _, leak := range batch {
			assert.Equal(t, commitID(i).String(), leak.Commit)
		}
		assert.Equal(t, "a.py", batch[0].File)
		assert.Equal(t, fmt.Sprintf("%016d", i+1000), batch[1].Offender)
		assert.Equal(t, 2, batch[2].LineNumber)
	}
}

func TestScanSession_Run_Idempotent(t *testing.T) {
	t.Parallel()

	src := &fakeSource{commits: []scanning.CommitInfo{
		commit(0, file("config.py", 1, "api_key = \"abcd1234abcd1234\"\n")),
		commit(1, file("config.py", 1, "api_key = \"abcd1234abcd1234\"\n")),
	}}
	session := newTestSession(t, src, mustRuleSet(t, rules.AllowlistDefinition{}, apiKeyRule()), SessionOptions{Workers: 4})

	first, err := session.Run(context.Background(), scanning.Target{RepoPath: "demo"})
	require.NoError(t, err)
	second, err := session.Run(context.Background(), scanning.Target{RepoPath: "demo"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first.Outputs, 2, "identical leaks in different commits are both reported")
}

func TestScanSession_Run_Warnings(t *testing.T) {
	t.Parallel()

	broken := commitID(1)
	src := &fakeSource{
		commits: []scanning.CommitInfo{
			commit(0, file("config.py", 1, "api_key = \"abcd1234abcd1234\"\n")),
			commit(1),
			commit(2, file("config.py", 3, "api_key = \"ffff0000ffff0000ffff0000ffff0000ffff0000\"\n")),
		},
		loadErrs: map[scanning.CommitID]error{
			broken: &scanning.ReadError{Commit: broken.String(), Err: errors.New("object not found")},
		},
		warnings: map[scanning.CommitID][]error{
			commitID(0): {&scanning.ReadError{Commit: commitID(0).String(), Path: "blob.bin", Err: errors.New("zlib: invalid header")}},
		},
	}
	rs := mustRuleSet(t, rules.AllowlistDefinition{}, apiKeyRule())
	session := newTestSession(t, src, rs, SessionOptions{Workers: 3, MaxLineLength: 40, Verbose: true})

	res, err := session.Run(context.Background(), scanning.Target{RepoPath: "demo"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.CommitsNumber)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, commitID(0).String(), res.Outputs[0].Commit)

	require.Len(t, res.Warnings, 3)
	assert.Equal(t, "blob.bin", res.Warnings[0].Path)
	assert.Equal(t, broken.String(), res.Warnings[1].Commit)

	tooLong := res.Warnings[2]
	assert.Equal(t, commitID(2).String(), tooLong.Commit)
	assert.Equal(t, "config.py", tooLong.Path)
	assert.Equal(t, 3, tooLong.Line)
	assert.ErrorIs(t, tooLong.Err, rules.ErrLineTooLong)
}

func TestScanSession_Run_ResolutionError(t *testing.T) {
	t.Parallel()

	resErr := &scanning.ResolutionError{Target: "demo", Ref: "a..b", Err: scanning.ErrRangeUnreachable}
	src := &fakeSource{failing: map[string]error{"demo": resErr}}
	session := newTestSession(t, src, mustRuleSet(t, rules.AllowlistDefinition{}, apiKeyRule()), SessionOptions{})

	res, err := session.Run(context.Background(), scanning.Target{RepoPath: "demo"})
	assert.Nil(t, res)

	var target *scanning.ResolutionError
	require.ErrorAs(t, err, &target)
	assert.ErrorIs(t, err, scanning.ErrRangeUnreachable)
}

func TestScanSession_Run_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	commits := make([]scanning.CommitInfo, 0, 10)
	for i := range 10 {
		commits = append(commits, commit(i, file("config.py", 1, "api_key = \"abcd1234abcd1234\"\n")))
	}
	src := &fakeSource{
		commits: commits,
		onLoad: func(id scanning.CommitID) {
			if id == commitID(2) {
				cancel()
			}
		},
	}
	session := newTestSession(t, src, mustRuleSet(t, rules.AllowlistDefinition{}, apiKeyRule()), SessionOptions{Workers: 1, QueueSize: 1})

	res, err := session.Run(ctx, scanning.Target{RepoPath: "demo"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.Equal(t, 3, res.CommitsNumber)
	require.Len(t, res.Outputs, 3)
	for i, leak := range res.Outputs {
		assert.Equal(t, commitID(i).String(), leak.Commit)
	}
}

func TestScanSession_Run_CanceledDuringLoad(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	commits := make([]scanning.CommitInfo, 0, 5)
	for i := range 5 {
		commits = append(commits, commit(i, file("config.py", 1, "api_key = \"abcd1234abcd1234\"\n")))
	}
	src := &fakeSource{
		commits:  commits,
		loadErrs: map[scanning.CommitID]error{commitID(2): context.Canceled},
		onLoad: func(id scanning.CommitID) {
			if id == commitID(2) {
				cancel()
			}
		},
	}
	session := newTestSession(t, src, mustRuleSet(t, rules.AllowlistDefinition{}, apiKeyRule()), SessionOptions{Workers: 1, QueueSize: 1})

	res, err := session.Run(ctx, scanning.Target{RepoPath: "demo"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.Equal(t, 2, res.CommitsNumber, "the interrupted commit is not counted")
	assert.Empty(t, res.Warnings, "an interrupted load is not an unreadable commit")
	assert.Len(t, res.Outputs, 2)
}

func TestScanSession_LogMessages(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(&buf, logger.LevelDebug, "test", nil)

	src := &fakeSource{
		commits: []scanning.CommitInfo{
			commit(0, file("config.py", 1, "api_key = \"abcd1234abcd1234\"\n")),
			commit(1, file("notes.txt", 1, "nothing\n")),
		},
		warnings: map[scanning.CommitID][]error{
			commitID(1): {&scanning.ReadError{Commit: commitID(1).String(), Path: "blob.bin", Err: errors.New("read blob")}},
		},
	}
	metrics, err := NewMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)
	rs := mustRuleSet(t, rules.AllowlistDefinition{Commits: []string{commitID(0).String()}}, apiKeyRule())
	session := NewScanSession(src, rs, SessionOptions{Workers: 1, Verbose: true}, log, noop.NewTracerProvider().Tracer("test"), metrics)

	_, err = session.Run(context.Background(), scanning.Target{RepoPath: "demo"})
	require.NoError(t, err)

	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec struct {
			Msg string `json:"msg"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		msgs = append(msgs, rec.Msg)
	}

	assert.Contains(t, msgs, "scan started")
	assert.Contains(t, msgs, "commit allowlisted")
	assert.Contains(t, msgs, "skipped unreadable content")
	assert.Contains(t, msgs, "scan completed")
	for _, msg := range msgs {
		require.NotEmpty(t, msg)
		assert.Equal(t, strings.ToLower(msg[:1]), msg[:1], "message %q starts lowercase", msg)
	}
}

func TestScanSession_RunTargets(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		commits: []scanning.CommitInfo{commit(0, file("config.py", 1, "api_key = \"abcd1234abcd1234\"\n"))},
		failing: map[string]error{
			"broken": &scanning.ResolutionError{Target: "broken", Ref: "nope", Err: scanning.ErrUnknownRef},
		},
	}
	id := uuid.New()
	session := newTestSession(t, src, mustRuleSet(t, rules.AllowlistDefinition{}, apiKeyRule()), SessionOptions{ScanID: id})
	assert.Equal(t, id, session.ScanID())

	targets := []scanning.Target{{RepoPath: "one"}, {RepoPath: "broken"}, {RepoPath: "two"}}
	out := session.RunTargets(context.Background(), targets)
	require.Len(t, out, 3)

	assert.NoError(t, out[0].Err)
	assert.Len(t, out[0].Results.Outputs, 1)

	assert.ErrorIs(t, out[1].Err, scanning.ErrUnknownRef)
	assert.Nil(t, out[1].Results)

	assert.NoError(t, out[2].Err)
	assert.Len(t, out[2].Results.Outputs, 1)
	assert.Equal(t, targets[2], out[2].Target)
}

func TestScanSession_RunTargets_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{commits: []scanning.CommitInfo{commit(0)}}
	session := newTestSession(t, src, mustRuleSet(t, rules.AllowlistDefinition{}, apiKeyRule()), SessionOptions{})

	out := session.RunTargets(ctx, []scanning.Target{{RepoPath: "one"}, {RepoPath: "two"}})
	require.Len(t, out, 2)
	for _, r := range out {
		assert.ErrorIs(t, r.Err, context.Canceled)
		assert.Nil(t, r.Results)
	}
}
