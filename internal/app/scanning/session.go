// Package scanning runs scans: it drives a commit stream through the matcher
// and allowlists with a pool of workers and collects the reportable leaks.
package scanning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/leakwalk/internal/domain/rules"
	"github.com/ahrav/leakwalk/internal/domain/scanning"
	"github.com/ahrav/leakwalk/pkg/common"
	"github.com/ahrav/leakwalk/pkg/common/logger"
)

const (
	defaultQueueSize        = 64
	defaultProgressInterval = 5 * time.Second
)

// SessionOptions tunes a ScanSession. Zero values select the defaults.
type SessionOptions struct {
	// Workers is the number of commits scanned concurrently. Defaults to the
	// number of CPUs.
	Workers int
	// QueueSize bounds the number of resolved commits waiting for a worker.
	QueueSize int
	// LineTimeout bounds the time spent matching a single line. Negative
	// disables the bound.
	LineTimeout time.Duration
	// MaxLineLength is the longest line evaluated; longer lines are skipped
	// with a warning.
	MaxLineLength int
	// Verbose logs warnings at warn level instead of debug.
	Verbose bool
	// ProgressInterval is the minimum time between two progress log lines.
	ProgressInterval time.Duration
	// ScanID identifies the session in logs and spans. A random id is used
	// when unset.
	ScanID uuid.UUID
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.ProgressInterval == 0 {
		o.ProgressInterval = defaultProgressInterval
	}
	if o.ScanID == uuid.Nil {
		o.ScanID = uuid.New()
	}
	return o
}

// ScanSession scans targets against one immutable RuleSet. A session holds
// no per-scan state and may run several scans, one after the other or
// concurrently.
type ScanSession struct {
	source  scanning.CommitSource
	rules   *rules.RuleSet
	matcher *rules.Matcher
	filter  rules.Filter
	opts    SessionOptions

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewScanSession creates a session reading commits from source.
func NewScanSession(
	source scanning.CommitSource,
	rs *rules.RuleSet,
	opts SessionOptions,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics Metrics,
) *ScanSession {
	opts = opts.withDefaults()

	var matcherOpts []rules.MatcherOption
	if opts.LineTimeout != 0 {
		matcherOpts = append(matcherOpts, rules.WithLineTimeout(opts.LineTimeout))
	}
	if opts.MaxLineLength > 0 {
		matcherOpts = append(matcherOpts, rules.WithMaxLineLength(opts.MaxLineLength))
	}

	return &ScanSession{
		source:  source,
		rules:   rs,
		matcher: rules.NewMatcher(rs, matcherOpts...),
		filter:  rs.Filter(),
		opts:    opts,
		logger:  logger.With("component", "scan_session", "scan_id", opts.ScanID.String()),
		tracer:  tracer,
		metrics: metrics,
	}
}

// ScanID returns the id of the session.
func (s *ScanSession) ScanID() uuid.UUID { return s.opts.ScanID }

// commitJob is one resolved commit and its position in traversal order.
type commitJob struct {
	seq int
	id  scanning.CommitID
}

// Run scans a single target. A *scanning.ResolutionError is returned without
// results. When ctx is canceled mid-scan, Run returns the results collected so
// far together with the context error.
func (s *ScanSession) Run(ctx context.Context, target scanning.Target) (*scanning.Results, error) {
	sel := target.SelectorOrDefault()
	ctx, span := s.tracer.Start(ctx, "scan_session.run",
		trace.WithAttributes(
			attribute.String("scan_id", s.opts.ScanID.String()),
			attribute.String("target", target.RepoPath),
			attribute.String("selector", sel.Kind().String()),
			attribute.String("rules_fingerprint", s.rules.Fingerprint()),
			attribute.Int("workers", s.opts.Workers),
		))
	defer span.End()

	start := time.Now()
	logger := s.logger.With("target", target.String())
	logger.Info(ctx, "scan started",
		"selector", sel.Kind().String(),
		"rules", s.rules.Len(),
		"workers", s.opts.Workers,
	)

	stream, err := s.source.Resolve(ctx, target)
	if err != nil {
		span.SetStatus(codes.Error, "failed to resolve target")
		span.RecordError(err)
		s.metrics.IncResolutionErrors(ctx, target.RepoPath)
		logger.Error(ctx, "failed to resolve target", "error", err)
		return nil, err
	}
	total := stream.Len()
	span.AddEvent("target_resolved", trace.WithAttributes(attribute.Int("commits", total)))

	collector := NewCollector()
	progress := common.NewThrottle(s.opts.ProgressInterval)
	jobs := make(chan commitJob, s.opts.QueueSize)

	g, gctx := errgroup.WithContext(ctx)

	// Traversal is sequential; only commit processing fans out.
	g.Go(func() error {
		defer close(jobs)
		for seq := 0; ; seq++ {
			id, err := stream.NextID(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case jobs <- commitJob{seq: seq, id: id}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for range s.opts.Workers {
		g.Go(func() error {
			s.metrics.SetActiveWorkers(gctx, 1)
			defer s.metrics.SetActiveWorkers(gctx, -1)

			for job := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				s.metrics.TrackCommit(gctx, func() {
					s.scanCommit(gctx, stream, job, collector)
				})

				if progress.Allow() {
					logger.Info(gctx, "scan progress",
						"commits_scanned", collector.CommitsVisited(),
						"commits_total", total,
					)
				}
			}
			return nil
		})
	}

	err = g.Wait()
	results := collector.Results()
	elapsed := time.Since(start)

	s.metrics.ObserveScanDuration(ctx, target.RepoPath, elapsed)
	s.metrics.ObserveLeaks(ctx, target.RepoPath, len(results.Outputs))
	span.SetAttributes(
		attribute.Int("commits_scanned", results.CommitsNumber),
		attribute.Int("leaks", len(results.Outputs)),
		attribute.Int("warnings", len(results.Warnings)),
	)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		span.SetStatus(codes.Error, "scan interrupted")
		span.RecordError(err)
		logger.Warn(ctx, "scan interrupted",
			"commits_scanned", results.CommitsNumber,
			"commits_total", total,
			"leaks", len(results.Outputs),
			"error", err,
		)
		return results, fmt.Errorf("scan %s: %w", target.String(), err)
	}

	span.SetStatus(codes.Ok, "scan completed")
	logger.Info(ctx, "scan completed",
		"commits_scanned", results.CommitsNumber,
		"leaks", len(results.Outputs),
		"warnings", len(results.Warnings),
		"elapsed", elapsed.Round(time.Millisecond).String(),
	)

	return results, nil
}

// scanCommit evaluates every added line of one commit and hands the surviving
// leaks to the collector.
func (s *ScanSession) scanCommit(ctx context.Context, stream scanning.CommitStream, job commitJob, c *Collector) {
	info, warnings, err := stream.Load(ctx, job.id)
	if err != nil && ctx.Err() != nil {
		// Interrupted, not unreadable. The commit was never scanned.
		return
	}
	c.CommitVisited()
	if err != nil {
		s.metrics.IncCommitErrors(ctx)
		s.warn(ctx, c, job.seq, err)
		return
	}
	for _, w := range warnings {
		s.warn(ctx, c, job.seq, w)
	}

	commit := info.CommitString()
	if s.filter.SkipCommit(commit) {
		s.logger.Debug(ctx, "commit allowlisted", "commit", commit)
		return
	}

	var leaks []scanning.Leak
	for _, file := range info.Files {
		if s.filter.SkipFile(file.Path) {
			continue
		}
		for _, frag := range file.Fragments {
			for _, line := range frag.Lines() {
				candidates := s.rules.CandidateRules(line.Text)
				if len(candidates) == 0 {
					continue
				}

				matches, err := s.matcher.ScanLine(line.Text, line.Number, candidates)
				if err != nil {
					s.metrics.IncLinesSkipped(ctx)
					s.warn(ctx, c, job.seq, &scanning.ReadError{
						Commit: commit,
						Path:   file.Path,
						Line:   line.Number,
						Err:    err,
					})
				}

				for _, m := range matches {
					rule, ok := s.rules.Rule(m.RuleID)
					if !ok {
						continue
					}
					if s.filter.Suppress(rule, rules.Target{
						Path:     file.Path,
						Commit:   commit,
						Line:     line.Text,
						Offender: m.Offender,
					}) {
						s.metrics.IncSuppressed(ctx, m.RuleID)
						continue
					}
					leaks = append(leaks, scanning.NewLeak(info, file.Path, line, m))
				}
			}
		}
	}

	c.Add(job.seq, leaks)
}

func (s *ScanSession) warn(ctx context.Context, c *Collector, seq int, err error) {
	w := scanning.NewWarning(err)
	c.Warn(seq, w)

	level := logger.LevelDebug
	if s.opts.Verbose {
		level = logger.LevelWarn
	}
	s.logger.Log(ctx, level, "skipped unreadable content",
		"commit", w.Commit,
		"path", w.Path,
		"line", w.Line,
		"error", w.Message(),
	)
}

// TargetResult is the outcome of one target of a multi-target run.
type TargetResult struct {
	Target  scanning.Target
	Results *scanning.Results
	Err     error
}

// RunTargets scans targets one after the other. A failure on one target is
// recorded in its TargetResult and does not stop the others. Once ctx is
// canceled the remaining targets are reported with the context error.
func (s *ScanSession) RunTargets(ctx context.Context, targets []scanning.Target) []TargetResult {
	ctx, span := s.tracer.Start(ctx, "scan_session.run_targets",
		trace.WithAttributes(attribute.Int("targets", len(targets))))
	defer span.End()

	out := make([]TargetResult, 0, len(targets))
	var failed int
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			out = append(out, TargetResult{Target: target, Err: err})
			failed++
			continue
		}

		res, err := s.Run(ctx, target)
		if err != nil {
			failed++
		}
		out = append(out, TargetResult{Target: target, Results: res, Err: err})
	}

	span.SetAttributes(attribute.Int("failed_targets", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, "some targets failed")
	}
	return out
}
