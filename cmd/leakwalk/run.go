package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-homedir"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appscanning "github.com/ahrav/leakwalk/internal/app/scanning"
	"github.com/ahrav/leakwalk/internal/config"
	"github.com/ahrav/leakwalk/internal/config/fileloader"
	"github.com/ahrav/leakwalk/internal/domain/rules"
	"github.com/ahrav/leakwalk/internal/domain/scanning"
	"github.com/ahrav/leakwalk/internal/infra/report"
	"github.com/ahrav/leakwalk/internal/infra/scanner/git"
	"github.com/ahrav/leakwalk/pkg/common/logger"
	"github.com/ahrav/leakwalk/pkg/common/otel"
)

// errTargetsFailed is returned when at least one target could not be scanned
// completely.
var errTargetsFailed = errors.New("one or more targets failed")

func run(ctx context.Context, opts config.ScanOptions, flags cliFlags, stdout, stderr io.Writer) (int, error) {
	scanID := uuid.New()

	// -------------------------------------------------------------------------
	// Logging
	level := logger.LevelInfo
	if opts.Debug {
		level = logger.LevelDebug
	}
	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}
	metadata := map[string]string{
		"scan_id": scanID.String(),
		"version": build,
	}
	log := logger.NewWithMetadata(stderr, level, serviceName, traceIDFn, logger.Events{}, metadata)

	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	// -------------------------------------------------------------------------
	// Configuration
	if err := opts.Validate(); err != nil {
		log.Error(ctx, "startup", "error", err)
		return exitFatal, err
	}

	// -------------------------------------------------------------------------
	// Telemetry
	tel, err := otel.InitTelemetry(ctx, log, otel.Config{
		ServiceName:      serviceName,
		ServiceVersion:   build,
		ExporterEndpoint: flags.otelEndpoint,
		InsecureExporter: flags.otelInsecure,
		Probability:      1,
		ResourceAttributes: map[string]string{
			"scan.id": scanID.String(),
		},
	})
	if err != nil {
		return exitFatal, fmt.Errorf("initializing telemetry: %w", err)
	}
	defer tel.Shutdown(context.WithoutCancel(ctx))

	tracer := tel.Tracer(serviceName)
	metrics, err := appscanning.NewMetrics(tel.MeterProvider)
	if err != nil {
		return exitFatal, fmt.Errorf("creating metrics: %w", err)
	}

	ctx, span := tracer.Start(ctx, "leakwalk.run",
		trace.WithAttributes(attribute.String("scan_id", scanID.String())))
	defer span.End()

	start := time.Now()

	// -------------------------------------------------------------------------
	// Targets
	targets, unresolved, err := loadTargets(ctx, opts, metrics, log, tracer)
	if err != nil {
		span.SetStatus(codes.Error, "failed to load targets")
		span.RecordError(err)
		log.Error(ctx, "failed to load targets", "error", err)
		return exitFatal, err
	}

	// -------------------------------------------------------------------------
	// Scan
	source := git.NewSource(log, tracer)
	sessOpts := appscanning.SessionOptions{
		Workers:       opts.Workers,
		QueueSize:     opts.QueueSize,
		LineTimeout:   flags.lineTimeout,
		MaxLineLength: flags.maxLineLength,
		Verbose:       opts.Verbose,
		ScanID:        scanID,
	}

	outcomes, rs, err := scanTargets(ctx, opts, sessOpts, source, targets, log, tracer, metrics)
	if err != nil {
		span.SetStatus(codes.Error, "failed to load rules")
		span.RecordError(err)
		log.Error(ctx, "failed to load rules", "error", err)
		return exitFatal, err
	}
	outcomes = append(outcomes, unresolved...)

	merged := scanning.NewResults()
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			log.Error(ctx, "target failed", "repo", o.Target.RepoPath, "error", o.Err)
		}
		merged.Merge(o.Results)
	}

	// -------------------------------------------------------------------------
	// Report
	if err := writeReport(opts, rs, merged, stdout); err != nil {
		span.SetStatus(codes.Error, "failed to write report")
		span.RecordError(err)
		log.Error(ctx, "failed to write report", "error", err)
		return exitFatal, err
	}

	log.Info(ctx, "scan summary",
		"targets", len(outcomes),
		"failed_targets", failed,
		"commits_scanned", merged.CommitsNumber,
		"leaks", len(merged.Outputs),
		"warnings", len(merged.Warnings),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	span.SetAttributes(
		attribute.Int("leaks", len(merged.Outputs)),
		attribute.Int("failed_targets", failed),
	)

	switch {
	case failed > 0:
		span.SetStatus(codes.Error, errTargetsFailed.Error())
		return exitFatal, errTargetsFailed
	case merged.HasLeaks():
		return exitLeaks, nil
	default:
		return exitOK, nil
	}
}

// loadTargets builds the targets of the run, cloning a remote repository
// first when needed. Targets of a targets file whose selector cannot be built
// are returned as failed results and the others are still scanned.
func loadTargets(
	ctx context.Context,
	opts config.ScanOptions,
	metrics appscanning.Metrics,
	log *logger.Logger,
	tracer trace.Tracer,
) ([]scanning.Target, []appscanning.TargetResult, error) {
	if opts.TargetsFile != "" {
		path, err := homedir.Expand(opts.TargetsFile)
		if err != nil {
			return nil, nil, err
		}
		f, err := fileloader.NewFileLoader(path).Load(ctx)
		if err != nil {
			return nil, nil, err
		}
		targets, failed := f.ScanTargets()
		for i := range targets {
			if targets[i].RepoPath, err = homedir.Expand(targets[i].RepoPath); err != nil {
				return nil, nil, err
			}
		}
		unresolved := make([]appscanning.TargetResult, 0, len(failed))
		for _, rerr := range failed {
			unresolved = append(unresolved, appscanning.TargetResult{
				Target: scanning.Target{RepoPath: rerr.Target},
				Err:    rerr,
			})
		}
		return targets, unresolved, nil
	}

	repoPath, err := homedir.Expand(opts.Repo)
	if err != nil {
		return nil, nil, err
	}
	if config.IsRemote(opts.Repo) {
		dir, err := homedir.Expand(opts.Disk)
		if err != nil {
			return nil, nil, err
		}
		cloneOpts := git.DefaultCloneOptions
		cloneOpts.Observer = metrics
		if repoPath, err = git.Clone(ctx, opts.Repo, dir, cloneOpts, log, tracer); err != nil {
			return nil, nil, err
		}
	}

	target, err := opts.Target(repoPath)
	if err != nil {
		return nil, nil, err
	}
	return []scanning.Target{target}, nil, nil
}

// scanTargets scans every target. With repository rules each target gets the
// rules found in its own repository; otherwise one rule set serves all of them
// and is returned for reporting.
func scanTargets(
	ctx context.Context,
	opts config.ScanOptions,
	sessOpts appscanning.SessionOptions,
	source *git.Source,
	targets []scanning.Target,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics appscanning.Metrics,
) ([]appscanning.TargetResult, *rules.RuleSet, error) {
	if !opts.RepoConfig {
		path, err := homedir.Expand(opts.ConfigPath)
		if err != nil {
			return nil, nil, err
		}
		rs, err := loadRuleSet(ctx, log, path, false, "")
		if err != nil {
			return nil, nil, err
		}
		session := appscanning.NewScanSession(source, rs, sessOpts, log, tracer, metrics)
		return session.RunTargets(ctx, targets), rs, nil
	}

	out := make([]appscanning.TargetResult, 0, len(targets))
	for _, target := range targets {
		root, err := source.Root(target.RepoPath)
		if err != nil {
			out = append(out, appscanning.TargetResult{
				Target: target,
				Err:    &scanning.ResolutionError{Target: target.String(), Err: err},
			})
			continue
		}
		rs, err := loadRuleSet(ctx, log, "", true, root)
		if err != nil {
			out = append(out, appscanning.TargetResult{Target: target, Err: err})
			continue
		}

		session := appscanning.NewScanSession(source, rs, sessOpts, log, tracer, metrics)
		res, err := session.Run(ctx, target)
		out = append(out, appscanning.TargetResult{Target: target, Results: res, Err: err})
	}
	return out, nil, nil
}

func loadRuleSet(ctx context.Context, log *logger.Logger, path string, fromRepo bool, repoRoot string) (*rules.RuleSet, error) {
	f, src, err := config.ResolveRules(path, fromRepo, repoRoot)
	if err != nil {
		return nil, err
	}
	rs, err := f.RuleSet()
	if err != nil {
		return nil, fmt.Errorf("rules from %s: %w", src, err)
	}
	log.Info(ctx, "rules loaded",
		"source", src.String(),
		"rules", rs.Len(),
		"fingerprint", rs.Fingerprint(),
	)
	return rs, nil
}

func writeReport(opts config.ScanOptions, rs *rules.RuleSet, res *scanning.Results, stdout io.Writer) error {
	pretty := opts.Pretty || (opts.Report == "" && res.HasLeaks() && isTerminal(stdout))

	w, err := report.New(string(opts.ReportFormat), report.Options{
		Pretty:      pretty,
		Rules:       rs,
		ToolName:    serviceName,
		ToolVersion: build,
	})
	if err != nil {
		return err
	}

	if opts.Report == "" {
		return w.Write(stdout, res)
	}
	path, err := homedir.Expand(opts.Report)
	if err != nil {
		return err
	}
	return report.WriteFile(path, w, res)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
