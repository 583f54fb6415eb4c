package scanning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics defines the metrics operations used while scanning.
type Metrics interface {
	// Commit metrics
	TrackCommit(ctx context.Context, f func())
	IncCommitErrors(ctx context.Context)
	IncLinesSkipped(ctx context.Context)

	// Finding metrics
	ObserveLeaks(ctx context.Context, repo string, count int)
	IncSuppressed(ctx context.Context, ruleID string)

	// Worker metrics
	SetActiveWorkers(ctx context.Context, delta int)

	// Scan metrics
	ObserveScanDuration(ctx context.Context, repo string, duration time.Duration)
	IncResolutionErrors(ctx context.Context, repo string)

	// Repository metrics
	ObserveRepoSize(ctx context.Context, repoURI string, sizeBytes int64)
	ObserveCloneTime(ctx context.Context, repoURI string, duration time.Duration)
	IncCloneError(ctx context.Context, repoURI string)
}

// sessionMetrics implements Metrics.
type sessionMetrics struct {
	// Commit metrics
	commitsScanned    metric.Int64Counter
	commitErrors      metric.Int64Counter
	activeCommits     metric.Int64UpDownCounter
	commitProcessTime metric.Float64Histogram
	linesSkipped      metric.Int64Counter

	// Finding metrics
	leaksPerScan metric.Int64Histogram
	suppressed   metric.Int64Counter

	// Worker metrics
	activeWorkers metric.Int64UpDownCounter

	// Scan metrics
	scanDuration     metric.Float64Histogram
	resolutionErrors metric.Int64Counter

	// Repository metrics
	repoSize    metric.Int64Histogram
	cloneTime   metric.Float64Histogram
	cloneErrors metric.Int64Counter
}

const namespace = "leakwalk"

// NewMetrics creates the scan metrics on mp.
func NewMetrics(mp metric.MeterProvider) (*sessionMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(sessionMetrics)
	var err error

	// Initialize commit metrics
	if m.commitsScanned, err = meter.Int64Counter(
		"commits_scanned_total",
		metric.WithDescription("Total number of commits scanned"),
	); err != nil {
		return nil, err
	}

	if m.commitErrors, err = meter.Int64Counter(
		"commit_errors_total",
		metric.WithDescription("Total number of commits that could not be loaded"),
	); err != nil {
		return nil, err
	}

	if m.activeCommits, err = meter.Int64UpDownCounter(
		"active_commits",
		metric.WithDescription("Number of commits currently being scanned"),
	); err != nil {
		return nil, err
	}

	if m.commitProcessTime, err = meter.Float64Histogram(
		"commit_scan_duration_seconds",
		metric.WithDescription("Time taken to scan each commit"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.linesSkipped, err = meter.Int64Counter(
		"lines_skipped_total",
		metric.WithDescription("Total number of lines skipped because they could not be evaluated"),
	); err != nil {
		return nil, err
	}

	// Initialize finding metrics
	if m.leaksPerScan, err = meter.Int64Histogram(
		"leaks_per_scan",
		metric.WithDescription("Number of leaks reported per scanned target"),
	); err != nil {
		return nil, err
	}

	if m.suppressed, err = meter.Int64Counter(
		"matches_suppressed_total",
		metric.WithDescription("Total number of matches suppressed by an allowlist"),
	); err != nil {
		return nil, err
	}

	// Initialize worker metrics
	if m.activeWorkers, err = meter.Int64UpDownCounter(
		"active_workers",
		metric.WithDescription("Number of active scan workers"),
	); err != nil {
		return nil, err
	}

	// Initialize scan metrics
	if m.scanDuration, err = meter.Float64Histogram(
		"scan_duration_seconds",
		metric.WithDescription("Time taken to scan a target"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.resolutionErrors, err = meter.Int64Counter(
		"resolution_errors_total",
		metric.WithDescription("Total number of targets whose commits could not be resolved"),
	); err != nil {
		return nil, err
	}

	// Initialize repository metrics
	if m.repoSize, err = meter.Int64Histogram(
		"repository_size_bytes",
		metric.WithDescription("Size of cloned repositories in bytes"),
		metric.WithUnit("bytes"),
	); err != nil {
		return nil, err
	}

	if m.cloneTime, err = meter.Float64Histogram(
		"repository_clone_duration_seconds",
		metric.WithDescription("Time taken to clone repositories"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.cloneErrors, err = meter.Int64Counter(
		"repository_clone_errors_total",
		metric.WithDescription("Total number of repository clone errors"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// Commit metrics implementations
func (m *sessionMetrics) TrackCommit(ctx context.Context, f func()) {
	m.activeCommits.Add(ctx, 1)
	defer m.activeCommits.Add(ctx, -1)

	start := time.Now()
	f()
	m.commitProcessTime.Record(ctx, time.Since(start).Seconds())
	m.commitsScanned.Add(ctx, 1)
}

func (m *sessionMetrics) IncCommitErrors(ctx context.Context) { m.commitErrors.Add(ctx, 1) }

func (m *sessionMetrics) IncLinesSkipped(ctx context.Context) { m.linesSkipped.Add(ctx, 1) }

const repoKey = "repository"

// Finding metrics implementations
func (m *sessionMetrics) ObserveLeaks(ctx context.Context, repo string, count int) {
	m.leaksPerScan.Record(ctx, int64(count), metric.WithAttributes(attribute.String(repoKey, repo)))
}

func (m *sessionMetrics) IncSuppressed(ctx context.Context, ruleID string) {
	m.suppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", ruleID)))
}

func (m *sessionMetrics) SetActiveWorkers(ctx context.Context, delta int) {
	m.activeWorkers.Add(ctx, int64(delta))
}

// Scan metrics implementations
func (m *sessionMetrics) ObserveScanDuration(ctx context.Context, repo string, duration time.Duration) {
	m.scanDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(repoKey, repo)))
}

func (m *sessionMetrics) IncResolutionErrors(ctx context.Context, repo string) {
	m.resolutionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(repoKey, repo)))
}

const repoURLKey = "repository_uri"

// Repository metrics implementations
func (m *sessionMetrics) ObserveRepoSize(ctx context.Context, repoURI string, sizeBytes int64) {
	m.repoSize.Record(ctx, sizeBytes, metric.WithAttributes(
		attribute.String(repoURLKey, repoURI),
	))
}

func (m *sessionMetrics) ObserveCloneTime(ctx context.Context, repoURI string, duration time.Duration) {
	m.cloneTime.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(repoURLKey, repoURI),
	))
}

func (m *sessionMetrics) IncCloneError(ctx context.Context, repoURI string) {
	m.cloneErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(repoURLKey, repoURI),
	))
}
