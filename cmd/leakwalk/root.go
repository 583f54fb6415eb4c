package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/leakwalk/internal/config"
)

// Exit codes.
const (
	exitOK    = 0
	exitLeaks = 1
	exitFatal = 2
)

// exitError carries the process exit code of a finished run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// cliFlags are the flags that do not map onto config.ScanOptions.
type cliFlags struct {
	lineTimeout   time.Duration
	maxLineLength int
	otelEndpoint  string
	otelInsecure  bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		opts  = config.ScanOptions{ReportFormat: config.ReportFormatJSON}
		flags cliFlags
	)

	cmd := &cobra.Command{
		Use:           "leakwalk",
		Short:         "Detect secrets in the history of a git repository",
		Long:          "leakwalk walks the commits of a git repository and reports added lines that match secret detection rules.",
		Version:       build,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := run(cmd.Context(), opts, flags, stdout, stderr)
			if code != exitOK {
				return &exitError{code: code, err: err}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Repo, "repo", "", "target repository: a local path, or a remote URL together with --disk")
	f.StringVar(&opts.Disk, "disk", "", "clone a remote --repo into this directory before scanning")
	f.StringVar(&opts.TargetsFile, "targets", "", "YAML file listing several repositories to scan")
	f.StringVar(&opts.ConfigPath, "config", "", "rule file (gitleaks.toml format); embedded rules when empty")
	f.BoolVar(&opts.RepoConfig, "repo-config", false, `load rules from the scanned repository (".gitleaks.toml" or "gitleaks.toml")`)
	f.StringVar(&opts.Report, "report", "", "path to write the report to; stdout when empty")
	f.StringVar((*string)(&opts.ReportFormat), "report-format", string(config.ReportFormatJSON), "report format: json, csv or sarif")
	f.BoolVar(&opts.Pretty, "pretty", false, "pretty print the json report")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "log skipped content as warnings")
	f.BoolVar(&opts.Debug, "debug", false, "log debug messages")
	f.IntVar(&opts.Workers, "workers", 0, "commits scanned concurrently; number of CPUs when 0")
	f.IntVar(&opts.QueueSize, "queue-size", 0, "resolved commits buffered ahead of the workers")

	f.StringVar(&opts.Commit, "commit", "", `sha of a commit to scan, or "latest" for the last commit`)
	f.StringSliceVar(&opts.Commits, "commits", nil, "comma separated list of commits to scan")
	f.StringVar(&opts.CommitsFile, "commits-file", "", "file with one commit per line to scan")
	f.StringVar(&opts.Since, "commit-since", "", "scan commits authored at or after a date: 2006-01-02 or 2006-01-02T15:04:05-0700")
	f.StringVar(&opts.Until, "commit-until", "", "scan commits authored at or before a date: 2006-01-02 or 2006-01-02T15:04:05-0700")
	f.StringVar(&opts.From, "commit-from", "", "scan the commits after this one, up to --commit-to")
	f.StringVar(&opts.To, "commit-to", "", "last commit of a --commit-from range")
	f.StringVar(&opts.Branch, "branch", "", "branch to scan")
	f.BoolVar(&opts.Uncommitted, "uncommitted", false, "scan uncommitted changes in the working tree")
	f.StringVar(&opts.User, "user", "", "only scan commits by this author name or email")

	f.DurationVar(&flags.lineTimeout, "line-timeout", 0, "time budget for matching one line; negative disables it")
	f.IntVar(&flags.maxLineLength, "max-line-length", 0, "skip longer lines with a warning; 1 MiB when 0")
	f.StringVar(&flags.otelEndpoint, "otel-endpoint", "", "OTLP gRPC endpoint for traces and metrics")
	f.BoolVar(&flags.otelInsecure, "otel-insecure", false, "connect to the OTLP endpoint without TLS")

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}

// execute runs the command line and returns the process exit code.
func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeContext(ctx, args, os.Stdout, os.Stderr)
}

func executeContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "Error:", ee.err)
		}
		return ee.code
	}

	// Flag parsing and other usage errors.
	fmt.Fprintln(stderr, "Error:", err)
	return exitFatal
}
