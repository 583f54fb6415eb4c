package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	gogit "github.com/go-git/go-git/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/leakwalk/pkg/common/logger"
)

// CloneOptions controls Clone.
type CloneOptions struct {
	// MaxElapsed bounds the total time spent retrying a failing clone.
	MaxElapsed time.Duration
	// MaxRetries bounds the number of retries. Zero means no retry.
	MaxRetries uint64
	// Observer receives clone measurements. Optional.
	Observer CloneObserver
}

// CloneObserver records clone measurements.
type CloneObserver interface {
	ObserveRepoSize(ctx context.Context, repoURI string, sizeBytes int64)
	ObserveCloneTime(ctx context.Context, repoURI string, duration time.Duration)
	IncCloneError(ctx context.Context, repoURI string)
}

// DefaultCloneOptions retries transient failures for up to two minutes.
var DefaultCloneOptions = CloneOptions{MaxElapsed: 2 * time.Minute, MaxRetries: 3}

// Clone makes sure dir holds a clone of url with its full history and returns
// dir. An existing clone in dir is reused and fetched.
func Clone(ctx context.Context, url, dir string, opts CloneOptions, log *logger.Logger, tracer trace.Tracer) (string, error) {
	ctx, span := tracer.Start(ctx, "commit_walker.clone",
		trace.WithAttributes(
			attribute.String("repository_url", url),
			attribute.String("clone_path", dir),
		))
	defer span.End()

	if repo, err := gogit.PlainOpen(dir); err == nil {
		span.AddEvent("reusing_existing_clone")
		err := repo.FetchContext(ctx, &gogit.FetchOptions{})
		if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
			log.Warn(ctx, "failed to update existing clone, scanning it as is",
				"error", err,
				"path", dir,
			)
		}
		return dir, nil
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		err := fmt.Errorf("clone destination %s is not empty and not a git repository", dir)
		span.SetStatus(codes.Error, "invalid clone destination")
		span.RecordError(err)
		return "", err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = opts.MaxElapsed

	attempt := 0
	operation := func() error {
		attempt++
		_, err := gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{URL: url})
		if err == nil {
			return nil
		}
		// A failed attempt can leave a partial repository behind that would
		// make the next attempt fail with ErrRepositoryAlreadyExists. dir was
		// empty or missing before the first attempt.
		_ = os.RemoveAll(dir)
		log.Warn(ctx, "clone attempt failed", "error", err, "attempt", attempt, "url", url)
		return err
	}

	cloneStart := time.Now()
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expBackoff, opts.MaxRetries), ctx))
	if err != nil {
		span.SetStatus(codes.Error, "clone failed")
		span.RecordError(err)
		if opts.Observer != nil {
			opts.Observer.IncCloneError(ctx, url)
		}
		return "", fmt.Errorf("failed to clone repository after %d attempts: %w", attempt, err)
	}
	span.AddEvent("clone_successful", trace.WithAttributes(
		attribute.Int("attempts", attempt),
		attribute.Int64("duration_ms", time.Since(cloneStart).Milliseconds()),
	))

	if opts.Observer != nil {
		opts.Observer.ObserveCloneTime(ctx, url, time.Since(cloneStart))
	}
	if size, err := dirSize(ctx, dir); err == nil {
		span.SetAttributes(attribute.Int64("size_bytes", size))
		if opts.Observer != nil {
			opts.Observer.ObserveRepoSize(ctx, url, size)
		}
		log.Info(ctx, "repository cloned", "path", dir, "size_bytes", size, "duration", time.Since(cloneStart))
	}
	return dir, nil
}

func dirSize(ctx context.Context, path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			size += fi.Size()
		}
		return nil
	})
	return size, err
}
