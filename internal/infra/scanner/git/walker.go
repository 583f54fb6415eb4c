// Package git walks the history of a local git repository and turns the
// selected commits into the added content the matcher scans.
package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
	"github.com/ahrav/leakwalk/pkg/common/logger"
)

// Walker resolves selectors against one repository and loads the content of
// the commits they select. Resolve and Load are safe for concurrent use.
type Walker struct {
	root string // top level directory, or the git dir of a bare repository
	name string
	repo *gogit.Repository
	pool *repoPool

	tagsOnce sync.Once
	tags     map[plumbing.Hash][]string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewWalker opens the repository containing path.
func NewWalker(path string, log *logger.Logger, tracer trace.Tracer) (*Walker, error) {
	repo, err := openRepository(path)
	if err != nil {
		return nil, err
	}

	root := path
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve repository root %s: %w", path, err)
	}

	return &Walker{
		root:   root,
		name:   filepath.Base(root),
		repo:   repo,
		pool:   newRepoPool(root),
		logger: log.With("component", "commit_walker", "repo", filepath.Base(root)),
		tracer: tracer,
	}, nil
}

func openRepository(path string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return repo, nil
}

// Root returns the repository's top level directory.
func (w *Walker) Root() string { return w.root }

// Name returns the repository name reported in leaks.
func (w *Walker) Name() string { return w.name }

// Resolve turns the target's selector into a stream of commits. Resolution is
// eager: any unknown reference or unreachable range fails here with a
// *scanning.ResolutionError, before a commit is produced.
func (w *Walker) Resolve(ctx context.Context, target scanning.Target) (scanning.CommitStream, error) {
	sel := target.SelectorOrDefault()
	ctx, span := w.tracer.Start(ctx, "commit_walker.resolve",
		trace.WithAttributes(
			attribute.String("repo", w.root),
			attribute.String("selector", sel.Kind().String()),
			attribute.Bool("user_filter", target.User.IsSet()),
		))
	defer span.End()

	name := target.Name
	if name == "" {
		name = w.name
	}

	if _, ok := sel.(scanning.Uncommitted); ok {
		stream, err := w.resolveWorktree(ctx, target, name)
		if err != nil {
			span.SetStatus(codes.Error, "worktree resolution failed")
			span.RecordError(err)
			return nil, err
		}
		span.SetAttributes(attribute.Int("commits", stream.Len()))
		return stream, nil
	}

	ids, err := w.resolveIDs(ctx, target, sel)
	if err != nil {
		span.SetStatus(codes.Error, "resolution failed")
		span.RecordError(err)
		return nil, w.resolutionError(target, err)
	}

	span.AddEvent("commits_resolved", trace.WithAttributes(attribute.Int("commits", len(ids))))
	span.SetStatus(codes.Ok, "resolved")
	w.logger.Debug(ctx, "selector resolved",
		"selector", sel.Kind().String(),
		"commits", len(ids),
	)

	return &commitStream{walker: w, name: name, ids: ids}, nil
}

func (w *Walker) resolutionError(target scanning.Target, err error) error {
	var re *scanning.ResolutionError
	if errors.As(err, &re) {
		out := *re
		if out.Target == "" {
			out.Target = target.String()
		}
		return &out
	}
	return &scanning.ResolutionError{Target: target.String(), Err: err}
}

// tagIndex maps commits to the sorted names of the tags pointing at them,
// peeling annotated tags. It is built once per walker.
func (w *Walker) tagIndex(ctx context.Context) map[plumbing.Hash][]string {
	w.tagsOnce.Do(func() {
		w.tags = make(map[plumbing.Hash][]string)

		iter, err := w.repo.Tags()
		if err != nil {
			w.logger.Warn(ctx, "failed to list tags", "error", err)
			return
		}
		defer iter.Close()

		err = iter.ForEach(func(ref *plumbing.Reference) error {
			hash := ref.Hash()
			if tag, err := w.repo.TagObject(hash); err == nil {
				commit, err := tag.Commit()
				if err != nil {
					// Tags of trees or blobs never label a commit.
					return nil
				}
				hash = commit.Hash
			}
			w.tags[hash] = append(w.tags[hash], ref.Name().Short())
			return nil
		})
		if err != nil {
			w.logger.Warn(ctx, "failed to index tags", "error", err)
		}
		for _, names := range w.tags {
			sort.Strings(names)
		}
	})
	return w.tags
}

// firstParent returns the first parent of c, or nil for a root commit. A
// parent missing from a shallow clone also ends the chain.
func firstParent(c *object.Commit) (*object.Commit, error) {
	if c.NumParents() == 0 {
		return nil, nil
	}
	p, err := c.Parent(0)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, nil
	}
	return p, err
}
