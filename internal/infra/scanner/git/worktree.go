package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
)

// worktreeStream yields the single synthetic commit describing uncommitted
// changes, or nothing when the working tree is clean.
type worktreeStream struct {
	info     scanning.CommitInfo
	warnings []error
	empty    bool
	done     bool
}

func (s *worktreeStream) Len() int {
	if s.empty {
		return 0
	}
	return 1
}

func (s *worktreeStream) NextID(ctx context.Context) (scanning.CommitID, error) {
	if err := ctx.Err(); err != nil {
		return scanning.CommitID{}, err
	}
	if s.empty || s.done {
		return scanning.CommitID{}, io.EOF
	}
	s.done = true
	return s.info.Commit, nil
}

func (s *worktreeStream) Load(context.Context, scanning.CommitID) (scanning.CommitInfo, []error, error) {
	return s.info, s.warnings, nil
}

func (s *worktreeStream) Next(ctx context.Context) (scanning.CommitInfo, []error, error) {
	if _, err := s.NextID(ctx); err != nil {
		return scanning.CommitInfo{}, nil, err
	}
	return s.info, s.warnings, nil
}

// resolveWorktree diffs the working tree, staged and unstaged changes and
// untracked files alike, against HEAD. The user filter does not apply since
// uncommitted changes have no author.
func (w *Walker) resolveWorktree(ctx context.Context, target scanning.Target, name string) (*worktreeStream, error) {
	wt, err := w.repo.Worktree()
	if err != nil {
		return nil, &scanning.ResolutionError{Target: target.String(), Err: fmt.Errorf("open worktree: %w", err)}
	}
	status, err := wt.Status()
	if err != nil {
		return nil, &scanning.ResolutionError{Target: target.String(), Err: fmt.Errorf("worktree status: %w", err)}
	}

	var headTree *object.Tree
	if head, err := w.repo.Head(); err == nil {
		c, err := w.repo.CommitObject(head.Hash())
		if err != nil {
			return nil, &scanning.ResolutionError{Target: target.String(), Ref: "HEAD", Err: err}
		}
		if headTree, err = c.Tree(); err != nil {
			return nil, &scanning.ResolutionError{Target: target.String(), Ref: "HEAD", Err: err}
		}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, &scanning.ResolutionError{Target: target.String(), Ref: "HEAD", Err: err}
	}

	paths := make([]string, 0, len(status))
	for path, st := range status {
		if st.Worktree == gogit.Deleted || (st.Worktree == gogit.Unmodified && st.Staging == gogit.Deleted) {
			continue
		}
		if st.Worktree == gogit.Unmodified && st.Staging == gogit.Unmodified {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	info := scanning.CommitInfo{
		Repo:      name,
		Operation: scanning.OperationUncommitted,
	}
	info.Author, info.Email = w.identity()

	stream := &worktreeStream{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		file, skip, err := w.worktreeFile(ctx, wt, headTree, path)
		if err != nil {
			stream.warnings = append(stream.warnings, &scanning.ReadError{Path: path, Err: err})
			continue
		}
		if skip || len(file.Fragments) == 0 {
			continue
		}
		info.Files = append(info.Files, file)
	}

	stream.info = info
	stream.empty = len(info.Files) == 0 && len(stream.warnings) == 0
	return stream, nil
}

func (w *Walker) worktreeFile(ctx context.Context, wt *gogit.Worktree, headTree *object.Tree, path string) (scanning.File, bool, error) {
	f, err := wt.Filesystem.Open(path)
	if err != nil {
		return scanning.File{}, false, fmt.Errorf("open: %w", err)
	}
	content, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return scanning.File{}, false, fmt.Errorf("read: %w", err)
	}

	head := content
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if isBinaryContent(head) {
		w.logger.Debug(ctx, "skipping binary file", "path", path)
		return scanning.File{}, true, nil
	}

	var old string
	if headTree != nil {
		prev, err := headTree.File(path)
		switch {
		case err == nil:
			if old, err = prev.Contents(); err != nil {
				return scanning.File{}, false, fmt.Errorf("read HEAD version: %w", err)
			}
		case !errors.Is(err, object.ErrFileNotFound):
			return scanning.File{}, false, fmt.Errorf("find HEAD version: %w", err)
		}
	}

	return scanning.File{Path: path, Fragments: lineDiff(old, string(content))}, false, nil
}

// lineDiff returns the lines added going from old to cur.
func lineDiff(old, cur string) []scanning.Fragment {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(old, cur)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var frags []scanning.Fragment
	line := 1
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			line += n
		case diffmatchpatch.DiffInsert:
			frags = append(frags, scanning.Fragment{StartLine: line, Content: d.Text})
			line += n
		}
	}
	return frags
}

// identity reads user.name and user.email from the repository configuration,
// falling back to the global one.
func (w *Walker) identity() (string, string) {
	cfg, err := w.repo.ConfigScoped(config.GlobalScope)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(cfg.User.Name), strings.TrimSpace(cfg.User.Email)
}
