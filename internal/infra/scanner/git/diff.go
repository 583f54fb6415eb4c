package git

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
)

// commitStream yields resolved history commits in traversal order.
type commitStream struct {
	walker *Walker
	name   string
	ids    []scanning.CommitID
	pos    int
}

func (s *commitStream) Len() int { return len(s.ids) }

func (s *commitStream) NextID(ctx context.Context) (scanning.CommitID, error) {
	if err := ctx.Err(); err != nil {
		return scanning.CommitID{}, err
	}
	if s.pos >= len(s.ids) {
		return scanning.CommitID{}, io.EOF
	}
	id := s.ids[s.pos]
	s.pos++
	return id, nil
}

func (s *commitStream) Load(ctx context.Context, id scanning.CommitID) (scanning.CommitInfo, []error, error) {
	return s.walker.load(ctx, s.name, id)
}

func (s *commitStream) Next(ctx context.Context) (scanning.CommitInfo, []error, error) {
	id, err := s.NextID(ctx)
	if err != nil {
		return scanning.CommitInfo{}, nil, err
	}
	return s.Load(ctx, id)
}

// load diffs one commit against its first parent, or the empty tree for a
// root commit. A failure to read the commit itself is returned as the error;
// failures limited to one file are returned as warnings and the file is left
// out.
func (w *Walker) load(ctx context.Context, name string, id scanning.CommitID) (scanning.CommitInfo, []error, error) {
	readErr := func(path string, err error) *scanning.ReadError {
		return &scanning.ReadError{Commit: id.String(), Path: path, Err: err}
	}

	repo, err := w.pool.get()
	if err != nil {
		return scanning.CommitInfo{}, nil, readErr("", err)
	}
	defer w.pool.put(repo)

	commit, err := repo.CommitObject(plumbing.Hash(id))
	if err != nil {
		return scanning.CommitInfo{}, nil, readErr("", fmt.Errorf("read commit: %w", err))
	}
	tree, err := commit.Tree()
	if err != nil {
		return scanning.CommitInfo{}, nil, readErr("", fmt.Errorf("read tree: %w", err))
	}

	parentTree := &object.Tree{}
	parent, err := firstParent(commit)
	if err != nil {
		return scanning.CommitInfo{}, nil, readErr("", fmt.Errorf("read parent: %w", err))
	}
	if parent != nil {
		if parentTree, err = parent.Tree(); err != nil {
			return scanning.CommitInfo{}, nil, readErr("", fmt.Errorf("read parent tree: %w", err))
		}
	}

	changes, err := object.DiffTreeWithOptions(ctx, parentTree, tree, object.DefaultDiffTreeOptions)
	if err != nil {
		return scanning.CommitInfo{}, nil, readErr("", fmt.Errorf("diff trees: %w", err))
	}

	info := scanning.CommitInfo{
		Repo:      name,
		Commit:    id,
		Author:    commit.Author.Name,
		Email:     commit.Author.Email,
		Message:   strings.TrimRight(commit.Message, "\n"),
		Date:      commit.Author.When,
		Tags:      w.tagIndex(ctx)[commit.Hash],
		Operation: scanning.OperationCommit,
	}

	var warnings []error
	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			return scanning.CommitInfo{}, nil, err
		}

		file, skip, err := w.changedFile(ctx, change)
		if err != nil {
			warnings = append(warnings, readErr(change.To.Name, err))
			continue
		}
		if skip || len(file.Fragments) == 0 {
			continue
		}
		info.Files = append(info.Files, file)
	}
	return info, warnings, nil
}

// changedFile extracts the lines a change added. Deletions and binary files
// are skipped.
func (w *Walker) changedFile(ctx context.Context, change *object.Change) (scanning.File, bool, error) {
	action, err := change.Action()
	if err != nil {
		return scanning.File{}, false, fmt.Errorf("classify change: %w", err)
	}
	if action == merkletrie.Delete {
		return scanning.File{}, true, nil
	}

	_, to, err := change.Files()
	if err != nil {
		return scanning.File{}, false, fmt.Errorf("read blob: %w", err)
	}
	if to == nil {
		return scanning.File{}, true, nil
	}

	binary, err := isBinaryBlob(to)
	if err != nil {
		return scanning.File{}, false, fmt.Errorf("read blob: %w", err)
	}
	if binary {
		w.logger.Debug(ctx, "skipping binary file", "path", change.To.Name)
		return scanning.File{}, true, nil
	}

	patch, err := change.PatchContext(ctx)
	if err != nil {
		return scanning.File{}, false, fmt.Errorf("compute patch: %w", err)
	}

	file := scanning.File{Path: change.To.Name}
	for _, fp := range patch.FilePatches() {
		if fp.IsBinary() {
			return scanning.File{}, true, nil
		}
		file.Fragments = append(file.Fragments, addedFragments(fp.Chunks())...)
	}
	return file, false, nil
}

// addedFragments turns patch chunks into blocks of added lines numbered as in
// the new version of the file.
func addedFragments(chunks []fdiff.Chunk) []scanning.Fragment {
	var frags []scanning.Fragment
	line := 1
	for _, chunk := range chunks {
		content := chunk.Content()
		n := countLines(content)
		switch chunk.Type() {
		case fdiff.Equal:
			line += n
		case fdiff.Add:
			frags = append(frags, scanning.Fragment{StartLine: line, Content: content})
			line += n
		}
	}
	return frags
}

// countLines counts newline terminated lines plus a final unterminated one.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
