package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
)

func (w *Walker) resolveIDs(ctx context.Context, target scanning.Target, sel scanning.Selector) ([]scanning.CommitID, error) {
	keep := func(c *object.Commit) bool {
		return target.MatchesUser(c.Author.Name, c.Author.Email)
	}

	switch s := sel.(type) {
	case scanning.History:
		head, err := w.resolveCommit(scanning.LatestCommit)
		if err != nil {
			return nil, err
		}
		return w.walkFirstParents(ctx, head, nil, keep)

	case scanning.SingleCommit:
		c, err := w.resolveCommit(s.Ref)
		if err != nil {
			return nil, err
		}
		if !keep(c) {
			return nil, nil
		}
		return []scanning.CommitID{scanning.CommitID(c.Hash)}, nil

	case scanning.CommitList:
		seen := make(map[plumbing.Hash]struct{}, len(s.Refs))
		ids := make([]scanning.CommitID, 0, len(s.Refs))
		for _, ref := range s.Refs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c, err := w.resolveCommit(ref)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[c.Hash]; dup {
				continue
			}
			seen[c.Hash] = struct{}{}
			if keep(c) {
				ids = append(ids, scanning.CommitID(c.Hash))
			}
		}
		return ids, nil

	case scanning.DateRange:
		head, err := w.resolveCommit(scanning.LatestCommit)
		if err != nil {
			return nil, err
		}
		return w.walkFirstParents(ctx, head, nil, func(c *object.Commit) bool {
			return s.Contains(c.Author.When) && keep(c)
		})

	case scanning.CommitRange:
		return w.resolveRange(ctx, s, keep)

	case scanning.Branch:
		tip, err := w.resolveBranch(s.Name)
		if err != nil {
			return nil, err
		}
		return w.walkFirstParents(ctx, tip, nil, keep)

	default:
		return nil, fmt.Errorf("unsupported selector %q", sel.Kind())
	}
}

// resolveRange walks first parents from To back to From. From is excluded and
// must be met before the root.
func (w *Walker) resolveRange(ctx context.Context, r scanning.CommitRange, keep func(*object.Commit) bool) ([]scanning.CommitID, error) {
	from, err := w.resolveCommit(r.From)
	if err != nil {
		return nil, err
	}
	to, err := w.resolveCommit(r.To)
	if err != nil {
		return nil, err
	}

	stop := from.Hash
	ids, err := w.walkFirstParents(ctx, to, &stop, keep)
	if errors.Is(err, errStopNotReached) {
		return nil, &scanning.ResolutionError{
			Ref: r.From + ".." + r.To,
			Err: scanning.ErrRangeUnreachable,
		}
	}
	return ids, err
}

var errStopNotReached = errors.New("stop commit not reached")

// walkFirstParents lists the first-parent chain starting at tip, newest first.
// With a stop hash the walk ends there, exclusive, and fails with
// errStopNotReached when the root comes first.
func (w *Walker) walkFirstParents(
	ctx context.Context,
	tip *object.Commit,
	stop *plumbing.Hash,
	keep func(*object.Commit) bool,
) ([]scanning.CommitID, error) {
	var ids []scanning.CommitID
	for c := tip; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stop != nil && c.Hash == *stop {
			return ids, nil
		}
		if keep(c) {
			ids = append(ids, scanning.CommitID(c.Hash))
		}

		parent, err := firstParent(c)
		if err != nil {
			return nil, fmt.Errorf("read parent of %s: %w", c.Hash, err)
		}
		if parent == nil {
			break
		}
		c = parent
	}

	if stop != nil {
		return nil, errStopNotReached
	}
	return ids, nil
}

// resolveCommit resolves a full or abbreviated id, a ref name or LatestCommit.
func (w *Walker) resolveCommit(ref string) (*object.Commit, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &scanning.ResolutionError{Ref: ref, Err: scanning.ErrUnknownRef}
	}

	if ref == scanning.LatestCommit || ref == "HEAD" {
		head, err := w.repo.Head()
		if err != nil {
			return nil, &scanning.ResolutionError{Ref: "HEAD", Err: fmt.Errorf("%w: %v", scanning.ErrUnknownRef, err)}
		}
		return w.commitObject(ref, head.Hash())
	}

	if id, err := scanning.ParseCommitID(ref); err == nil {
		return w.commitObject(ref, plumbing.Hash(id))
	}

	if tag, err := w.repo.Tag(ref); err == nil {
		return w.commitObject(ref, tag.Hash())
	}

	if isHexPrefix(ref) {
		if err := w.checkUniquePrefix(ref); err != nil {
			return nil, err
		}
	}

	hash, err := w.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, &scanning.ResolutionError{Ref: ref, Err: fmt.Errorf("%w: %v", scanning.ErrUnknownRef, err)}
	}
	return w.commitObject(ref, *hash)
}

// minAbbrevLen is the shortest abbreviated id git accepts.
const minAbbrevLen = 4

func isHexPrefix(ref string) bool {
	if len(ref) < minAbbrevLen || len(ref) >= 2*len(plumbing.ZeroHash) {
		return false
	}
	for i := 0; i < len(ref); i++ {
		switch c := ref[i]; {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// checkUniquePrefix fails when more than one commit id starts with prefix.
// ResolveRevision would return the first candidate.
func (w *Walker) checkUniquePrefix(prefix string) error {
	prefix = strings.ToLower(prefix)
	iter, err := w.repo.CommitObjects()
	if err != nil {
		return &scanning.ResolutionError{Ref: prefix, Err: err}
	}
	defer iter.Close()

	matches := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if strings.HasPrefix(c.Hash.String(), prefix) {
			if matches++; matches > 1 {
				return storer.ErrStop
			}
		}
		return nil
	})
	if err != nil {
		return &scanning.ResolutionError{Ref: prefix, Err: err}
	}
	if matches > 1 {
		return &scanning.ResolutionError{Ref: prefix, Err: scanning.ErrAmbiguousRef}
	}
	return nil
}

func (w *Walker) commitObject(ref string, hash plumbing.Hash) (*object.Commit, error) {
	c, err := w.repo.CommitObject(hash)
	if err == nil {
		return c, nil
	}
	if tag, tagErr := w.repo.TagObject(hash); tagErr == nil {
		if c, err = tag.Commit(); err == nil {
			return c, nil
		}
	}
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		err = scanning.ErrUnknownRef
	}
	return nil, &scanning.ResolutionError{Ref: ref, Err: err}
}

// resolveBranch finds a branch tip by short name, remote tracking name or
// full ref name.
func (w *Walker) resolveBranch(name string) (*object.Commit, error) {
	candidates := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(name),
		plumbing.ReferenceName("refs/remotes/" + name),
		plumbing.ReferenceName(name),
	}
	for _, rn := range candidates {
		ref, err := w.repo.Reference(rn, true)
		if err != nil {
			continue
		}
		return w.commitObject(name, ref.Hash())
	}
	return nil, &scanning.ResolutionError{Ref: name, Err: fmt.Errorf("%w: no branch named %q", scanning.ErrUnknownRef, name)}
}
