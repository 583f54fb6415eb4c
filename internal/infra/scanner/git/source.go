package git

import (
	"context"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
	"github.com/ahrav/leakwalk/pkg/common/logger"
)

var _ scanning.CommitSource = (*Source)(nil)

// Source is a scanning.CommitSource over local repositories. It keeps one
// Walker per repository so tags are indexed once per run.
type Source struct {
	mu      sync.Mutex
	walkers map[string]*Walker

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSource creates a Source.
func NewSource(logger *logger.Logger, tracer trace.Tracer) *Source {
	return &Source{
		walkers: make(map[string]*Walker),
		logger:  logger,
		tracer:  tracer,
	}
}

// Resolve opens the target's repository, if needed, and resolves its selector.
func (s *Source) Resolve(ctx context.Context, target scanning.Target) (scanning.CommitStream, error) {
	w, err := s.walker(target.RepoPath)
	if err != nil {
		return nil, &scanning.ResolutionError{Target: target.String(), Err: err}
	}
	return w.Resolve(ctx, target)
}

func (s *Source) walker(path string) (*Walker, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = path
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.walkers[key]; ok {
		return w, nil
	}
	w, err := NewWalker(path, s.logger, s.tracer)
	if err != nil {
		return nil, err
	}
	s.walkers[key] = w
	return w, nil
}

// Root returns the top level directory of the repository containing path.
func (s *Source) Root(path string) (string, error) {
	w, err := s.walker(path)
	if err != nil {
		return "", err
	}
	return w.Root(), nil
}
