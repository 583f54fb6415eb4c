package config

import (
	"context"
	"fmt"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
	"github.com/ahrav/leakwalk/internal/domain/shared"
)

// Loader provides target loading capabilities. It abstracts the source of the
// target list so files and other sources can be used interchangeably.
type Loader interface {
	// Load retrieves and parses the target list from the underlying source.
	Load(ctx context.Context) (*TargetsFile, error)
}

// TargetsFile lists the repositories of a multi-target scan.
type TargetsFile struct {
	Targets []TargetSpec `yaml:"targets" validate:"min=1,dive"`
}

// TargetSpec is one repository of a TargetsFile.
type TargetSpec struct {
	// Name overrides the repository name reported in leaks.
	Name string `yaml:"name,omitempty"`
	// Repo is the local path of the repository.
	Repo string `yaml:"repo" validate:"required"`

	SelectorSpec `yaml:",inline"`
}

// Validate checks every target of the file.
func (f *TargetsFile) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid targets file: %w", err)
	}
	for i, t := range f.Targets {
		if err := t.check(); err != nil {
			return fmt.Errorf("invalid targets file: target %d (%s): %w", i, t.Repo, err)
		}
	}
	return nil
}

// ScanTargets converts the file into scan targets, in file order. A target
// whose selector cannot be built is left out and reported in failed as a
// *scanning.ResolutionError. The remaining targets are unaffected.
func (f *TargetsFile) ScanTargets() (targets []scanning.Target, failed []*scanning.ResolutionError) {
	targets = make([]scanning.Target, 0, len(f.Targets))
	for _, t := range f.Targets {
		target, err := t.Target()
		if err != nil {
			failed = append(failed, err)
			continue
		}
		targets = append(targets, target)
	}
	return targets, failed
}

// Target converts t into a scan target.
func (t TargetSpec) Target() (scanning.Target, *scanning.ResolutionError) {
	sel, err := t.Selector()
	if err != nil {
		return scanning.Target{}, &scanning.ResolutionError{Target: t.Repo, Ref: t.ref(), Err: err}
	}
	return scanning.Target{
		RepoPath: t.Repo,
		Name:     t.Name,
		Selector: sel,
		User:     shared.OptionalString(t.User),
	}, nil
}
