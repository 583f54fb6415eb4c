package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
	"github.com/ahrav/leakwalk/internal/domain/shared"
)

// ReportFormat is the serialization of a report.
type ReportFormat string

const (
	ReportFormatJSON  ReportFormat = "json"
	ReportFormatCSV   ReportFormat = "csv"
	ReportFormatSARIF ReportFormat = "sarif"
)

var (
	// ErrConflictingSelectors is returned when more than one selection mode is given.
	ErrConflictingSelectors = errors.New("conflicting commit selectors")
	// ErrDiskRequired is returned when a remote repository is given without a
	// directory to clone it into.
	ErrDiskRequired = errors.New("remote repository requires a clone directory")
)

var validate = validator.New()

// SelectorSpec describes which commits of a repository to scan. At most one
// mode may be set; none selects the whole history.
type SelectorSpec struct {
	Commit      string   `yaml:"commit,omitempty"`
	Commits     []string `yaml:"commits,omitempty" validate:"omitempty,dive,required"`
	CommitsFile string   `yaml:"commits_file,omitempty" validate:"omitempty,file"`
	Since       string   `yaml:"since,omitempty"`
	Until       string   `yaml:"until,omitempty"`
	From        string   `yaml:"from,omitempty" validate:"required_with=To"`
	To          string   `yaml:"to,omitempty" validate:"required_with=From"`
	Branch      string   `yaml:"branch,omitempty"`
	Uncommitted bool     `yaml:"uncommitted,omitempty"`
	User        string   `yaml:"user,omitempty"`
}

// modes lists the selection modes that are set.
func (s SelectorSpec) modes() []string {
	var set []string
	if s.Commit != "" {
		set = append(set, "commit")
	}
	if len(s.Commits) > 0 {
		set = append(set, "commits")
	}
	if s.CommitsFile != "" {
		set = append(set, "commits-file")
	}
	if s.Since != "" || s.Until != "" {
		set = append(set, "date range")
	}
	if s.From != "" || s.To != "" {
		set = append(set, "commit range")
	}
	if s.Branch != "" {
		set = append(set, "branch")
	}
	if s.Uncommitted {
		set = append(set, "uncommitted")
	}
	return set
}

func (s SelectorSpec) check() error {
	if modes := s.modes(); len(modes) > 1 {
		return fmt.Errorf("%w: %s", ErrConflictingSelectors, strings.Join(modes, ", "))
	}
	return nil
}

// ref renders the raw values of the selection mode that is set, naming what
// failed to resolve in errors.
func (s SelectorSpec) ref() string {
	switch {
	case s.Commit != "":
		return s.Commit
	case len(s.Commits) > 0:
		return strings.Join(s.Commits, ",")
	case s.CommitsFile != "":
		return s.CommitsFile
	case s.Since != "" || s.Until != "":
		return s.Since + ".." + s.Until
	case s.From != "" || s.To != "":
		return s.From + ".." + s.To
	case s.Branch != "":
		return s.Branch
	default:
		return ""
	}
}

// Selector builds the selector for the mode that is set.
func (s SelectorSpec) Selector() (scanning.Selector, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	switch {
	case s.Uncommitted:
		return scanning.Uncommitted{}, nil
	case s.Commit != "":
		return scanning.SingleCommit{Ref: s.Commit}, nil
	case len(s.Commits) > 0:
		return scanning.CommitList{Refs: s.Commits}, nil
	case s.CommitsFile != "":
		return scanning.CommitListFromFile(s.CommitsFile)
	case s.Since != "" || s.Until != "":
		return scanning.NewDateRange(shared.OptionalString(s.Since), shared.OptionalString(s.Until))
	case s.From != "":
		return scanning.CommitRange{From: s.From, To: s.To}, nil
	case s.Branch != "":
		return scanning.Branch{Name: s.Branch}, nil
	default:
		return scanning.History{}, nil
	}
}

// ScanOptions are the options of a command line scan.
type ScanOptions struct {
	// Repo is a local path, or a remote URL when Disk is set.
	Repo string `validate:"required_without=TargetsFile"`
	// Disk is the directory a remote Repo is cloned into.
	Disk string
	// TargetsFile scans the targets listed in a YAML file instead of Repo.
	TargetsFile string `validate:"omitempty,file"`

	ConfigPath string `validate:"omitempty,file"`
	RepoConfig bool

	Report       string
	ReportFormat ReportFormat `validate:"oneof=json csv sarif"`
	Pretty       bool

	Workers   int `validate:"gte=0,lte=1024"`
	QueueSize int `validate:"gte=0"`

	Verbose bool
	Debug   bool

	SelectorSpec
}

// Validate checks field constraints and selector exclusivity.
func (o ScanOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid scan options: %w", err)
	}
	if err := o.check(); err != nil {
		return fmt.Errorf("invalid scan options: %w", err)
	}
	if IsRemote(o.Repo) && o.Disk == "" {
		return fmt.Errorf("invalid scan options: %w: %s", ErrDiskRequired, o.Repo)
	}
	return nil
}

// Target builds the scan target for repoPath, the local path of Repo.
func (o ScanOptions) Target(repoPath string) (scanning.Target, error) {
	sel, err := o.Selector()
	if err != nil {
		return scanning.Target{}, &scanning.ResolutionError{Target: repoPath, Ref: o.ref(), Err: err}
	}
	return scanning.Target{
		RepoPath: repoPath,
		Selector: sel,
		User:     shared.OptionalString(o.User),
	}, nil
}

// IsRemote reports whether repo names a remote repository rather than a path.
func IsRemote(repo string) bool {
	return strings.Contains(repo, "://") || strings.HasPrefix(repo, "git@")
}
