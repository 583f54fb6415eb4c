// Package config loads what a scan needs before it starts: the detection rules
// with their allowlists, the scan options, and optional multi-target files.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ahrav/leakwalk/internal/domain/rules"
)

// DefaultRules is the rule file used when no other one is configured.
//
//go:embed gitleaks.toml
var DefaultRules string

// RepoConfigNames are the rule files looked up at the top level of a scanned
// repository, in order of preference.
var RepoConfigNames = []string{".gitleaks.toml", "gitleaks.toml"}

// ErrRepoConfigNotFound is returned when a repository carries no rule file.
var ErrRepoConfigNotFound = errors.New("repository has no rule file")

// RuleFile mirrors the gitleaks.toml layout. Keys match field names ignoring
// case.
type RuleFile struct {
	Title     string
	Rules     []RuleConfig
	Allowlist AllowlistConfig
}

// RuleConfig is one [[rules]] table.
type RuleConfig struct {
	ID          string
	Description string
	Regex       string
	Keywords    []string
	Tags        []string
	Allowlist   *AllowlistConfig
}

// AllowlistConfig is an [allowlist] or [rules.allowlist] table.
type AllowlistConfig struct {
	Description string
	Paths       []string
	Commits     []string
	RegexTarget string
	// RegexTargetAlias accepts the snake_case spelling of regexTarget.
	RegexTargetAlias string `mapstructure:"regex_target"`
	Regexes          []string
	StopWords        []string
}

func (a AllowlistConfig) definition() rules.AllowlistDefinition {
	target := a.RegexTarget
	if target == "" {
		target = a.RegexTargetAlias
	}
	return rules.AllowlistDefinition{
		Description: a.Description,
		Paths:       a.Paths,
		Commits:     a.Commits,
		RegexTarget: target,
		Regexes:     a.Regexes,
		StopWords:   a.StopWords,
	}
}

// Definitions converts the file into rule and global allowlist definitions.
func (f *RuleFile) Definitions() ([]rules.RuleDefinition, rules.AllowlistDefinition) {
	defs := make([]rules.RuleDefinition, 0, len(f.Rules))
	for _, r := range f.Rules {
		def := rules.RuleDefinition{
			ID:          r.ID,
			Description: r.Description,
			Regex:       r.Regex,
			Keywords:    r.Keywords,
			Tags:        r.Tags,
		}
		if r.Allowlist != nil {
			al := r.Allowlist.definition()
			def.Allowlist = &al
		}
		defs = append(defs, def)
	}
	return defs, f.Allowlist.definition()
}

// RuleSet compiles the file. Invalid rules surface as *rules.ConfigError.
func (f *RuleFile) RuleSet(opts ...rules.RuleSetOption) (*rules.RuleSet, error) {
	defs, global := f.Definitions()
	return rules.NewRuleSet(defs, global, opts...)
}

// ParseRules reads a TOML rule file from r.
func ParseRules(r io.Reader) (*RuleFile, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return unmarshalRules(v)
}

// LoadRules reads the TOML rule file at path.
func LoadRules(path string) (*RuleFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}
	return unmarshalRules(v)
}

// DefaultRuleFile returns the embedded rule file.
func DefaultRuleFile() (*RuleFile, error) { return ParseRules(strings.NewReader(DefaultRules)) }

func unmarshalRules(v *viper.Viper) (*RuleFile, error) {
	var f RuleFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule file: %w", err)
	}
	return &f, nil
}

// FindRepoConfig returns the path of the rule file at the top level of the
// repository rooted at root.
func FindRepoConfig(root string) (string, error) {
	for _, name := range RepoConfigNames {
		path := filepath.Join(root, name)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: looked for %s in %s", ErrRepoConfigNotFound, strings.Join(RepoConfigNames, ", "), root)
}

// RuleSource names where a scan's rules come from.
type RuleSource struct {
	// Path is empty for the embedded default rules.
	Path string
	// FromRepo marks rules taken from the scanned repository.
	FromRepo bool
}

// String describes the source for logs.
func (s RuleSource) String() string {
	switch {
	case s.FromRepo:
		return "repository:" + s.Path
	case s.Path != "":
		return s.Path
	default:
		return "embedded"
	}
}

// ResolveRules picks the rule file for a scan: the repository's own file when
// fromRepo is set, else the file at path, else the embedded defaults.
func ResolveRules(path string, fromRepo bool, repoRoot string) (*RuleFile, RuleSource, error) {
	if fromRepo {
		found, err := FindRepoConfig(repoRoot)
		if err != nil {
			return nil, RuleSource{}, err
		}
		f, err := LoadRules(found)
		return f, RuleSource{Path: found, FromRepo: true}, err
	}
	if path != "" {
		f, err := LoadRules(path)
		return f, RuleSource{Path: path}, err
	}
	f, err := DefaultRuleFile()
	return f, RuleSource{}, err
}
