package fileloader

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/leakwalk/internal/config"
)

// FileLoader loads a target list from a YAML file on disk. It implements the
// config.Loader interface.
type FileLoader struct {
	// path is the filesystem path to the targets file.
	path string
}

// NewFileLoader creates a FileLoader reading the file at path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads, parses and validates the targets file.
func (l *FileLoader) Load(ctx context.Context) (*config.TargetsFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}

	var f config.TargetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse targets file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}
