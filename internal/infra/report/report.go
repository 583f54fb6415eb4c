// Package report serializes scan results.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ahrav/leakwalk/internal/domain/rules"
	"github.com/ahrav/leakwalk/internal/domain/scanning"
)

// Supported formats.
const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatSARIF = "sarif"
)

// ErrUnknownFormat is returned for a format without a writer.
var ErrUnknownFormat = errors.New("unknown report format")

// Writer serializes Results.
type Writer interface {
	Write(w io.Writer, res *scanning.Results) error
}

// Options tunes the writers. Each writer uses only what applies to it.
type Options struct {
	// Pretty indents JSON and SARIF output.
	Pretty bool
	// Rules describes rules in SARIF output. Optional.
	Rules *rules.RuleSet
	// ToolName and ToolVersion identify the scanner in SARIF output.
	ToolName    string
	ToolVersion string
}

// New returns the Writer for format.
func New(format string, opts Options) (Writer, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return &JSONWriter{pretty: opts.Pretty}, nil
	case FormatCSV:
		return &CSVWriter{}, nil
	case FormatSARIF:
		return newSARIFWriter(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteFile writes res to path, or to stdout when path is empty.
func WriteFile(path string, wr Writer, res *scanning.Results) error {
	if path == "" {
		return wr.Write(os.Stdout, res)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}
	if err := wr.Write(f, res); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return f.Close()
}
