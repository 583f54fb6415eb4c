package scanning

import "errors"

// Results is the outcome of scanning one target. The caller owns it once the
// scan returns.
type Results struct {
	// CommitsNumber counts every commit processed, with or without leaks.
	CommitsNumber int    `json:"commits_number"`
	Outputs       []Leak `json:"outputs"`
	// Warnings lists entries that were skipped because they could not be read
	// or evaluated. They are logged, not reported.
	Warnings []Warning `json:"-"`
}

// NewResults returns empty Results whose Outputs serialize as an empty list.
func NewResults() *Results { return &Results{Outputs: []Leak{}} }

// HasLeaks reports whether any leak was found.
func (r *Results) HasLeaks() bool { return r != nil && len(r.Outputs) > 0 }

// Warning is a recoverable problem met while scanning.
type Warning struct {
	Commit string
	Path   string
	Line   int
	Err    error
}

// NewWarning converts err into a Warning, keeping the location a *ReadError
// carries.
func NewWarning(err error) Warning {
	w := Warning{Err: err}
	var re *ReadError
	if errors.As(err, &re) {
		w.Commit, w.Path, w.Line = re.Commit, re.Path, re.Line
	}
	return w
}

// Message returns the warning as text.
func (w Warning) Message() string {
	if w.Err == nil {
		return ""
	}
	return w.Err.Error()
}

// Merge appends other to r, keeping r's entries first.
func (r *Results) Merge(other *Results) {
	if other == nil {
		return
	}
	r.CommitsNumber += other.CommitsNumber
	r.Outputs = append(r.Outputs, other.Outputs...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}
