package report

import (
	"io"

	"github.com/goccy/go-json"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
)

// JSONWriter writes {"commits_number": n, "outputs": [...]}.
type JSONWriter struct{ pretty bool }

func (j *JSONWriter) Write(w io.Writer, res *scanning.Results) error {
	if res == nil {
		res = scanning.NewResults()
	}
	enc := json.NewEncoder(w)
	if j.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}
