package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
)

var csvHeader = []string{
	"line", "line_number", "offender", "commit", "repo", "rule",
	"commit_message", "author", "email", "file", "date",
}

// CSVWriter writes one row per leak. Tags and operation are not part of the
// CSV layout.
type CSVWriter struct{}

func (CSVWriter) Write(w io.Writer, res *scanning.Results) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	if res != nil {
		for _, l := range res.Outputs {
			row := []string{
				l.Line, strconv.Itoa(l.LineNumber), l.Offender, l.Commit, l.Repo, l.Rule,
				l.CommitMessage, l.Author, l.Email, l.File, l.Date,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
