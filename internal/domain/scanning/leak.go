package scanning

import (
	"strings"

	"github.com/ahrav/leakwalk/internal/domain/rules"
)

// LeakDateLayout is the layout of Leak.Date.
const LeakDateLayout = "2006-01-02 15:04:05 -0700"

// Leak is one reported occurrence of a secret at a specific line of a specific
// commit. Field order is the order reporters emit.
type Leak struct {
	Line          string `json:"line"`
	LineNumber    int    `json:"line_number"`
	Offender      string `json:"offender"`
	Commit        string `json:"commit"`
	Repo          string `json:"repo"`
	Rule          string `json:"rule"`
	CommitMessage string `json:"commit_message"`
	Author        string `json:"author"`
	Email         string `json:"email"`
	File          string `json:"file"`
	Date          string `json:"date"`
	Tags          string `json:"tags"`
	Operation     string `json:"operation"`
}

// NewLeak builds the Leak for match m found on line of path within info.
func NewLeak(info CommitInfo, path string, line Line, m rules.MatchCandidate) Leak {
	var date string
	if !info.Date.IsZero() {
		date = info.Date.Format(LeakDateLayout)
	}
	return Leak{
		Line:          line.Text,
		LineNumber:    line.Number,
		Offender:      m.Offender,
		Commit:        info.CommitString(),
		Repo:          info.Repo,
		Rule:          m.RuleID,
		CommitMessage: info.Message,
		Author:        info.Author,
		Email:         info.Email,
		File:          path,
		Date:          date,
		Tags:          strings.Join(info.Tags, ", "),
		Operation:     info.Operation.String(),
	}
}
