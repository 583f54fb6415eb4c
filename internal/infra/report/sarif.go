package report

import (
	"fmt"
	"io"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/ahrav/leakwalk/internal/domain/rules"
	"github.com/ahrav/leakwalk/internal/domain/scanning"
)

const (
	defaultToolName = "leakwalk"
	toolURI         = "https://github.com/ahrav/leakwalk"
)

// SARIFWriter writes a SARIF 2.1.0 log with one run. Every rule that produced
// a leak is listed once, in order of its first leak.
type SARIFWriter struct {
	pretty      bool
	rules       *rules.RuleSet
	toolName    string
	toolVersion string
}

func newSARIFWriter(opts Options) *SARIFWriter {
	name := opts.ToolName
	if name == "" {
		name = defaultToolName
	}
	return &SARIFWriter{pretty: opts.Pretty, rules: opts.Rules, toolName: name, toolVersion: opts.ToolVersion}
}

func (s *SARIFWriter) Write(w io.Writer, res *scanning.Results) error {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return fmt.Errorf("failed to create sarif report: %w", err)
	}

	run := sarif.NewRunWithInformationURI(s.toolName, toolURI)
	if s.toolVersion != "" {
		run.Tool.Driver.WithVersion(s.toolVersion)
	}
	if res != nil {
		seen := make(map[string]struct{})
		for _, l := range res.Outputs {
			if _, ok := seen[l.Rule]; !ok {
				seen[l.Rule] = struct{}{}
				run.AddRule(l.Rule).WithDescription(s.describe(l.Rule))
			}

			location := sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewSimpleArtifactLocation(l.File)).
				WithRegion(sarif.NewSimpleRegion(l.LineNumber, l.LineNumber))

			run.CreateResultForRule(l.Rule).
				WithLevel("error").
				WithMessage(sarif.NewTextMessage(resultMessage(l))).
				AddLocation(sarif.NewLocationWithPhysicalLocation(location))
		}
	}
	report.AddRun(run)

	if s.pretty {
		return report.PrettyWrite(w)
	}
	return report.Write(w)
}

func (s *SARIFWriter) describe(ruleID string) string {
	if s.rules != nil {
		if r, ok := s.rules.Rule(ruleID); ok && r.Description() != "" {
			return r.Description()
		}
	}
	return ruleID
}

func resultMessage(l scanning.Leak) string {
	if l.Commit == "" {
		return fmt.Sprintf("%s detected a secret in uncommitted changes to %s", l.Rule, l.File)
	}
	return fmt.Sprintf("%s detected a secret in %s at commit %s", l.Rule, l.File, l.Commit)
}
