package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"sql-guard/internal/model"
)

// JSONReporter writes the report as one indented JSON document, to a file
// when a path is set and to out otherwise.
type JSONReporter struct {
	out  io.Writer
	path string
}

func NewJSONReporter(out io.Writer, path string) *JSONReporter {
	if out == nil {
		out = os.Stdout
	}
	return &JSONReporter{out: out, path: path}
}

type jsonSummary struct {
	Total    int            `json:"total"`
	Levels   map[string]int `json:"by_level"`
	Blocking bool           `json:"blocking"`
}

type jsonReport struct {
	*model.Report
	Summary jsonSummary `json:"summary"`
}

func (r *JSONReporter) Report(report *model.Report) error {
	levels := make(map[string]int)
	for level, n := range report.CountByLevel() {
		levels[level.String()] = n
	}
	doc := jsonReport{
		Report: report,
		Summary: jsonSummary{
			Total:    len(report.Issues),
			Levels:   levels,
			Blocking: report.Blocking(),
		},
	}
	if doc.Report.Issues == nil {
		cp := *report
		cp.Issues = []model.Issue{}
		doc.Report = &cp
	}

	if r.path == "" {
		return encode(r.out, doc)
	}
	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := encode(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encode(w io.Writer, doc any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
