package reporter

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sql-guard/internal/model"
)

func sampleReport() *model.Report {
	return &model.Report{
		ID:         "run-1",
		Source:     "./src",
		Files:      2,
		Statements: 3,
		Variants:   5,
		Issues: []model.Issue{
			{
				Type:       "no_where_clause",
				Level:      model.RiskCritical,
				Strategy:   model.StrategyBlock,
				Message:    "DELETE statement executed without WHERE clause (Full Table Delete)",
				Suggestion: "Add a WHERE clause to limit the scope of the delete.",
				SQL:        "DELETE FROM users",
				Segment: model.SQLSegment{
					StatementID: "UserMapper.purge",
					Location:    model.Location{FilePath: "UserMapper.xml", Line: 12},
				},
			},
			{
				Type:    "select_star",
				Level:   model.RiskLow,
				Message: "Avoid using SELECT * in production",
				Segment: model.SQLSegment{SQL: "SELECT * FROM t", Location: model.Location{FilePath: "main.go", Line: 3}},
			},
		},
	}
}

func TestConsoleReporter_Report(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	require.NoError(t, NewConsoleReporter(&buf).Report(sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "UserMapper.xml:12 (UserMapper.purge): [CRITICAL BLOCK] no_where_clause: DELETE statement")
	assert.Contains(t, out, "\tCode: DELETE FROM users")
	assert.Contains(t, out, "main.go:3: [LOW] select_star")
	assert.Contains(t, out, "\tCode: SELECT * FROM t")
	assert.Contains(t, out, "found 2 issues in 2 files (critical 1, high 0, medium 0, low 1)")
	assert.Contains(t, out, "Blocking findings present.")
}

func TestConsoleReporter_Clean(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	require.NoError(t, NewConsoleReporter(&buf).Report(&model.Report{Files: 1, Statements: 2, Variants: 2}))
	assert.Contains(t, buf.String(), "No SQL issues found")
	assert.Contains(t, buf.String(), "(1 files, 2 statements, 2 variants)")
}

func TestConsoleReporter_Verdict(t *testing.T) {
	color.NoColor = true

	res := model.NewValidationResult()
	res.Add(model.ViolationInfo{Checker: "no_where_clause", RiskLevel: model.RiskCritical, Message: "no where"})

	var buf bytes.Buffer
	NewConsoleReporter(&buf).Verdict("DELETE FROM t", res, true)
	assert.Equal(t, "BLOCK [CRITICAL] DELETE FROM t\n\t- [CRITICAL] no_where_clause: no where\n", buf.String())
}

func TestJSONReporter_Report(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONReporter(&buf, "").Report(sampleReport()))

	var doc struct {
		ID      string `json:"id"`
		Files   int    `json:"files"`
		Issues  []map[string]any
		Summary struct {
			Total    int            `json:"total"`
			ByLevel  map[string]int `json:"by_level"`
			Blocking bool           `json:"blocking"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-1", doc.ID)
	assert.Equal(t, 2, doc.Files)
	require.Len(t, doc.Issues, 2)
	assert.Equal(t, "CRITICAL", doc.Issues[0]["level"])
	assert.Equal(t, "BLOCK", doc.Issues[0]["strategy"])
	assert.Equal(t, 2, doc.Summary.Total)
	assert.Equal(t, map[string]int{"CRITICAL": 1, "LOW": 1}, doc.Summary.ByLevel)
	assert.True(t, doc.Summary.Blocking)
}

func TestJSONReporter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, NewJSONReporter(nil, path).Report(&model.Report{ID: "empty"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"issues": []`)
	assert.Contains(t, string(data), `"blocking": false`)

	err = NewJSONReporter(nil, filepath.Join(t.TempDir(), "missing", "r.json")).Report(&model.Report{})
	assert.Error(t, err)
}
