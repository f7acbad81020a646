package reporter

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"sql-guard/internal/model"
)

type ConsoleReporter struct {
	out io.Writer
}

func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{out: out}
}

func levelColor(level model.RiskLevel) *color.Color {
	switch level {
	case model.RiskCritical:
		return color.New(color.FgRed, color.Bold)
	case model.RiskHigh:
		return color.New(color.FgRed)
	case model.RiskMedium:
		return color.New(color.FgYellow, color.Bold)
	case model.RiskLow:
		return color.New(color.FgBlue, color.Bold)
	default:
		return color.New(color.FgWhite)
	}
}

func (r *ConsoleReporter) Report(report *model.Report) error {
	if len(report.Issues) == 0 {
		fmt.Fprintf(r.out, "%s (%d files, %d statements, %d variants)\n",
			color.GreenString("✔ No SQL issues found! Great job."), report.Files, report.Statements, report.Variants)
		return nil
	}

	for _, issue := range report.Issues {
		// Format: file:line: [LEVEL] type: Message
		loc := issue.Segment.Location.String()
		if issue.Segment.StatementID != "" {
			loc += " (" + issue.Segment.StatementID + ")"
		}
		strategy := ""
		if issue.Strategy != "" {
			strategy = " " + string(issue.Strategy)
		}

		fmt.Fprintf(r.out, "%s: [%s%s] %s: %s\n", loc, levelColor(issue.Level).Sprint(issue.Level), strategy, issue.Type, issue.Message)

		code := issue.SQL
		if code == "" {
			code = issue.Segment.SQL
		}
		if code != "" {
			fmt.Fprintf(r.out, "\tCode: %s\n", color.CyanString(truncate(code, 120)))
		}
		if issue.Suggestion != "" {
			fmt.Fprintf(r.out, "\tSuggestion: %s\n", issue.Suggestion)
		}
		fmt.Fprintln(r.out)
	}

	// Summary
	counts := report.CountByLevel()
	fmt.Fprintf(r.out, "\n%s found %d issues in %d files (critical %d, high %d, medium %d, low %d).\n",
		color.RedString("✘"), len(report.Issues), report.Files,
		counts[model.RiskCritical], counts[model.RiskHigh], counts[model.RiskMedium], counts[model.RiskLow])
	if report.Blocking() {
		fmt.Fprintln(r.out, color.New(color.FgRed, color.Bold).Sprint("Blocking findings present."))
	}
	return nil
}

// Verdict prints the result of validating a single statement.
func (r *ConsoleReporter) Verdict(sql string, res *model.ValidationResult, blocked bool) {
	status := color.GreenString("PASS")
	if !res.Passed {
		status = color.YellowString("FAIL")
	}
	if blocked {
		status = color.New(color.FgRed, color.Bold).Sprint("BLOCK")
	}
	fmt.Fprintf(r.out, "%s [%s] %s\n", status, levelColor(res.RiskLevel).Sprint(res.RiskLevel), truncate(sql, 120))
	for _, v := range res.Violations {
		fmt.Fprintf(r.out, "\t- [%s] %s: %s\n", levelColor(v.RiskLevel).Sprint(v.RiskLevel), v.Checker, v.Message)
	}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
