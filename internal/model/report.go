package model

import (
	"sort"
	"time"
)

// Report aggregates the findings of one scan run.
type Report struct {
	ID         string        `json:"id"`
	Source     string        `json:"source"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Files      int           `json:"files"`
	Statements int           `json:"statements"`
	Variants   int           `json:"variants"`
	Issues     []Issue       `json:"issues"`
}

// Blocking reports whether any issue carries the BLOCK strategy.
func (r *Report) Blocking() bool {
	for _, is := range r.Issues {
		if is.Strategy == StrategyBlock {
			return true
		}
	}
	return false
}

// CountByLevel returns the number of issues per risk level.
func (r *Report) CountByLevel() map[RiskLevel]int {
	counts := make(map[RiskLevel]int)
	for _, is := range r.Issues {
		counts[is.Level]++
	}
	return counts
}

// Sort orders issues by file, line, descending level and type so output is stable
// regardless of worker scheduling.
func (r *Report) Sort() {
	sort.SliceStable(r.Issues, func(i, j int) bool {
		a, b := r.Issues[i], r.Issues[j]
		if a.Segment.Location.FilePath != b.Segment.Location.FilePath {
			return a.Segment.Location.FilePath < b.Segment.Location.FilePath
		}
		if a.Segment.Location.Line != b.Segment.Location.Line {
			return a.Segment.Location.Line < b.Segment.Location.Line
		}
		if a.Segment.StatementID != b.Segment.StatementID {
			return a.Segment.StatementID < b.Segment.StatementID
		}
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.SQL < b.SQL
	})
}
