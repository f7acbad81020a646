package model

import (
	"github.com/pingcap/tidb/parser/ast"
)

// Extractor is responsible for parsing a file and finding SQL segments
type Extractor interface {
	// Extract parses the given file content and returns found SQL segments
	Extract(filePath string, content []byte) ([]SQLSegment, error)
}

// Checker represents a single validation rule.
// Implementations are immutable after construction and safe for concurrent use.
type Checker interface {
	// Name returns the unique identifier of the checker
	Name() string
	// Check examines the parsed statement together with its context.
	// A returned error is a checker failure, not a SQL violation.
	Check(node ast.StmtNode, ctx *SQLContext) ([]ViolationInfo, error)
}

// Reporter defines how to output results
type Reporter interface {
	Report(report *Report) error
}
