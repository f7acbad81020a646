package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pingcap/tidb/parser/ast"
)

// Location represents the physical location of a code segment
type Location struct {
	FilePath string `json:"file"`
	Line     int    `json:"line"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.FilePath, l.Line)
}

// SQLSegment represents an extracted SQL statement or template from source code.
// Template holds the raw directive markup when the segment came from a mapper file;
// SQL is empty in that case until a variant is rendered.
type SQLSegment struct {
	SQL         string      `json:"sql,omitempty"`
	Template    string      `json:"template,omitempty"`
	StatementID string      `json:"statement_id,omitempty"`
	CommandType CommandType `json:"command_type"`
	Location    Location    `json:"location"`
	Language    string      `json:"language"` // e.g., "go", "python", "cpp", "xml"
	// Fragments are the <sql id> bodies visible to Template's <include> elements.
	Fragments map[string]string `json:"-"`
}

// IsTemplate reports whether the segment carries directive markup.
func (s SQLSegment) IsTemplate() bool { return s.Template != "" }

// RiskLevel is a totally ordered severity. The zero value is Safe.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = [...]string{"SAFE", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (r RiskLevel) String() string {
	if r < RiskSafe || r > RiskCritical {
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
	return riskNames[r]
}

// ParseRiskLevel parses a case-insensitive level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for i, name := range riskNames {
		if strings.EqualFold(s, name) {
			return RiskLevel(i), nil
		}
	}
	return RiskSafe, fmt.Errorf("unknown risk level %q", s)
}

// Max returns the higher of the two levels.
func (r RiskLevel) Max(o RiskLevel) RiskLevel {
	if o > r {
		return o
	}
	return r
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	lvl, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = lvl
	return nil
}

// CommandType is the kind of statement being validated.
type CommandType string

const (
	CommandSelect  CommandType = "SELECT"
	CommandInsert  CommandType = "INSERT"
	CommandUpdate  CommandType = "UPDATE"
	CommandDelete  CommandType = "DELETE"
	CommandUnknown CommandType = "UNKNOWN"
)

// ParseCommandType maps a statement keyword or mapper element name to a CommandType.
func ParseCommandType(s string) CommandType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SELECT":
		return CommandSelect
	case "INSERT":
		return CommandInsert
	case "UPDATE":
		return CommandUpdate
	case "DELETE":
		return CommandDelete
	default:
		return CommandUnknown
	}
}

// ExecutionLayer tags where a SQLContext was produced.
type ExecutionLayer string

const (
	LayerScan    ExecutionLayer = "SCAN"
	LayerRuntime ExecutionLayer = "RUNTIME"
)

// ViolationStrategy is the enforcement action bound to a checker.
type ViolationStrategy string

const (
	StrategyBlock ViolationStrategy = "BLOCK"
	StrategyWarn  ViolationStrategy = "WARN"
	StrategyLog   ViolationStrategy = "LOG"
)

// ParseStrategy parses a case-insensitive strategy name.
func ParseStrategy(s string) (ViolationStrategy, error) {
	switch ViolationStrategy(strings.ToUpper(strings.TrimSpace(s))) {
	case StrategyBlock:
		return StrategyBlock, nil
	case StrategyWarn:
		return StrategyWarn, nil
	case StrategyLog:
		return StrategyLog, nil
	}
	return "", fmt.Errorf("unknown violation strategy %q", s)
}

// PagingKind describes how a caller carries pagination outside the SQL text.
type PagingKind string

const (
	PagingNone           PagingKind = ""
	PagingRowBounds      PagingKind = "row_bounds"
	PagingPageDescriptor PagingKind = "page_descriptor"
)

// SQLContext is everything a checker may look at for one statement.
// SQL and CommandType are mandatory.
type SQLContext struct {
	SQL            string            `json:"sql"`
	AST            ast.StmtNode      `json:"-"`
	CommandType    CommandType       `json:"command_type"`
	ExecutionLayer ExecutionLayer    `json:"execution_layer,omitempty"`
	StatementID    string            `json:"statement_id,omitempty"`
	Params         map[string]any    `json:"params,omitempty"`
	Datasource     string            `json:"datasource,omitempty"`
	PagingHint     PagingKind        `json:"paging_hint,omitempty"`
	Structure      *StructuralIssues `json:"structure,omitempty"`
}

// Validate reports a missing mandatory field.
func (c *SQLContext) Validate() error {
	if c == nil {
		return ErrNilContext
	}
	if strings.TrimSpace(c.SQL) == "" {
		return ErrEmptySQL
	}
	if c.CommandType == "" {
		return ErrMissingCommandType
	}
	return nil
}

// ViolationInfo is a single finding produced by a checker.
type ViolationInfo struct {
	Checker    string    `json:"checker"`
	RiskLevel  RiskLevel `json:"risk_level"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// ValidationResult is the verdict for one statement.
type ValidationResult struct {
	Passed     bool            `json:"passed"`
	Violations []ViolationInfo `json:"violations"`
	RiskLevel  RiskLevel       `json:"risk_level"`
	Details    map[string]any  `json:"details,omitempty"`
}

// NewValidationResult returns a passing result with no violations.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Passed: true, Details: make(map[string]any)}
}

// Add appends a violation and keeps Passed and RiskLevel consistent.
func (r *ValidationResult) Add(v ViolationInfo) {
	r.Violations = append(r.Violations, v)
	r.Passed = false
	r.RiskLevel = r.RiskLevel.Max(v.RiskLevel)
}

// IsPassed reports whether no violation was collected.
func (r *ValidationResult) IsPassed() bool {
	return len(r.Violations) == 0
}

// TriggeredCheckers lists checker names with at least one violation, in first-seen order.
func (r *ValidationResult) TriggeredCheckers() []string {
	seen := make(map[string]bool)
	var names []string
	for _, v := range r.Violations {
		if !seen[v.Checker] {
			seen[v.Checker] = true
			names = append(names, v.Checker)
		}
	}
	return names
}

// Issue represents a finding tied to a source location, as collected by a scan.
type Issue struct {
	Type       string            `json:"type"` // checker name, MALFORMED_SQL, MALFORMED_TEMPLATE ...
	Level      RiskLevel         `json:"level"`
	Strategy   ViolationStrategy `json:"strategy,omitempty"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	SQL        string            `json:"sql,omitempty"`
	Segment    SQLSegment        `json:"segment"`
}

// SchemaCtx represents the loaded database schema context
type SchemaCtx struct {
	Tables map[string]*Table
}

type Table struct {
	Name    string
	Columns map[string]*Column
	Indexes []*Index
}

type Column struct {
	Name string
	Type string // Simplified type representation
}

type Index struct {
	Name    string
	Columns []string // Ordered list of column names in the index
	Unique  bool
}
