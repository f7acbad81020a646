package auditor

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/opcode"

	"sql-guard/internal/model"
	"sql-guard/internal/parser"
)

// NoWhereRule detects UPDATE/DELETE without WHERE
type NoWhereRule struct{}

func newNoWhereRule(Options, *model.SchemaCtx) (model.Checker, error) { return &NoWhereRule{}, nil }

func (r *NoWhereRule) Name() string { return "no_where_clause" }

func (r *NoWhereRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo

	switch stmt := node.(type) {
	case *ast.UpdateStmt:
		if stmt.Where == nil {
			violations = append(violations, model.ViolationInfo{
				RiskLevel:  model.RiskCritical,
				Message:    "UPDATE statement executed without WHERE clause (Full Table Update)",
				Suggestion: "Add a WHERE clause to limit the scope of the update.",
			})
		}
	case *ast.DeleteStmt:
		if stmt.Where == nil {
			violations = append(violations, model.ViolationInfo{
				RiskLevel:  model.RiskCritical,
				Message:    "DELETE statement executed without WHERE clause (Full Table Delete)",
				Suggestion: "Add a WHERE clause to limit the scope of the delete.",
			})
		}
	}

	return violations, nil
}

// SelectStarRule detects SELECT *
type SelectStarRule struct{}

func newSelectStarRule(Options, *model.SchemaCtx) (model.Checker, error) { return &SelectStarRule{}, nil }

func (r *SelectStarRule) Name() string { return "select_star" }

func (r *SelectStarRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo

	Walk(node, func(n ast.Node) bool {
		stmt, ok := n.(*ast.SelectStmt)
		if !ok || stmt.Fields == nil {
			return true
		}
		for _, field := range stmt.Fields.Fields {
			if field.WildCard != nil {
				msg := "Avoid using SELECT * in production"
				if field.WildCard.Table.O != "" {
					msg = fmt.Sprintf("Avoid using SELECT %s.* in production", field.WildCard.Table.O)
				}
				violations = append(violations, model.ViolationInfo{
					RiskLevel:  model.RiskLow,
					Message:    msg,
					Suggestion: "List valid columns explicitly to reduce I/O and forward compatibility issues.",
				})
			}
		}
		return true
	})

	return violations, nil
}

// DummyConditionRule detects conditions that hold for every row: 1=1,
// 'a'='a', col=col, a bare TRUE, or OR-ing with a constant true.
type DummyConditionRule struct{}

func newDummyConditionRule(Options, *model.SchemaCtx) (model.Checker, error) {
	return &DummyConditionRule{}, nil
}

func (r *DummyConditionRule) Name() string { return "dummy_condition" }

func (r *DummyConditionRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo
	report := func(expr ast.Node, why string) {
		text, err := parser.Restore(expr)
		if err != nil {
			text = why
		}
		violations = append(violations, model.ViolationInfo{
			RiskLevel:  model.RiskHigh,
			Message:    fmt.Sprintf("Always-true condition (%s): %s", why, text),
			Suggestion: "Remove the dummy condition; build the WHERE clause with a <where> wrapper instead.",
		})
	}

	for _, root := range conditionRoots(node) {
		if truthyConstant(root) {
			report(root, "constant condition")
			continue
		}
		Walk(root, func(n ast.Node) bool {
			switch e := n.(type) {
			case *ast.BinaryOperationExpr:
				switch e.Op {
				case opcode.EQ, opcode.NullEQ:
					if sameOperand(e.L, e.R) {
						report(e, "identical operands")
						return false
					}
				case opcode.LogicOr:
					if truthyConstant(e.L) || truthyConstant(e.R) {
						report(e, "OR with constant true")
						return false
					}
				}
			case *ast.SubqueryExpr:
				// sub-selects are their own condition roots
				return false
			}
			return true
		})
	}
	return violations, nil
}

// DeniedTableRule flags access to denylisted tables. A trailing "*" matches
// by prefix, so "mysql.*" covers every table of that schema.
type DeniedTableRule struct {
	exact    map[string]bool
	prefixes []string
}

var defaultDeniedTables = []string{"mysql.*", "information_schema.*", "performance_schema.*", "sys.*"}

func newDeniedTableRule(opts Options, _ *model.SchemaCtx) (model.Checker, error) {
	tables, err := opts.Strings("tables", defaultDeniedTables)
	if err != nil {
		return nil, err
	}
	r := &DeniedTableRule{exact: make(map[string]bool)}
	for _, t := range tables {
		t = strings.ToLower(strings.TrimSpace(t))
		if strings.HasSuffix(t, "*") {
			r.prefixes = append(r.prefixes, strings.TrimSuffix(t, "*"))
		} else if t != "" {
			r.exact[t] = true
		}
	}
	return r, nil
}

func (r *DeniedTableRule) Name() string { return "denied_table" }

func (r *DeniedTableRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo
	for _, table := range parser.ExtractTableNames(node) {
		if r.denied(strings.ToLower(table)) {
			violations = append(violations, model.ViolationInfo{
				RiskLevel:  model.RiskHigh,
				Message:    fmt.Sprintf("Access to denied table '%s'", table),
				Suggestion: "Application statements must not touch system or restricted tables.",
			})
		}
	}
	return violations, nil
}

func (r *DeniedTableRule) denied(table string) bool {
	short := table
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		short = table[i+1:]
	}
	if r.exact[table] || r.exact[short] {
		return true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(table, p) || (!strings.Contains(p, ".") && strings.HasPrefix(short, p)) {
			return true
		}
	}
	return false
}
