package auditor

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/opcode"
	"github.com/pingcap/tidb/parser/test_driver"

	"sql-guard/internal/model"
)

// DeepPaginationRule detects LIMIT offset, count where offset is large
type DeepPaginationRule struct {
	Threshold int64
}

func newDeepPaginationRule(opts Options, _ *model.SchemaCtx) (model.Checker, error) {
	n, err := opts.Int("max_offset", 10000)
	if err != nil {
		return nil, err
	}
	return &DeepPaginationRule{Threshold: n}, nil
}

func (r *DeepPaginationRule) Name() string { return "deep_pagination" }

func (r *DeepPaginationRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo
	Walk(node, func(n ast.Node) bool {
		limit, ok := n.(*ast.Limit)
		if !ok || limit.Offset == nil {
			return true
		}
		if offset, ok := intValue(limit.Offset); ok && offset > r.Threshold {
			violations = append(violations, model.ViolationInfo{
				RiskLevel:  model.RiskMedium,
				Message:    fmt.Sprintf("Deep pagination detected (offset %d exceeds %d)", offset, r.Threshold),
				Suggestion: "Use keyset pagination (WHERE id > last_id) instead of OFFSET.",
			})
		}
		return true
	})
	return violations, nil
}

// LargePageSizeRule detects LIMIT row counts above a threshold.
type LargePageSizeRule struct {
	Threshold int64
}

func newLargePageSizeRule(opts Options, _ *model.SchemaCtx) (model.Checker, error) {
	n, err := opts.Int("max_page_size", 1000)
	if err != nil {
		return nil, err
	}
	return &LargePageSizeRule{Threshold: n}, nil
}

func (r *LargePageSizeRule) Name() string { return "large_page_size" }

func (r *LargePageSizeRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo
	Walk(node, func(n ast.Node) bool {
		limit, ok := n.(*ast.Limit)
		if !ok || limit.Count == nil {
			return true
		}
		if count, ok := intValue(limit.Count); ok && count > r.Threshold {
			violations = append(violations, model.ViolationInfo{
				RiskLevel:  model.RiskMedium,
				Message:    fmt.Sprintf("Page size %d exceeds %d rows", count, r.Threshold),
				Suggestion: "Fetch smaller pages.",
			})
		}
		return true
	})
	return violations, nil
}

// NoPaginationRule detects SELECTs that can return the whole table: no
// LIMIT, no paging carried by the caller, and no WHERE (or any SELECT when
// enforce_for_all_queries is set).
type NoPaginationRule struct {
	enforceAll bool
}

func newNoPaginationRule(opts Options, _ *model.SchemaCtx) (model.Checker, error) {
	all, err := opts.Bool("enforce_for_all_queries", false)
	if err != nil {
		return nil, err
	}
	return &NoPaginationRule{enforceAll: all}, nil
}

func (r *NoPaginationRule) Name() string { return "no_pagination" }

func (r *NoPaginationRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	stmt, ok := node.(*ast.SelectStmt)
	if !ok || stmt.From == nil || stmt.Limit != nil {
		return nil, nil
	}
	if ctx.PagingHint != model.PagingNone {
		return nil, nil
	}
	if ctx.Structure != nil && !ctx.Structure.MissingPagination {
		// the template pages some of its renderings
		return nil, nil
	}
	if stmt.Where != nil && !r.enforceAll {
		return nil, nil
	}
	if aggregateOnly(stmt) {
		return nil, nil
	}
	msg := "SELECT without WHERE or LIMIT reads the whole table"
	if stmt.Where != nil {
		msg = "SELECT without LIMIT or paging parameter"
	}
	return []model.ViolationInfo{{
		RiskLevel:  model.RiskMedium,
		Message:    msg,
		Suggestion: "Add a LIMIT or a paging parameter.",
	}}, nil
}

// aggregateOnly reports a SELECT that returns one row: only aggregates, no GROUP BY.
func aggregateOnly(stmt *ast.SelectStmt) bool {
	if stmt.GroupBy != nil || stmt.Fields == nil || len(stmt.Fields.Fields) == 0 {
		return false
	}
	for _, f := range stmt.Fields.Fields {
		if _, ok := f.Expr.(*ast.AggregateFuncExpr); !ok {
			return false
		}
	}
	return true
}

// MissingOrderByRule detects LIMIT without ORDER BY, which pages nondeterministically.
type MissingOrderByRule struct{}

func newMissingOrderByRule(Options, *model.SchemaCtx) (model.Checker, error) {
	return &MissingOrderByRule{}, nil
}

func (r *MissingOrderByRule) Name() string { return "missing_order_by" }

func (r *MissingOrderByRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo
	Walk(node, func(n ast.Node) bool {
		var limit *ast.Limit
		var order *ast.OrderByClause
		switch s := n.(type) {
		case *ast.SelectStmt:
			limit, order = s.Limit, s.OrderBy
		case *ast.SetOprStmt:
			limit, order = s.Limit, s.OrderBy
		default:
			return true
		}
		if limit != nil && order == nil {
			violations = append(violations, model.ViolationInfo{
				RiskLevel:  model.RiskLow,
				Message:    "LIMIT without ORDER BY returns an arbitrary page",
				Suggestion: "Add an ORDER BY on a unique key.",
			})
		}
		return true
	})
	return violations, nil
}

// NegativeQueryRule detects !=, NOT IN, LIKE '%...'
type NegativeQueryRule struct{}

func newNegativeQueryRule(Options, *model.SchemaCtx) (model.Checker, error) {
	return &NegativeQueryRule{}, nil
}

func (r *NegativeQueryRule) Name() string { return "negative_query" }

func (r *NegativeQueryRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo

	Walk(node, func(in ast.Node) bool {
		switch e := in.(type) {
		case *ast.PatternInExpr:
			if e.Not {
				violations = append(violations, model.ViolationInfo{
					RiskLevel:  model.RiskLow,
					Message:    "Avoid using NOT IN",
					Suggestion: "Use NOT EXISTS or LEFT JOIN ... IS NULL which are often better optimized.",
				})
			}
		case *ast.BinaryOperationExpr:
			if e.Op == opcode.NE {
				violations = append(violations, model.ViolationInfo{
					RiskLevel:  model.RiskLow,
					Message:    "Avoid using != (Not Equal)",
					Suggestion: "Negative comparison often prevents index usage.",
				})
			}
		case *ast.PatternLikeOrIlikeExpr:
			if v, ok := e.Pattern.(*test_driver.ValueExpr); ok && strings.HasPrefix(v.GetString(), "%") {
				violations = append(violations, model.ViolationInfo{
					RiskLevel:  model.RiskLow,
					Message:    "LIKE query with leading wildcard",
					Suggestion: "Leading wildcards confuse the optimizer and prevent index usage (Full Table Scan).",
				})
			}
		}
		return true
	})

	return violations, nil
}
