package auditor

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/test_driver"

	"sql-guard/internal/model"
	"sql-guard/internal/parser"
)

// ImplicitConversionRule detects type mismatches between columns and values
type ImplicitConversionRule struct {
	schema *model.SchemaCtx
}

func newImplicitConversionRule(_ Options, schema *model.SchemaCtx) (model.Checker, error) {
	return &ImplicitConversionRule{schema: schema}, nil
}

func (r *ImplicitConversionRule) Name() string { return "implicit_conversion" }

func (r *ImplicitConversionRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	if r.schema == nil {
		return nil, nil
	}
	tableName := parser.PrimaryTable(node)
	if tableName == "" {
		return nil, nil
	}
	table, ok := r.schema.Tables[tableName]
	if !ok {
		return nil, nil
	}

	var violations []model.ViolationInfo
	Walk(node, func(in ast.Node) bool {
		binOp, ok := in.(*ast.BinaryOperationExpr)
		if !ok {
			return true
		}
		// Col = Value or Value = Col
		if col, ok := binOp.L.(*ast.ColumnNameExpr); ok {
			if val, ok := binOp.R.(*test_driver.ValueExpr); ok {
				violations = append(violations, r.mismatch(table, col.Name.Name.O, val)...)
			}
		} else if col, ok := binOp.R.(*ast.ColumnNameExpr); ok {
			if val, ok := binOp.L.(*test_driver.ValueExpr); ok {
				violations = append(violations, r.mismatch(table, col.Name.Name.O, val)...)
			}
		}
		return true
	})
	return violations, nil
}

func (r *ImplicitConversionRule) mismatch(table *model.Table, colName string, valExpr *test_driver.ValueExpr) []model.ViolationInfo {
	colDef, ok := table.Columns[colName]
	if !ok {
		return nil
	}

	colType := strings.ToUpper(colDef.Type)
	isStringCol := strings.Contains(colType, "CHAR") || strings.Contains(colType, "TEXT")
	if !isStringCol {
		return nil
	}

	switch valExpr.GetValue().(type) {
	case int, int64, uint64, float64:
		return []model.ViolationInfo{{
			RiskLevel:  model.RiskMedium,
			Message:    fmt.Sprintf("Implicit conversion detected: string column '%s' compared with a number.", colName),
			Suggestion: "Quote the number to avoid implicit conversion and index invalidation (e.g., '123' instead of 123).",
		}}
	}
	return nil
}
