package auditor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pingcap/tidb/parser/ast"

	"sql-guard/internal/model"
	"sql-guard/internal/parser"
)

// IndexMissRule checks if WHERE usage aligns with available indexes
type IndexMissRule struct {
	schema *model.SchemaCtx
}

func newIndexMissRule(_ Options, schema *model.SchemaCtx) (model.Checker, error) {
	return &IndexMissRule{schema: schema}, nil
}

func (r *IndexMissRule) Name() string { return "index_miss" }

func (r *IndexMissRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	if r.schema == nil {
		return nil, nil
	}

	// Very simplified: takes the first table. JOINs are harder.
	tableName := parser.PrimaryTable(node)
	whereExpr := parser.WhereOf(node)
	if tableName == "" || whereExpr == nil {
		return nil, nil
	}

	table, ok := r.schema.Tables[tableName]
	if !ok {
		// Table not found in schema, maybe alias or missing schema
		return nil, nil
	}

	// Extract columns used in WHERE; only direct column references count,
	// a column wrapped in a function cannot use its index.
	usedCols := make(map[string]bool)
	Walk(whereExpr, func(n ast.Node) bool {
		switch e := n.(type) {
		case *ast.FuncCallExpr:
			return false
		case *ast.SubqueryExpr:
			return false
		case *ast.ColumnName:
			usedCols[strings.ToLower(e.Name.O)] = true
		}
		return true
	})

	if len(usedCols) == 0 {
		return nil, nil
	}

	if len(table.Indexes) == 0 {
		return []model.ViolationInfo{{
			RiskLevel:  model.RiskLow,
			Message:    fmt.Sprintf("Table '%s' has no indexes defined.", tableName),
			Suggestion: "Add indexes to optimize queries.",
		}}, nil
	}

	// At least ONE index must have its FIRST column present in usedCols.
	for _, idx := range table.Indexes {
		if len(idx.Columns) > 0 && usedCols[strings.ToLower(idx.Columns[0])] {
			return nil, nil
		}
	}

	var indexStr []string
	for _, idx := range table.Indexes {
		indexStr = append(indexStr, fmt.Sprintf("%s(%s)", idx.Name, strings.Join(idx.Columns, ",")))
	}
	return []model.ViolationInfo{{
		RiskLevel: model.RiskLow,
		Message: fmt.Sprintf("Query on '%s' does not hit any index prefix. WHERE uses %v but available indexes are: %s",
			tableName, mapKeys(usedCols), strings.Join(indexStr, " ")),
		Suggestion: "Ensure the WHERE clause filters on the leftmost column of an index.",
	}}, nil
}

func mapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
