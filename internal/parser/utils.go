package parser

import (
	"strings"

	"github.com/pingcap/tidb/parser/ast"
)

// ExtractTableNames extracts all table names mentioned in a SQL statement,
// including those referenced from sub-selects. Names are returned in
// first-seen order, schema-qualified when the statement qualifies them.
func ExtractTableNames(node ast.Node) []string {
	if node == nil {
		return nil
	}
	v := &tableVisitor{seen: make(map[string]bool)}
	node.Accept(v)
	return v.tables
}

type tableVisitor struct {
	tables []string
	seen   map[string]bool
}

func (v *tableVisitor) Enter(in ast.Node) (ast.Node, bool) {
	if tn, ok := in.(*ast.TableName); ok {
		name := tn.Name.O
		if tn.Schema.O != "" {
			name = tn.Schema.O + "." + name
		}
		key := strings.ToLower(name)
		if !v.seen[key] {
			v.seen[key] = true
			v.tables = append(v.tables, name)
		}
	}
	return in, false
}

func (v *tableVisitor) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

// PrimaryTable returns the first table of a single-table SELECT/UPDATE/DELETE.
func PrimaryTable(node ast.StmtNode) string {
	var refs *ast.TableRefsClause
	switch stmt := node.(type) {
	case *ast.SelectStmt:
		refs = stmt.From
	case *ast.UpdateStmt:
		refs = stmt.TableRefs
	case *ast.DeleteStmt:
		refs = stmt.TableRefs
	}
	if refs == nil || refs.TableRefs == nil {
		return ""
	}
	if ts, ok := refs.TableRefs.Left.(*ast.TableSource); ok {
		if tn, ok := ts.Source.(*ast.TableName); ok {
			return tn.Name.O
		}
	}
	return ""
}

// WhereOf returns the WHERE expression of a statement, if any.
func WhereOf(node ast.StmtNode) ast.ExprNode {
	switch stmt := node.(type) {
	case *ast.SelectStmt:
		return stmt.Where
	case *ast.UpdateStmt:
		return stmt.Where
	case *ast.DeleteStmt:
		return stmt.Where
	}
	return nil
}
