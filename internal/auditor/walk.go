package auditor

import (
	"math"
	"strings"

	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/test_driver"

	"sql-guard/internal/parser"
)

// Walk visits every node reachable from root in pre-order, each node at most
// once. Returning false from fn skips the children of that node. Visited
// identities are tracked per call, so a shared or cyclic subtree cannot make
// the walk loop or report the same node twice.
func Walk(root ast.Node, fn func(ast.Node) bool) {
	if root == nil {
		return
	}
	root.Accept(&walker{visited: make(map[ast.Node]struct{}), fn: fn})
}

type walker struct {
	visited map[ast.Node]struct{}
	fn      func(ast.Node) bool
}

func (w *walker) Enter(in ast.Node) (ast.Node, bool) {
	if _, ok := w.visited[in]; ok {
		return in, true
	}
	w.visited[in] = struct{}{}
	return in, !w.fn(in)
}

func (w *walker) Leave(in ast.Node) (ast.Node, bool) {
	return in, true
}

// conditionRoots returns the WHERE, HAVING and join ON expressions of every
// query block under root, sub-selects included.
func conditionRoots(root ast.Node) []ast.ExprNode {
	var roots []ast.ExprNode
	Walk(root, func(n ast.Node) bool {
		switch s := n.(type) {
		case *ast.SelectStmt:
			if s.Where != nil {
				roots = append(roots, s.Where)
			}
			if s.Having != nil && s.Having.Expr != nil {
				roots = append(roots, s.Having.Expr)
			}
		case *ast.UpdateStmt:
			if s.Where != nil {
				roots = append(roots, s.Where)
			}
		case *ast.DeleteStmt:
			if s.Where != nil {
				roots = append(roots, s.Where)
			}
		case *ast.Join:
			if s.On != nil && s.On.Expr != nil {
				roots = append(roots, s.On.Expr)
			}
		}
		return true
	})
	return roots
}

// intValue extracts an integer literal, saturating at math.MaxInt64.
// Placeholders and expressions report false.
func intValue(expr ast.ExprNode) (int64, bool) {
	v, ok := expr.(*test_driver.ValueExpr)
	if !ok {
		return 0, false
	}
	switch n := v.GetValue().(type) {
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}

// truthyConstant reports a literal that is always true as a condition.
func truthyConstant(expr ast.ExprNode) bool {
	if n, ok := intValue(expr); ok {
		return n != 0
	}
	return false
}

// sameOperand reports whether both sides are the same literal or the same column.
func sameOperand(l, r ast.ExprNode) bool {
	_, lv := l.(*test_driver.ValueExpr)
	_, rv := r.(*test_driver.ValueExpr)
	_, lc := l.(*ast.ColumnNameExpr)
	_, rc := r.(*ast.ColumnNameExpr)
	if !(lv && rv) && !(lc && rc) {
		return false
	}
	ls, err := parser.Restore(l)
	if err != nil {
		return false
	}
	rs, err := parser.Restore(r)
	if err != nil {
		return false
	}
	return strings.EqualFold(ls, rs)
}
