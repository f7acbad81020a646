package auditor

import (
	"fmt"
	"sort"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/test_driver"

	"sql-guard/internal/model"
)

var defaultDangerousFunctions = []string{
	"sleep", "benchmark", "load_file", "sys_exec", "sys_eval",
	"get_lock", "release_lock", "is_free_lock", "is_used_lock", "release_all_locks",
	"pg_sleep", "pg_read_file", "pg_ls_dir", "xp_cmdshell", "user_lock",
}

// DangerousFunctionRule detects denylisted function calls anywhere in the
// statement: select list, conditions, sub-selects, function arguments.
type DangerousFunctionRule struct {
	denied map[string]bool
}

func newDangerousFunctionRule(opts Options, _ *model.SchemaCtx) (model.Checker, error) {
	fns, err := opts.Strings("functions", defaultDangerousFunctions)
	if err != nil {
		return nil, err
	}
	return &DangerousFunctionRule{denied: lowerSet(fns)}, nil
}

func (r *DangerousFunctionRule) Name() string { return "dangerous_function" }

func (r *DangerousFunctionRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo
	Walk(node, func(n ast.Node) bool {
		fn, ok := n.(*ast.FuncCallExpr)
		if !ok {
			return true
		}
		if name := fn.FnName.L; r.denied[name] {
			violations = append(violations, model.ViolationInfo{
				RiskLevel:  model.RiskCritical,
				Message:    fmt.Sprintf("Dangerous function '%s' used", name),
				Suggestion: "Remove the call; it can read files, stall the server or hold locks.",
			})
		}
		return true
	})
	return violations, nil
}

// SQLCommentRule detects comment markers outside string literals. Comments
// in application SQL are a classic way to truncate a statement.
type SQLCommentRule struct {
	allowHints bool
}

func newSQLCommentRule(opts Options, _ *model.SchemaCtx) (model.Checker, error) {
	allow, err := opts.Bool("allow_hints", true)
	if err != nil {
		return nil, err
	}
	return &SQLCommentRule{allowHints: allow}, nil
}

func (r *SQLCommentRule) Name() string { return "sql_comment" }

func (r *SQLCommentRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo
	for _, tok := range scanOutsideLiterals(ctx.SQL) {
		var kind string
		switch tok.kind {
		case tokLineComment:
			kind = "'--' line comment"
		case tokHashComment:
			kind = "'#' line comment"
		case tokBlockComment:
			kind = "'/* */' block comment"
		case tokVersionComment:
			kind = "MySQL '/*! */' executable comment"
		case tokHintComment:
			if r.allowHints {
				continue
			}
			kind = "'/*+ */' optimizer hint"
		default:
			continue
		}
		violations = append(violations, model.ViolationInfo{
			RiskLevel:  model.RiskCritical,
			Message:    fmt.Sprintf("SQL contains a %s at offset %d", kind, tok.pos),
			Suggestion: "Strip comments from application SQL; they are a common way to truncate injected statements.",
		})
	}
	return violations, nil
}

// MultiStatementRule detects stacked statements. One trailing ';' is allowed.
type MultiStatementRule struct{}

func newMultiStatementRule(Options, *model.SchemaCtx) (model.Checker, error) {
	return &MultiStatementRule{}, nil
}

func (r *MultiStatementRule) Name() string { return "multi_statement" }

func (r *MultiStatementRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	sql := strings.TrimRight(ctx.SQL, " \t\r\n")
	sql = strings.TrimSuffix(sql, ";")
	for _, tok := range scanOutsideLiterals(sql) {
		if tok.kind == tokSemicolon {
			return []model.ViolationInfo{{
				RiskLevel:  model.RiskCritical,
				Message:    fmt.Sprintf("Multiple statements detected (separator at offset %d)", tok.pos),
				Suggestion: "Execute exactly one statement per call.",
			}}, nil
		}
	}
	return nil, nil
}

// IntoOutfileRule detects statements that read or write server-side files.
type IntoOutfileRule struct{}

func newIntoOutfileRule(Options, *model.SchemaCtx) (model.Checker, error) {
	return &IntoOutfileRule{}, nil
}

func (r *IntoOutfileRule) Name() string { return "into_outfile" }

func (r *IntoOutfileRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo
	Walk(node, func(n ast.Node) bool {
		switch s := n.(type) {
		case *ast.SelectStmt:
			if s.SelectIntoOpt != nil && s.SelectIntoOpt.FileName != "" {
				violations = append(violations, model.ViolationInfo{
					RiskLevel:  model.RiskCritical,
					Message:    fmt.Sprintf("SELECT ... INTO OUTFILE '%s' writes to the server filesystem", s.SelectIntoOpt.FileName),
					Suggestion: "Export data through the application, never through the database server's filesystem.",
				})
			}
		case *ast.LoadDataStmt:
			violations = append(violations, model.ViolationInfo{
				RiskLevel:  model.RiskCritical,
				Message:    "LOAD DATA reads from the server or client filesystem",
				Suggestion: "Import data through the application.",
			})
		}
		return true
	})
	return violations, nil
}

// DDLOperationRule detects schema changes. Operations listed in "allowed"
// (create, alter, drop, truncate, rename) are let through.
type DDLOperationRule struct {
	allowed map[string]bool
}

func newDDLOperationRule(opts Options, _ *model.SchemaCtx) (model.Checker, error) {
	allowed, err := opts.Strings("allowed", nil)
	if err != nil {
		return nil, err
	}
	return &DDLOperationRule{allowed: lowerSet(allowed)}, nil
}

func (r *DDLOperationRule) Name() string { return "ddl_operation" }

func (r *DDLOperationRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	if _, ok := node.(ast.DDLNode); !ok {
		return nil, nil
	}
	op := ddlOperation(node)
	if r.allowed[op] {
		return nil, nil
	}
	return []model.ViolationInfo{{
		RiskLevel:  model.RiskCritical,
		Message:    fmt.Sprintf("DDL operation %s is not allowed at runtime", strings.ToUpper(op)),
		Suggestion: "Run schema changes through migrations, not application statements.",
	}}, nil
}

func ddlOperation(node ast.StmtNode) string {
	switch node.(type) {
	case *ast.CreateTableStmt, *ast.CreateIndexStmt, *ast.CreateDatabaseStmt, *ast.CreateViewStmt:
		return "create"
	case *ast.AlterTableStmt, *ast.AlterDatabaseStmt:
		return "alter"
	case *ast.DropTableStmt, *ast.DropIndexStmt, *ast.DropDatabaseStmt:
		return "drop"
	case *ast.TruncateTableStmt:
		return "truncate"
	case *ast.RenameTableStmt:
		return "rename"
	default:
		return "ddl"
	}
}

// SetOperationRule detects UNION/INTERSECT/EXCEPT. Entries of "allowed" use
// snake case: union, union_all, intersect, except.
type SetOperationRule struct {
	allowed map[string]bool
}

func newSetOperationRule(opts Options, _ *model.SchemaCtx) (model.Checker, error) {
	allowed, err := opts.Strings("allowed", nil)
	if err != nil {
		return nil, err
	}
	return &SetOperationRule{allowed: lowerSet(allowed)}, nil
}

func (r *SetOperationRule) Name() string { return "set_operation" }

func (r *SetOperationRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo
	Walk(node, func(n ast.Node) bool {
		var op *ast.SetOprType
		switch s := n.(type) {
		case *ast.SelectStmt:
			op = s.AfterSetOperator
		case *ast.SetOprSelectList:
			op = s.AfterSetOperator
		}
		if op == nil {
			return true
		}
		name := op.String()
		key := strings.ToLower(strings.ReplaceAll(name, " ", "_"))
		if !r.allowed[key] {
			violations = append(violations, model.ViolationInfo{
				RiskLevel:  model.RiskHigh,
				Message:    fmt.Sprintf("Set operation %s combines result sets", name),
				Suggestion: "UNION-style statements are a common injection vector; split the query or allow the operator explicitly.",
			})
		}
		return true
	})
	return violations, nil
}

// SQLInjectionRule runs libinjection over bound parameter values and,
// optionally, over string literals of the statement.
type SQLInjectionRule struct {
	scanLiterals bool
}

func newSQLInjectionRule(opts Options, _ *model.SchemaCtx) (model.Checker, error) {
	scan, err := opts.Bool("scan_literals", false)
	if err != nil {
		return nil, err
	}
	return &SQLInjectionRule{scanLiterals: scan}, nil
}

func (r *SQLInjectionRule) Name() string { return "sql_injection" }

func (r *SQLInjectionRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	var violations []model.ViolationInfo
	check := func(where, value string) {
		if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
			violations = append(violations, model.ViolationInfo{
				RiskLevel:  model.RiskCritical,
				Message:    fmt.Sprintf("SQL injection pattern in %s (fingerprint %s)", where, string(fingerprint)),
				Suggestion: "Bind the value with #{} and validate it before it reaches the database.",
			})
		}
	}

	names := make([]string, 0, len(ctx.Params))
	for name := range ctx.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, s := range stringValues(ctx.Params[name], 0) {
			check(fmt.Sprintf("parameter '%s'", name), s)
		}
	}

	if r.scanLiterals {
		Walk(node, func(n ast.Node) bool {
			if v, ok := n.(*test_driver.ValueExpr); ok {
				if s, ok := v.GetValue().(string); ok {
					check("string literal", s)
				}
			}
			return true
		})
	}
	return violations, nil
}

// stringValues flattens the strings held by a parameter value.
func stringValues(v any, depth int) []string {
	if depth > 4 {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, stringValues(item, depth+1)...)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			out = append(out, stringValues(t[k], depth+1)...)
		}
		return out
	}
	return nil
}
