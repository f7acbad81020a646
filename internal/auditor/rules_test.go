package auditor

import (
	"testing"

	"github.com/pingcap/tidb/parser/ast"

	"sql-guard/internal/model"
	"sql-guard/internal/parser"
)

type ruleCase struct {
	name       string
	sql        string
	ctx        *model.SQLContext
	wantIssues int
}

func mustChecker(t *testing.T, name string, opts Options, schema *model.SchemaCtx) model.Checker {
	t.Helper()
	d, ok := Lookup(name)
	if !ok {
		t.Fatalf("checker %s not in catalog", name)
	}
	c, err := d.New(opts, schema)
	if err != nil {
		t.Fatalf("build %s: %v", name, err)
	}
	return c
}

// runRuleCases parses every case unless parse is false; text-only checkers
// get a nil node.
func runRuleCases(t *testing.T, rule model.Checker, tests []ruleCase, parse bool) {
	t.Helper()
	p := parser.NewSQLParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stmt ast.StmtNode
			if parse {
				var err error
				stmt, err = p.Parse(tt.sql)
				if err != nil {
					t.Fatalf("Parse failed: %v", err)
				}
			}
			ctx := tt.ctx
			if ctx == nil {
				ctx = &model.SQLContext{}
			}
			ctx.SQL = tt.sql

			violations, err := rule.Check(stmt, ctx)
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if len(violations) != tt.wantIssues {
				t.Errorf("Check() got %d violations, want %d: %+v", len(violations), tt.wantIssues, violations)
			}
		})
	}
}

func TestNoWhereRule_Check(t *testing.T) {
	runRuleCases(t, &NoWhereRule{}, []ruleCase{
		{name: "UPDATE without WHERE", sql: "UPDATE users SET name = 'test'", wantIssues: 1},
		{name: "UPDATE with WHERE", sql: "UPDATE users SET name = 'test' WHERE id = 1", wantIssues: 0},
		{name: "DELETE without WHERE", sql: "DELETE FROM users", wantIssues: 1},
		{name: "DELETE with WHERE", sql: "DELETE FROM users WHERE id = 1", wantIssues: 0},
		{name: "SELECT ignored", sql: "SELECT * FROM users", wantIssues: 0},
	}, true)
}

func TestSelectStarRule_Check(t *testing.T) {
	runRuleCases(t, &SelectStarRule{}, []ruleCase{
		{name: "SELECT *", sql: "SELECT * FROM users", wantIssues: 1},
		{name: "SELECT columns", sql: "SELECT id, name FROM users", wantIssues: 0},
		{name: "SELECT * with aggregate", sql: "SELECT count(*) FROM users", wantIssues: 0},
		{name: "qualified star", sql: "SELECT u.* FROM users u", wantIssues: 1},
		{name: "star in sub-select", sql: "SELECT id FROM (SELECT * FROM users) x", wantIssues: 1},
	}, true)
}

func TestDummyConditionRule_Check(t *testing.T) {
	runRuleCases(t, &DummyConditionRule{}, []ruleCase{
		{name: "1=1", sql: "SELECT * FROM t WHERE 1=1", wantIssues: 1},
		{name: "1=1 with real condition", sql: "SELECT * FROM t WHERE 1 = 1 AND a = 2", wantIssues: 1},
		{name: "string literals", sql: "SELECT * FROM t WHERE 'a' = 'a'", wantIssues: 1},
		{name: "same column", sql: "SELECT * FROM t WHERE id = id", wantIssues: 1},
		{name: "or constant", sql: "SELECT * FROM t WHERE a = 1 OR 1", wantIssues: 1},
		{name: "bare constant", sql: "SELECT * FROM t WHERE 1", wantIssues: 1},
		{name: "inside sub-select", sql: "SELECT * FROM t WHERE id IN (SELECT id FROM u WHERE 2=2)", wantIssues: 1},
		{name: "update", sql: "UPDATE t SET a = 1 WHERE 1=1", wantIssues: 1},
		{name: "join on", sql: "SELECT * FROM a JOIN b ON a.id = a.id", wantIssues: 1},
		{name: "different columns", sql: "SELECT * FROM t WHERE a = b", wantIssues: 0},
		{name: "real condition", sql: "SELECT * FROM t WHERE a = 1", wantIssues: 0},
		{name: "select list ignored", sql: "SELECT 1 = 1 FROM t WHERE id = 3", wantIssues: 0},
	}, true)
}

func TestDangerousFunctionRule_Check(t *testing.T) {
	runRuleCases(t, mustChecker(t, "dangerous_function", nil, nil), []ruleCase{
		{name: "sleep", sql: "SELECT SLEEP(5)", wantIssues: 1},
		{name: "benchmark in where", sql: "SELECT id FROM t WHERE id = 1 AND BENCHMARK(1000000, MD5('x'))", wantIssues: 1},
		{name: "load_file", sql: "SELECT LOAD_FILE('/etc/passwd')", wantIssues: 1},
		{name: "function argument", sql: "SELECT CONCAT(name, SLEEP(1)) FROM t", wantIssues: 1},
		{name: "sub-select", sql: "SELECT id, (SELECT load_file('/x') FROM dual) FROM t", wantIssues: 1},
		{name: "harmless", sql: "SELECT UPPER(name) FROM t", wantIssues: 0},
	}, true)

	custom := mustChecker(t, "dangerous_function", Options{"functions": []any{"UPPER"}}, nil)
	runRuleCases(t, custom, []ruleCase{
		{name: "custom denylist", sql: "SELECT upper(name) FROM t", wantIssues: 1},
		{name: "default list replaced", sql: "SELECT SLEEP(1)", wantIssues: 0},
	}, true)
}

func TestSQLCommentRule_Check(t *testing.T) {
	runRuleCases(t, mustChecker(t, "sql_comment", nil, nil), []ruleCase{
		{name: "dash comment", sql: "SELECT * FROM t WHERE a = 1 -- drop", wantIssues: 1},
		{name: "hash comment", sql: "SELECT * FROM t # x", wantIssues: 1},
		{name: "block comment", sql: "SELECT * FROM t /* x */ WHERE a = 1", wantIssues: 1},
		{name: "version comment", sql: "SELECT /*!50000 1 */ FROM t", wantIssues: 1},
		{name: "hint allowed", sql: "SELECT /*+ MAX_EXECUTION_TIME(1000) */ * FROM t", wantIssues: 0},
		{name: "inside literal", sql: "SELECT * FROM t WHERE a = '--x' AND b = 'x/*y*/'", wantIssues: 0},
		{name: "inside identifier", sql: "SELECT `weird#col` FROM t", wantIssues: 0},
		{name: "doubled quote", sql: "SELECT 'it''s -- fine' FROM t", wantIssues: 0},
		{name: "backslash escape", sql: "SELECT 'a\\' -- ' FROM t", wantIssues: 0},
	}, false)

	strict := mustChecker(t, "sql_comment", Options{"allow_hints": false}, nil)
	runRuleCases(t, strict, []ruleCase{
		{name: "hint rejected", sql: "SELECT /*+ MAX_EXECUTION_TIME(1000) */ * FROM t", wantIssues: 1},
	}, false)
}

func TestMultiStatementRule_Check(t *testing.T) {
	runRuleCases(t, &MultiStatementRule{}, []ruleCase{
		{name: "single", sql: "SELECT 1", wantIssues: 0},
		{name: "trailing separator", sql: "SELECT 1 ;  \n", wantIssues: 0},
		{name: "stacked", sql: "SELECT 1; DROP TABLE t", wantIssues: 1},
		{name: "separator in literal", sql: "SELECT ';' FROM t", wantIssues: 0},
		{name: "stacked after literal", sql: "SELECT 'a'; DELETE FROM t;", wantIssues: 1},
	}, false)
}

func TestIntoOutfileRule_Check(t *testing.T) {
	runRuleCases(t, &IntoOutfileRule{}, []ruleCase{
		{name: "outfile", sql: "SELECT * FROM t INTO OUTFILE '/tmp/x'", wantIssues: 1},
		{name: "load data", sql: "LOAD DATA INFILE '/tmp/x' INTO TABLE t", wantIssues: 1},
		{name: "plain select", sql: "SELECT * FROM t", wantIssues: 0},
	}, true)
}

func TestDDLOperationRule_Check(t *testing.T) {
	runRuleCases(t, mustChecker(t, "ddl_operation", nil, nil), []ruleCase{
		{name: "drop", sql: "DROP TABLE users", wantIssues: 1},
		{name: "truncate", sql: "TRUNCATE TABLE users", wantIssues: 1},
		{name: "alter", sql: "ALTER TABLE t ADD COLUMN c INT", wantIssues: 1},
		{name: "create", sql: "CREATE TABLE t (id INT)", wantIssues: 1},
		{name: "select", sql: "SELECT 1", wantIssues: 0},
	}, true)

	allowCreate := mustChecker(t, "ddl_operation", Options{"allowed": []any{"create"}}, nil)
	runRuleCases(t, allowCreate, []ruleCase{
		{name: "create allowed", sql: "CREATE TABLE t (id INT)", wantIssues: 0},
		{name: "drop still denied", sql: "DROP TABLE t", wantIssues: 1},
	}, true)
}

func TestDeniedTableRule_Check(t *testing.T) {
	runRuleCases(t, mustChecker(t, "denied_table", nil, nil), []ruleCase{
		{name: "system schema", sql: "SELECT * FROM mysql.user", wantIssues: 1},
		{name: "information schema in sub-select", sql: "SELECT id FROM t WHERE id IN (SELECT 1 FROM information_schema.tables)", wantIssues: 1},
		{name: "application table", sql: "SELECT * FROM users", wantIssues: 0},
	}, true)

	custom := mustChecker(t, "denied_table", Options{"tables": []any{"audit_*", "secrets"}}, nil)
	runRuleCases(t, custom, []ruleCase{
		{name: "prefix", sql: "SELECT * FROM audit_log", wantIssues: 1},
		{name: "qualified exact", sql: "DELETE FROM app.secrets WHERE id = 1", wantIssues: 1},
		{name: "other", sql: "SELECT * FROM users", wantIssues: 0},
	}, true)
}

func TestSetOperationRule_Check(t *testing.T) {
	runRuleCases(t, mustChecker(t, "set_operation", nil, nil), []ruleCase{
		{name: "union", sql: "SELECT a FROM t UNION SELECT b FROM u", wantIssues: 1},
		{name: "union all", sql: "SELECT a FROM t UNION ALL SELECT b FROM u", wantIssues: 1},
		{name: "plain", sql: "SELECT a FROM t", wantIssues: 0},
	}, true)

	allowAll := mustChecker(t, "set_operation", Options{"allowed": []any{"union_all"}}, nil)
	runRuleCases(t, allowAll, []ruleCase{
		{name: "union all allowed", sql: "SELECT a FROM t UNION ALL SELECT b FROM u", wantIssues: 0},
		{name: "union still flagged", sql: "SELECT a FROM t UNION SELECT b FROM u", wantIssues: 1},
	}, true)
}

func TestSQLInjectionRule_Check(t *testing.T) {
	rule := mustChecker(t, "sql_injection", nil, nil)
	runRuleCases(t, rule, []ruleCase{
		{name: "tautology payload", sql: "SELECT * FROM users WHERE name = ?", ctx: &model.SQLContext{Params: map[string]any{"name": "' OR '1'='1"}}, wantIssues: 1},
		{name: "stacked payload in list", sql: "SELECT * FROM users WHERE name IN (?, ?)", ctx: &model.SQLContext{Params: map[string]any{"names": []any{"bob", "x' OR 1=1 --"}}}, wantIssues: 1},
		{name: "clean values", sql: "SELECT * FROM users WHERE name = ?", ctx: &model.SQLContext{Params: map[string]any{"name": "O'Brien", "q": "laptop computers", "limit": 100}}, wantIssues: 0},
		{name: "literal ignored by default", sql: "SELECT * FROM users WHERE name = ''' OR ''1''=''1'", wantIssues: 0},
	}, true)

	literals := mustChecker(t, "sql_injection", Options{"scan_literals": true}, nil)
	runRuleCases(t, literals, []ruleCase{
		{name: "literal scanned", sql: "SELECT * FROM users WHERE name = ''' OR ''1''=''1'", wantIssues: 1},
	}, true)
}

func TestDynamicTemplateRule_Check(t *testing.T) {
	rule := &DynamicTemplateRule{}
	runRuleCases(t, rule, []ruleCase{
		{name: "plain sql", sql: "DELETE FROM t WHERE id = 1", wantIssues: 0},
		{name: "where may disappear", sql: "DELETE FROM t WHERE id = 1", ctx: &model.SQLContext{CommandType: model.CommandDelete, Structure: &model.StructuralIssues{WhereMayDisappear: true}}, wantIssues: 1},
		{name: "all findings", sql: "UPDATE t SET a = 1", ctx: &model.SQLContext{CommandType: model.CommandUpdate, Structure: &model.StructuralIssues{
			WhereMayDisappear: true, AlwaysTrue: true, NoWhere: true, RawParams: []string{"sort"}, RawInOrderBy: []string{"sort"},
		}}, wantIssues: 4},
		{name: "no where on select is left to pagination", sql: "SELECT id FROM t", ctx: &model.SQLContext{CommandType: model.CommandSelect, Structure: &model.StructuralIssues{NoWhere: true}}, wantIssues: 0},
	}, true)
}

func TestDeepPaginationRule_Check(t *testing.T) {
	runRuleCases(t, &DeepPaginationRule{Threshold: 10000}, []ruleCase{
		{name: "deep", sql: "SELECT id FROM t ORDER BY id LIMIT 20000, 10", wantIssues: 1},
		{name: "offset keyword", sql: "SELECT id FROM t ORDER BY id LIMIT 10 OFFSET 50000", wantIssues: 1},
		{name: "shallow", sql: "SELECT id FROM t ORDER BY id LIMIT 100, 10", wantIssues: 0},
		{name: "placeholder", sql: "SELECT id FROM t ORDER BY id LIMIT ?, ?", wantIssues: 0},
		{name: "sub-select", sql: "SELECT * FROM (SELECT id FROM t LIMIT 99999, 1) x", wantIssues: 1},
		{name: "offset beyond int64", sql: "SELECT id FROM t ORDER BY id LIMIT 18446744073709551615, 10", wantIssues: 1},
	}, true)
}

func TestLargePageSizeRule_Check(t *testing.T) {
	runRuleCases(t, &LargePageSizeRule{Threshold: 1000}, []ruleCase{
		{name: "large", sql: "SELECT id FROM t LIMIT 5000", wantIssues: 1},
		{name: "small", sql: "SELECT id FROM t LIMIT 50", wantIssues: 0},
		{name: "no limit", sql: "SELECT id FROM t", wantIssues: 0},
		{name: "count beyond int64", sql: "SELECT id FROM t LIMIT 18446744073709551615", wantIssues: 1},
	}, true)
}

func TestNoPaginationRule_Check(t *testing.T) {
	runRuleCases(t, mustChecker(t, "no_pagination", nil, nil), []ruleCase{
		{name: "full scan", sql: "SELECT id FROM t", wantIssues: 1},
		{name: "with where", sql: "SELECT id FROM t WHERE a = 1", wantIssues: 0},
		{name: "with limit", sql: "SELECT id FROM t LIMIT 10", wantIssues: 0},
		{name: "aggregate", sql: "SELECT COUNT(*) FROM t", wantIssues: 0},
		{name: "no table", sql: "SELECT 1", wantIssues: 0},
		{name: "paging hint", sql: "SELECT id FROM t", ctx: &model.SQLContext{PagingHint: model.PagingRowBounds}, wantIssues: 0},
		{name: "template pages elsewhere", sql: "SELECT id FROM t", ctx: &model.SQLContext{Structure: &model.StructuralIssues{}}, wantIssues: 0},
		{name: "template never pages", sql: "SELECT id FROM t", ctx: &model.SQLContext{Structure: &model.StructuralIssues{MissingPagination: true}}, wantIssues: 1},
	}, true)

	all := mustChecker(t, "no_pagination", Options{"enforce_for_all_queries": true}, nil)
	runRuleCases(t, all, []ruleCase{
		{name: "where also flagged", sql: "SELECT id FROM t WHERE a = 1", wantIssues: 1},
	}, true)
}

func TestMissingOrderByRule_Check(t *testing.T) {
	runRuleCases(t, &MissingOrderByRule{}, []ruleCase{
		{name: "limit only", sql: "SELECT id FROM t LIMIT 10", wantIssues: 1},
		{name: "ordered", sql: "SELECT id FROM t ORDER BY id LIMIT 10", wantIssues: 0},
		{name: "no limit", sql: "SELECT id FROM t", wantIssues: 0},
	}, true)
}

func TestNegativeQueryRule_Check(t *testing.T) {
	runRuleCases(t, &NegativeQueryRule{}, []ruleCase{
		{name: "not in", sql: "SELECT id FROM t WHERE a NOT IN (1, 2)", wantIssues: 1},
		{name: "not equal", sql: "SELECT id FROM t WHERE a != 1", wantIssues: 1},
		{name: "leading wildcard", sql: "SELECT id FROM t WHERE name LIKE '%bob'", wantIssues: 1},
		{name: "trailing wildcard", sql: "SELECT id FROM t WHERE name LIKE 'bob%'", wantIssues: 0},
		{name: "positive", sql: "SELECT id FROM t WHERE a IN (1, 2)", wantIssues: 0},
	}, true)
}

const testSchema = `
CREATE TABLE users (
	id BIGINT PRIMARY KEY,
	name VARCHAR(64),
	phone VARCHAR(20),
	age INT,
	KEY idx_name (name)
);
CREATE TABLE logs (msg TEXT);
`

func loadTestSchema(t *testing.T) *model.SchemaCtx {
	t.Helper()
	schema, err := parser.NewSQLParser().ParseSchema(testSchema)
	if err != nil {
		t.Fatalf("ParseSchema failed: %v", err)
	}
	return schema
}

func TestIndexMissRule_Check(t *testing.T) {
	schema := loadTestSchema(t)
	runRuleCases(t, mustChecker(t, "index_miss", nil, schema), []ruleCase{
		{name: "primary key", sql: "SELECT * FROM users WHERE id = 1", wantIssues: 0},
		{name: "secondary index", sql: "SELECT * FROM users WHERE name = 'bob'", wantIssues: 0},
		{name: "no index prefix", sql: "SELECT * FROM users WHERE age > 30", wantIssues: 1},
		{name: "wrapped column", sql: "SELECT * FROM users WHERE LOWER(name) = 'bob' AND age > 1", wantIssues: 1},
		{name: "table without indexes", sql: "SELECT * FROM logs WHERE msg = 'x'", wantIssues: 1},
		{name: "unknown table", sql: "SELECT * FROM orders WHERE x = 1", wantIssues: 0},
	}, true)

	runRuleCases(t, mustChecker(t, "index_miss", nil, nil), []ruleCase{
		{name: "no schema", sql: "SELECT * FROM users WHERE age > 30", wantIssues: 0},
	}, true)
}

func TestImplicitConversionRule_Check(t *testing.T) {
	schema := loadTestSchema(t)
	runRuleCases(t, mustChecker(t, "implicit_conversion", nil, schema), []ruleCase{
		{name: "number against varchar", sql: "SELECT * FROM users WHERE phone = 13800000000", wantIssues: 1},
		{name: "reversed operands", sql: "SELECT * FROM users WHERE 123 = phone", wantIssues: 1},
		{name: "quoted", sql: "SELECT * FROM users WHERE phone = '13800000000'", wantIssues: 0},
		{name: "int column", sql: "SELECT * FROM users WHERE age = 3", wantIssues: 0},
	}, true)
}

func TestScanOutsideLiterals(t *testing.T) {
	tests := []struct {
		name  string
		sql   string
		kinds []tokenKind
	}{
		{name: "plain", sql: "SELECT 1", kinds: nil},
		{name: "separator", sql: "SELECT 1; SELECT 2", kinds: []tokenKind{tokSemicolon}},
		{name: "comment hides separator", sql: "SELECT 1 -- ; x", kinds: []tokenKind{tokLineComment}},
		{name: "block then separator", sql: "SELECT /* ; */ 1;", kinds: []tokenKind{tokBlockComment, tokSemicolon}},
		{name: "hint", sql: "SELECT /*+ HINT */ 1", kinds: []tokenKind{tokHintComment}},
		{name: "version", sql: "SELECT /*!1 */ 1", kinds: []tokenKind{tokVersionComment}},
		{name: "double quoted", sql: `SELECT "a;--" FROM t`, kinds: nil},
		{name: "unterminated literal", sql: "SELECT 'abc; --", kinds: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []tokenKind
			for _, tok := range scanOutsideLiterals(tt.sql) {
				got = append(got, tok.kind)
			}
			if len(got) != len(tt.kinds) {
				t.Fatalf("got %v, want %v", got, tt.kinds)
			}
			for i := range got {
				if got[i] != tt.kinds[i] {
					t.Errorf("token %d: got %v, want %v", i, got[i], tt.kinds[i])
				}
			}
		})
	}
}

func TestWalk_SkipsChildren(t *testing.T) {
	stmt, err := parser.NewSQLParser().Parse("SELECT a FROM t WHERE a IN (SELECT b FROM u WHERE c = 1)")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	var all, pruned int
	Walk(stmt, func(n ast.Node) bool {
		if _, ok := n.(*ast.SelectStmt); ok {
			all++
		}
		return true
	})
	Walk(stmt, func(n ast.Node) bool {
		if _, ok := n.(*ast.SubqueryExpr); ok {
			return false
		}
		if _, ok := n.(*ast.SelectStmt); ok {
			pruned++
		}
		return true
	})
	if all != 2 || pruned != 1 {
		t.Errorf("got all=%d pruned=%d, want 2 and 1", all, pruned)
	}

	visits := 0
	Walk(nil, func(ast.Node) bool { visits++; return true })
	if visits != 0 {
		t.Errorf("nil root visited %d nodes", visits)
	}
}
