package parser

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"sql-guard/internal/model"

	"github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/format"
	_ "github.com/pingcap/tidb/parser/test_driver"
)

// ErrNoStatement is returned when the input holds no SQL statement.
var ErrNoStatement = errors.New("no valid SQL found")

// SQLParser wraps the TiDB parser. The underlying parser is not safe for
// concurrent use, so instances are pooled and SQLParser itself may be shared.
type SQLParser struct {
	pool sync.Pool
}

func NewSQLParser() *SQLParser {
	return &SQLParser{
		pool: sync.Pool{New: func() any { return parser.New() }},
	}
}

// ParseAll converts SQL text into every statement it contains.
func (sp *SQLParser) ParseAll(sql string) ([]ast.StmtNode, error) {
	p := sp.pool.Get().(*parser.Parser)
	defer sp.pool.Put(p)

	stmtNodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, err
	}
	if len(stmtNodes) == 0 {
		return nil, ErrNoStatement
	}
	return stmtNodes, nil
}

// Parse converts a SQL string into an AST. Only the first statement is
// returned; multi-statement input is a checker concern, not a parse error.
func (sp *SQLParser) Parse(sql string) (ast.StmtNode, error) {
	stmtNodes, err := sp.ParseAll(sql)
	if err != nil {
		return nil, err
	}
	return stmtNodes[0], nil
}

// Restore renders an AST back to SQL text.
func Restore(node ast.Node) (string, error) {
	var sb strings.Builder
	if err := node.Restore(format.NewRestoreCtx(format.DefaultRestoreFlags, &sb)); err != nil {
		return "", fmt.Errorf("restore sql: %w", err)
	}
	return sb.String(), nil
}

// CommandTypeOf classifies a parsed statement.
func CommandTypeOf(node ast.StmtNode) model.CommandType {
	switch node.(type) {
	case *ast.SelectStmt, *ast.SetOprStmt:
		return model.CommandSelect
	case *ast.InsertStmt:
		return model.CommandInsert
	case *ast.UpdateStmt:
		return model.CommandUpdate
	case *ast.DeleteStmt:
		return model.CommandDelete
	default:
		return model.CommandUnknown
	}
}

// LoadSchema reads a SQL file and populates the SchemaCtx
func (sp *SQLParser) LoadSchema(path string) (*model.SchemaCtx, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return sp.ParseSchema(string(content))
}

// ParseSchema builds a SchemaCtx from CREATE TABLE statements.
func (sp *SQLParser) ParseSchema(ddl string) (*model.SchemaCtx, error) {
	schema := &model.SchemaCtx{
		Tables: make(map[string]*model.Table),
	}

	stmts, err := sp.ParseAll(ddl)
	if err != nil {
		return nil, fmt.Errorf("schema parse error: %w", err)
	}

	for _, stmt := range stmts {
		if createTable, ok := stmt.(*ast.CreateTableStmt); ok {
			table := parseCreateTable(createTable)
			schema.Tables[table.Name] = table
		}
	}

	return schema, nil
}

func parseCreateTable(node *ast.CreateTableStmt) *model.Table {
	t := &model.Table{
		Name:    node.Table.Name.O,
		Columns: make(map[string]*model.Column),
		Indexes: make([]*model.Index, 0),
	}

	for _, col := range node.Cols {
		t.Columns[col.Name.Name.O] = &model.Column{
			Name: col.Name.Name.O,
			Type: col.Tp.String(),
		}
		// Inline PRIMARY KEY / UNIQUE column options also define an index.
		for _, opt := range col.Options {
			switch opt.Tp {
			case ast.ColumnOptionPrimaryKey:
				t.Indexes = append(t.Indexes, &model.Index{Name: "PRIMARY", Unique: true, Columns: []string{col.Name.Name.O}})
			case ast.ColumnOptionUniqKey:
				t.Indexes = append(t.Indexes, &model.Index{Name: col.Name.Name.O, Unique: true, Columns: []string{col.Name.Name.O}})
			}
		}
	}

	for _, cons := range node.Constraints {
		switch cons.Tp {
		case ast.ConstraintPrimaryKey, ast.ConstraintKey, ast.ConstraintIndex, ast.ConstraintUniq, ast.ConstraintUniqKey, ast.ConstraintUniqIndex:
			idx := &model.Index{
				Name:    cons.Name,
				Unique:  cons.Tp != ast.ConstraintKey && cons.Tp != ast.ConstraintIndex,
				Columns: make([]string, 0),
			}
			if idx.Name == "" && cons.Tp == ast.ConstraintPrimaryKey {
				idx.Name = "PRIMARY"
			}
			for _, keyCol := range cons.Keys {
				if keyCol.Column != nil {
					idx.Columns = append(idx.Columns, keyCol.Column.Name.O)
				}
			}
			t.Indexes = append(t.Indexes, idx)
		}
	}

	return t
}
