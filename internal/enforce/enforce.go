package enforce

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sql-guard/internal/auditor"
	"sql-guard/internal/model"
	"sql-guard/internal/parsecache"
	"sql-guard/internal/parser"
)

// ErrBlocked is returned when a BLOCK-strategy checker fired.
var ErrBlocked = errors.New("statement blocked")

// BlockedError carries the verdict behind a blocked statement.
type BlockedError struct {
	StatementID string
	Decision    Decision
	Result      *model.ValidationResult
}

func (e *BlockedError) Error() string {
	msg := fmt.Sprintf("%s by %s", ErrBlocked.Error(), strings.Join(e.Decision.Blocking, ", "))
	if e.StatementID != "" {
		msg = e.StatementID + ": " + msg
	}
	return msg
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// Decision groups the triggered checkers of a result by strategy.
type Decision struct {
	Block    bool     `json:"block"`
	Blocking []string `json:"blocking,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Logs     []string `json:"logs,omitempty"`
}

// Decide maps a result to a decision. A checker without a recorded strategy is treated as LOG.
func Decide(res *model.ValidationResult) Decision {
	var d Decision
	if res == nil {
		return d
	}
	strategies := auditor.Strategies(res)
	for _, name := range res.TriggeredCheckers() {
		switch strategies[name] {
		case model.StrategyBlock:
			d.Blocking = append(d.Blocking, name)
		case model.StrategyWarn:
			d.Warnings = append(d.Warnings, name)
		default:
			d.Logs = append(d.Logs, name)
		}
	}
	d.Block = len(d.Blocking) > 0
	return d
}

// Interceptor validates statements right before execution.
type Interceptor struct {
	auditor *auditor.Auditor
	parser  *parser.SQLParser
	logger  *zap.Logger
}

func NewInterceptor(a *auditor.Auditor, p *parser.SQLParser, logger *zap.Logger) *Interceptor {
	if p == nil {
		p = parser.NewSQLParser()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interceptor{auditor: a, parser: p, logger: logger.Named("enforce")}
}

// Check validates sqlCtx and returns the verdict with its decision. The
// statement is parsed through the parse cache of ctx, so callers that
// wrap a request in parsecache.Begin parse each distinct text once.
// The returned error wraps ErrBlocked when the decision blocks.
// The caller's context is never modified; defaults and the parsed AST are
// set on a copy.
func (i *Interceptor) Check(ctx context.Context, in *model.SQLContext) (*model.ValidationResult, Decision, error) {
	var sqlCtx model.SQLContext
	if in != nil {
		sqlCtx = *in
	}
	if sqlCtx.ExecutionLayer == "" {
		sqlCtx.ExecutionLayer = model.LayerRuntime
	}
	if sqlCtx.AST == nil && strings.TrimSpace(sqlCtx.SQL) != "" {
		// a parse error is reported by the auditor as MALFORMED_SQL
		if node, err := parsecache.Parse(ctx, i.parser, sqlCtx.SQL); err == nil {
			sqlCtx.AST = node
			if sqlCtx.CommandType == "" {
				sqlCtx.CommandType = parser.CommandTypeOf(node)
			}
		}
	}

	res := i.auditor.Validate(&sqlCtx)
	d := Decide(res)
	i.log(&sqlCtx, res, d)
	if d.Block {
		return res, d, &BlockedError{StatementID: sqlCtx.StatementID, Decision: d, Result: res}
	}
	return res, d, nil
}

// Run checks sqlCtx and calls exec only when the statement is not blocked.
// The whole call runs inside a parse cache scope that is released on return.
func (i *Interceptor) Run(ctx context.Context, sqlCtx *model.SQLContext, exec func(ctx context.Context) error) error {
	return parsecache.Do(ctx, func(ctx context.Context) error {
		if _, _, err := i.Check(ctx, sqlCtx); err != nil {
			return err
		}
		if exec == nil {
			return nil
		}
		return exec(ctx)
	})
}

func (i *Interceptor) log(sqlCtx *model.SQLContext, res *model.ValidationResult, d Decision) {
	if res.Passed {
		return
	}
	fields := []zap.Field{
		zap.String("statement_id", sqlCtx.StatementID),
		zap.String("command_type", string(sqlCtx.CommandType)),
		zap.Stringer("risk_level", res.RiskLevel),
		zap.Int("violations", len(res.Violations)),
	}
	switch {
	case d.Block:
		i.logger.Error("statement blocked", append(fields, zap.Strings("checkers", d.Blocking))...)
	case len(d.Warnings) > 0:
		i.logger.Warn("statement allowed with warnings", append(fields, zap.Strings("checkers", d.Warnings))...)
	default:
		i.logger.Info("statement allowed", append(fields, zap.Strings("checkers", d.Logs))...)
	}
}
