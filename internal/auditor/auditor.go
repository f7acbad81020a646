package auditor

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/pingcap/tidb/parser/ast"
	"go.uber.org/zap"

	"sql-guard/internal/model"
	"sql-guard/internal/parser"
)

// Detail keys set on every ValidationResult.
const (
	DetailStrategies      = "strategies"
	DetailCheckerFailures = "checker_failures"
	DetailMalformedSQL    = "malformed_sql"
	DetailCommandType     = "command_type"
)

// ParserChecker names the synthetic checker that reports unparsable SQL.
const ParserChecker = "parser"

// CheckerFailure is an internal checker error, kept out of the violations.
type CheckerFailure struct {
	Checker string `json:"checker"`
	Error   string `json:"error"`
}

type boundChecker struct {
	checker  model.Checker
	strategy model.ViolationStrategy
	// risk overrides the level a checker reports; RiskSafe keeps it.
	risk model.RiskLevel
}

// Auditor runs checkers over one statement at a time. Once built it is
// immutable and safe for concurrent use; Register must not race with Validate.
type Auditor struct {
	checkers []boundChecker
	parser   *parser.SQLParser
	logger   *zap.Logger
}

// New returns an auditor without checkers.
func New(p *parser.SQLParser, logger *zap.Logger) *Auditor {
	if p == nil {
		p = parser.NewSQLParser()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{parser: p, logger: logger.Named("auditor")}
}

// NewAuditor builds the enabled checkers of the catalog, configured by rules.
// It fails on unknown checker names, strategies, risk levels and option types.
func NewAuditor(rules map[string]RuleConfig, schema *model.SchemaCtx, p *parser.SQLParser, logger *zap.Logger) (*Auditor, error) {
	a := New(p, logger)

	effective, err := Resolve(rules)
	if err != nil {
		return nil, err
	}
	for _, e := range effective {
		if !e.Enabled {
			a.logger.Debug("checker disabled", zap.String("checker", e.Name))
			continue
		}
		c, err := e.New(e.Options, schema)
		if err != nil {
			return nil, fmt.Errorf("checker %s: %w", e.Name, err)
		}
		risk := model.RiskSafe
		if e.Risk != e.Definition.Risk {
			risk = e.Risk
		}
		a.checkers = append(a.checkers, boundChecker{checker: c, strategy: e.Strategy, risk: risk})
	}
	return a, nil
}

// Register appends a checker after the catalog ones.
func (a *Auditor) Register(c model.Checker, strategy model.ViolationStrategy) {
	a.checkers = append(a.checkers, boundChecker{checker: c, strategy: strategy})
}

// Checkers returns the names of the active checkers in run order.
func (a *Auditor) Checkers() []string {
	names := make([]string, len(a.checkers))
	for i, bc := range a.checkers {
		names[i] = bc.checker.Name()
	}
	return names
}

// Strategy returns the strategy bound to a checker name.
func (a *Auditor) Strategy(name string) (model.ViolationStrategy, bool) {
	if name == ParserChecker {
		return model.StrategyBlock, true
	}
	for _, bc := range a.checkers {
		if bc.checker.Name() == name {
			return bc.strategy, true
		}
	}
	return "", false
}

// Validate runs every active checker in registration order. It never
// returns an error: unparsable SQL is a MALFORMED_SQL violation and a
// failing checker is recorded under Details["checker_failures"].
func (a *Auditor) Validate(ctx *model.SQLContext) *model.ValidationResult {
	res := model.NewValidationResult()
	strategies := make(map[string]model.ViolationStrategy)
	res.Details[DetailStrategies] = strategies

	if ctx == nil {
		ctx = &model.SQLContext{}
	}

	node := ctx.AST
	if node == nil {
		var err error
		node, err = a.parse(ctx)
		if err != nil {
			res.Add(model.ViolationInfo{
				Checker:    ParserChecker,
				RiskLevel:  model.RiskCritical,
				Message:    fmt.Sprintf("%s: %v", model.IssueMalformedSQL, err),
				Suggestion: "Fix the statement so it parses; unparsable SQL is never treated as safe.",
			})
			res.Details[DetailMalformedSQL] = err.Error()
			strategies[ParserChecker] = model.StrategyBlock
			return res
		}
	}

	cmd := ctx.CommandType
	if cmd == "" {
		cmd = parser.CommandTypeOf(node)
		a.logger.Debug("command type derived from statement", zap.String("command_type", string(cmd)))
	}
	res.Details[DetailCommandType] = string(cmd)

	var failures []CheckerFailure
	for _, bc := range a.checkers {
		name := bc.checker.Name()
		violations, err := a.run(bc.checker, node, ctx)
		if err != nil {
			failures = append(failures, CheckerFailure{Checker: name, Error: err.Error()})
			a.logger.Error(model.IssueCheckerFailure,
				zap.String("checker", name),
				zap.String("statement_id", ctx.StatementID),
				zap.Error(err),
			)
			continue
		}
		for _, v := range violations {
			if v.Checker == "" {
				v.Checker = name
			}
			if bc.risk != model.RiskSafe {
				v.RiskLevel = bc.risk
			}
			res.Add(v)
			strategies[v.Checker] = bc.strategy
		}
	}
	if len(failures) > 0 {
		res.Details[DetailCheckerFailures] = failures
	}
	return res
}

func (a *Auditor) parse(ctx *model.SQLContext) (ast.StmtNode, error) {
	if err := ctx.Validate(); err != nil && !errors.Is(err, model.ErrMissingCommandType) {
		return nil, err
	}
	return a.parser.Parse(ctx.SQL)
}

// run isolates one checker: a panic becomes an error.
func (a *Auditor) run(c model.Checker, node ast.StmtNode, ctx *model.SQLContext) (violations []model.ViolationInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("checker panic stack", zap.String("checker", c.Name()), zap.ByteString("stack", debug.Stack()))
			violations = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Check(node, ctx)
}

// Strategies returns the checker-to-strategy map recorded by Validate.
func Strategies(res *model.ValidationResult) map[string]model.ViolationStrategy {
	if res == nil || res.Details == nil {
		return nil
	}
	m, _ := res.Details[DetailStrategies].(map[string]model.ViolationStrategy)
	return m
}

// Failures returns the checker failures recorded by Validate.
func Failures(res *model.ValidationResult) []CheckerFailure {
	if res == nil || res.Details == nil {
		return nil
	}
	f, _ := res.Details[DetailCheckerFailures].([]CheckerFailure)
	return f
}
