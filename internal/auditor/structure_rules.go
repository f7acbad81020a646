package auditor

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/parser/ast"

	"sql-guard/internal/model"
	"sql-guard/internal/parser"
)

// DynamicTemplateRule turns the structural findings of the originating
// template into violations. It reports nothing for plain SQL.
type DynamicTemplateRule struct{}

func newDynamicTemplateRule(Options, *model.SchemaCtx) (model.Checker, error) {
	return &DynamicTemplateRule{}, nil
}

func (r *DynamicTemplateRule) Name() string { return "dynamic_template" }

func (r *DynamicTemplateRule) Check(node ast.StmtNode, ctx *model.SQLContext) ([]model.ViolationInfo, error) {
	s := ctx.Structure
	if s == nil {
		return nil, nil
	}
	cmd := ctx.CommandType
	if cmd == "" {
		cmd = parser.CommandTypeOf(node)
	}
	writes := cmd == model.CommandUpdate || cmd == model.CommandDelete

	var violations []model.ViolationInfo
	if s.WhereMayDisappear {
		level := model.RiskHigh
		if writes {
			level = model.RiskCritical
		}
		violations = append(violations, model.ViolationInfo{
			RiskLevel:  level,
			Message:    fmt.Sprintf("WHERE clause may disappear: every condition of this %s is optional", cmd),
			Suggestion: "Add an unconditional predicate or reject empty parameter sets before execution.",
		})
	}
	if s.AlwaysTrue {
		violations = append(violations, model.ViolationInfo{
			RiskLevel:  model.RiskHigh,
			Message:    "Template contains an always-true condition",
			Suggestion: "Drop 1=1 style placeholders and rely on the <where> wrapper.",
		})
	}
	if s.NoWhere && writes {
		violations = append(violations, model.ViolationInfo{
			RiskLevel:  model.RiskCritical,
			Message:    fmt.Sprintf("%s template has no WHERE clause", cmd),
			Suggestion: "Add a WHERE clause to the template.",
		})
	}
	if len(s.RawParams) > 0 {
		msg := "Raw ${} substitution of " + strings.Join(s.RawParams, ", ")
		if len(s.RawInOrderBy) > 0 {
			msg += " (ORDER BY: " + strings.Join(s.RawInOrderBy, ", ") + ")"
		}
		violations = append(violations, model.ViolationInfo{
			RiskLevel:  model.RiskMedium,
			Message:    msg,
			Suggestion: "Use #{} binding, or whitelist the substituted value in code.",
		})
	}
	return violations, nil
}
