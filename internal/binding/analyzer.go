// Package binding relates a template's parameter markers to the signature of
// the method that executes it, and flags structural hazards of the directive
// tree itself: a WHERE clause that can vanish, tautological conditions, a
// missing WHERE or missing pagination.
//
// The analyzer never renders variants. Its findings ride on the SQLContext
// handed to the auditor as synthetic context.
package binding

import (
	"strings"

	"go.uber.org/zap"

	"sql-guard/internal/model"
	"sql-guard/internal/template"
)

// Pagination describes how a statement is paged, if at all.
type Pagination struct {
	HasPagination bool             `json:"has_pagination"`
	Kind          model.PagingKind `json:"kind,omitempty"`
	// DirectiveLimit is true when the template text itself carries LIMIT/OFFSET.
	DirectiveLimit bool `json:"directive_limit"`
}

// Report bundles every finding for one template.
type Report struct {
	Usages     []model.ParameterUsage `json:"usages"`
	Pagination Pagination             `json:"pagination"`
	Structure  model.StructuralIssues `json:"structure"`
}

// Unresolved returns the usages whose name was not found in the signature.
func (r *Report) Unresolved() []model.ParameterUsage {
	var out []model.ParameterUsage
	for _, u := range r.Usages {
		if !u.Resolved {
			out = append(out, u)
		}
	}
	return out
}

// Analyzer is stateless and safe for concurrent use.
type Analyzer struct {
	logger *zap.Logger
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{logger: logger.Named("binding")}
}

// MatchParameters classifies every parameter marker of tpl in document order.
// A name missing from sig is kept with Resolved=false.
func (a *Analyzer) MatchParameters(tpl *template.Template, sig *model.MethodSignature) []model.ParameterUsage {
	if tpl == nil {
		return nil
	}
	var out []model.ParameterUsage
	a.matchNodes(tpl.Nodes, sig, nil, &out)
	return out
}

func (a *Analyzer) matchNodes(nodes []template.Node, sig *model.MethodSignature, items map[string]string, out *[]model.ParameterUsage) {
	for _, n := range nodes {
		switch d := n.(type) {
		case *template.ParameterRef:
			*out = append(*out, a.usage(d, sig, items))
		case *template.Conditional:
			a.matchNodes(d.Body, sig, items, out)
		case *template.Choice:
			for _, b := range d.Branches {
				a.matchNodes(b.Body, sig, items, out)
			}
			a.matchNodes(d.Default, sig, items, out)
		case *template.Loop:
			scoped := make(map[string]string, len(items)+1)
			for k, v := range items {
				scoped[k] = v
			}
			if d.Item != "" {
				scoped[d.Item] = d.Source
			}
			a.matchNodes(d.Body, sig, scoped, out)
		case *template.WhereWrapper:
			a.matchNodes(d.Body, sig, items, out)
		case *template.Literal:
		}
	}
}

func (a *Analyzer) usage(p *template.ParameterRef, sig *model.MethodSignature, items map[string]string) model.ParameterUsage {
	u := model.ParameterUsage{
		Name:     p.Name,
		Position: p.Clause,
		Mode:     p.Mode,
		Dynamic:  p.Mode == model.RawSubstitution,
	}

	name := p.Name
	// a loop item resolves through the collection it iterates
	for i := 0; i < 8; i++ {
		src, ok := items[rootName(name)]
		if !ok {
			break
		}
		name = src
	}

	if param, ok := sig.Lookup(name); ok {
		u.Resolved, u.Type = true, param.Type
	} else if param, ok := sig.Lookup(rootName(name)); ok {
		u.Resolved, u.Type = true, param.Type
	}
	if !u.Resolved {
		a.logger.Debug("unresolved parameter", zap.String("name", p.Name), zap.String("mode", string(p.Mode)))
	}
	return u
}

// rootName strips property access: "user.name" -> "user", "ids[0]" -> "ids".
func rootName(name string) string {
	if i := strings.IndexAny(name, ".["); i > 0 {
		return name[:i]
	}
	return name
}

// Analyze runs every detection over tpl.
func (a *Analyzer) Analyze(tpl *template.Template, sig *model.MethodSignature, cmd model.CommandType) *Report {
	r := &Report{
		Usages:     a.MatchParameters(tpl, sig),
		Pagination: a.DetectPagination(tpl, sig),
		Structure:  a.DetectStructure(tpl, cmd),
	}
	if cmd == model.CommandSelect && !r.Pagination.HasPagination {
		r.Structure.MissingPagination = true
		r.Structure.Evidence = append(r.Structure.Evidence, "no LIMIT/OFFSET in template and no paging parameter in signature")
	}
	if n := len(r.Unresolved()); n > 0 {
		a.logger.Debug("parameters unresolved against signature", zap.Int("count", n), zap.Int("total", len(r.Usages)))
	}
	return r
}
