// Package variant expands a dynamic SQL template into a small, bounded set of
// concrete SQL strings that stand in for the template during validation.
//
// A full cross-product of directive states grows exponentially, so the
// generator renders an all-included baseline, an all-excluded baseline, then
// toggles one directive at a time through its remaining states while the
// others stay at baseline. Output stops at MaxVariants.
package variant

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sql-guard/internal/parser"
	"sql-guard/internal/template"
)

// MaxVariants is the hard upper bound on variants per template.
const MaxVariants = 10

// ConcreteVariant is one rendering of a template.
type ConcreteVariant struct {
	SQL string
	// States holds one state index per directive, in document order.
	States []int
	// Labels describes States, e.g. "if[name != null]=excluded".
	Labels []string
	// Valid is true when SQL parses.
	Valid bool
	Err   error
}

// Describe joins the state labels for diagnostics.
func (v ConcreteVariant) Describe() string {
	if len(v.Labels) == 0 {
		return "static"
	}
	return strings.Join(v.Labels, ", ")
}

// Generator renders template variants. It is stateless and safe for
// concurrent use.
type Generator struct {
	parser *parser.SQLParser
	max    int
	logger *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger used for invalid-variant diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l.Named("variant")
		}
	}
}

// WithMaxVariants lowers the variant bound. Values outside 1..MaxVariants are ignored.
func WithMaxVariants(n int) Option {
	return func(g *Generator) {
		if n > 0 && n <= MaxVariants {
			g.max = n
		}
	}
}

func NewGenerator(p *parser.SQLParser, opts ...Option) *Generator {
	if p == nil {
		p = parser.NewSQLParser()
	}
	g := &Generator{parser: p, max: MaxVariants, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the variants of tpl in a deterministic order. A template
// without directives yields no variants; use Static for it.
func (g *Generator) Generate(tpl *template.Template) []ConcreteVariant {
	if tpl == nil {
		return nil
	}
	directives := tpl.Directives()
	if len(directives) == 0 {
		return nil
	}

	spaces := make([][]string, len(directives))
	for i, d := range directives {
		spaces[i] = directiveStates(d)
	}

	var (
		out  []ConcreteVariant
		seen = make(map[string]bool)
	)
	add := func(states []int) bool {
		v := g.build(tpl, directives, spaces, states)
		if seen[v.SQL] {
			return len(out) < g.max
		}
		seen[v.SQL] = true
		out = append(out, v)
		return len(out) < g.max
	}

	baseline := make([]int, len(directives))
	if !add(baseline) {
		return out
	}

	excluded := make([]int, len(directives))
	for i := range excluded {
		excluded[i] = len(spaces[i]) - 1
	}
	if !add(excluded) {
		return out
	}

	for i := range directives {
		for s := 1; s < len(spaces[i]); s++ {
			states := make([]int, len(directives))
			states[i] = s
			if !add(states) {
				return out
			}
		}
	}
	return out
}

// Static renders a directive-free template.
func (g *Generator) Static(tpl *template.Template) ConcreteVariant {
	return g.build(tpl, nil, nil, nil)
}

func (g *Generator) build(tpl *template.Template, directives []template.Node, spaces [][]string, states []int) (v ConcreteVariant) {
	v.States = append([]int(nil), states...)
	for i, d := range directives {
		v.Labels = append(v.Labels, fmt.Sprintf("%s=%s", directiveName(d), spaces[i][states[i]]))
	}

	defer func() {
		if r := recover(); r != nil {
			v.Valid = false
			v.Err = fmt.Errorf("render variant: %v", r)
			g.logger.Warn("variant rendering panicked", zap.Any("panic", r), zap.Strings("states", v.Labels))
		}
	}()

	r := &renderer{states: make(map[template.Node]int, len(directives))}
	for i, d := range directives {
		r.states[d] = states[i]
	}
	r.render(tpl.Nodes)
	v.SQL = Clean(r.b.String())

	if _, err := g.parser.Parse(v.SQL); err != nil {
		v.Err = err
		g.logger.Debug("invalid variant", zap.String("sql", v.SQL), zap.Strings("states", v.Labels), zap.Error(err))
		return v
	}
	v.Valid = true
	return v
}

// ValidOnly filters variants that parse.
func ValidOnly(vs []ConcreteVariant) []ConcreteVariant {
	var out []ConcreteVariant
	for _, v := range vs {
		if v.Valid {
			out = append(out, v)
		}
	}
	return out
}

func directiveName(n template.Node) string {
	switch d := n.(type) {
	case *template.Conditional:
		return "if[" + d.Test + "]"
	case *template.Choice:
		return "choose"
	case *template.Loop:
		return "foreach[" + d.Source + "]"
	default:
		return fmt.Sprintf("%T", n)
	}
}
