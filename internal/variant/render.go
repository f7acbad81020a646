package variant

import (
	"regexp"
	"strings"

	"sql-guard/internal/model"
	"sql-guard/internal/template"
)

// Loop cardinalities, in state order.
const (
	loopOne = iota
	loopMany
	loopZero
)

// manyIterations is the representative cardinality for "many".
const manyIterations = 2

var (
	leadingConnective = regexp.MustCompile(`(?i)^\s*(?:AND|OR)\b`)
	identUnsafe       = regexp.MustCompile(`[^A-Za-z0-9_]`)
	// ORDER BY positions where a sort expression is expected next.
	sortKeyStart = regexp.MustCompile(`(?i)(?:\bBY|,|\()\s*$`)
)

// directiveStates enumerates the state labels of one directive. The first
// state is the "all-included" baseline and the last the "all-excluded" one.
func directiveStates(n template.Node) []string {
	switch d := n.(type) {
	case *template.Conditional:
		return []string{"included", "excluded"}
	case *template.Choice:
		var states []string
		for i := range d.Branches {
			if !emptyBody(d.Branches[i].Body) {
				states = append(states, "when:"+d.Branches[i].Test)
			}
		}
		if d.HasDefault {
			states = append(states, "otherwise")
		} else {
			states = append(states, "none")
		}
		return states
	case *template.Loop:
		return []string{"one", "many", "zero"}
	default:
		return nil
	}
}

// choiceBody resolves a Choice state index to the body it renders.
func choiceBody(c *template.Choice, state int) []template.Node {
	i := 0
	for _, b := range c.Branches {
		if emptyBody(b.Body) {
			continue
		}
		if i == state {
			return b.Body
		}
		i++
	}
	if c.HasDefault {
		return c.Default
	}
	return nil
}

func emptyBody(nodes []template.Node) bool {
	for _, n := range nodes {
		if l, ok := n.(*template.Literal); ok && strings.TrimSpace(l.Text) == "" {
			continue
		}
		return false
	}
	return true
}

// renderer assembles one raw (uncleaned) SQL string for a state vector.
type renderer struct {
	states map[template.Node]int
	b      strings.Builder
}

func (r *renderer) render(nodes []template.Node) {
	for _, n := range nodes {
		switch d := n.(type) {
		case *template.Literal:
			r.b.WriteString(d.Text)
		case *template.ParameterRef:
			r.b.WriteString(placeholder(d, r.b.String()))
		case *template.Conditional:
			if r.states[d] == 0 {
				r.render(d.Body)
			}
		case *template.Choice:
			r.render(choiceBody(d, r.states[d]))
		case *template.Loop:
			r.renderLoop(d)
		case *template.WhereWrapper:
			r.renderWhere(d)
		}
	}
}

func (r *renderer) renderLoop(l *template.Loop) {
	n := 1
	switch r.states[l] {
	case loopZero:
		return
	case loopMany:
		n = manyIterations
	}
	r.b.WriteString(" " + l.Open)
	for i := 0; i < n; i++ {
		if i > 0 {
			r.b.WriteString(" " + l.Separator + " ")
		}
		r.render(l.Body)
	}
	r.b.WriteString(l.Close + " ")
}

func (r *renderer) renderWhere(w *template.WhereWrapper) {
	inner := &renderer{states: r.states}
	inner.render(w.Body)
	body := strings.TrimSpace(inner.b.String())
	body = strings.TrimSpace(leadingConnective.ReplaceAllString(body, ""))
	if body == "" {
		return
	}
	r.b.WriteString(" WHERE " + body + " ")
}

// placeholder renders a parameter marker so the variant parses:
// bound markers become "?", raw substitutions a quoted identifier,
// except in LIMIT/OFFSET where only a value is legal. In ORDER BY a raw
// marker that follows a sort expression is the direction, as in
// "ORDER BY ${sort} ${dir}".
func placeholder(p *template.ParameterRef, before string) string {
	if p.Mode == model.SafeBound || p.Clause == model.PositionLimit {
		return "?"
	}
	if p.Clause == model.PositionOrderBy && !sortKeyStart.MatchString(before) {
		return "ASC"
	}
	name := identUnsafe.ReplaceAllString(p.Name, "_")
	if name == "" {
		name = "raw"
	}
	return "`" + name + "`"
}
