// Package template holds the parsed form of a dynamic SQL statement: literal
// text interleaved with conditional, choice, loop and where-wrapper directives.
//
// The node set is closed. Every consumer switches over the six node types and
// must handle all of them; the unexported marker method keeps other packages
// from adding kinds the generator and analyzer would silently ignore.
package template

import (
	"strings"

	"sql-guard/internal/model"
)

// Node is one element of a directive tree.
type Node interface {
	node()
}

// Literal is static SQL text.
type Literal struct {
	Text string
}

// ParameterRef is a #{name} or ${name} marker.
type ParameterRef struct {
	Name   string
	Mode   model.BindingMode
	Clause model.Position // nearest enclosing static clause
}

// Conditional includes Body when Test holds.
type Conditional struct {
	Test string
	Body []Node
}

// Branch is one <when> arm of a Choice.
type Branch struct {
	Test string
	Body []Node
}

// Choice renders the first matching branch, or Default.
type Choice struct {
	Branches   []Branch
	Default    []Node
	HasDefault bool
}

// Loop repeats Body once per element of Source.
type Loop struct {
	Source    string
	Item      string
	Open      string
	Close     string
	Separator string
	Body      []Node
}

// WhereWrapper emits WHERE followed by Body when Body renders non-empty,
// trimming a leading AND/OR.
type WhereWrapper struct {
	Body []Node
}

func (*Literal) node()      {}
func (*ParameterRef) node() {}
func (*Conditional) node()  {}
func (*Choice) node()       {}
func (*Loop) node()         {}
func (*WhereWrapper) node() {}

// Template is an immutable directive tree.
type Template struct {
	Nodes []Node
}

// Walk visits every node in document (pre-) order. Choice branches are
// visited before the default body.
func Walk(nodes []Node, fn func(Node)) {
	for _, n := range nodes {
		fn(n)
		switch v := n.(type) {
		case *Conditional:
			Walk(v.Body, fn)
		case *Choice:
			for _, b := range v.Branches {
				Walk(b.Body, fn)
			}
			Walk(v.Default, fn)
		case *Loop:
			Walk(v.Body, fn)
		case *WhereWrapper:
			Walk(v.Body, fn)
		case *Literal, *ParameterRef:
		}
	}
}

// IsDirective reports whether n has more than one rendering state.
func IsDirective(n Node) bool {
	switch n.(type) {
	case *Conditional, *Choice, *Loop:
		return true
	default:
		return false
	}
}

// Directives returns the state-bearing nodes in document order.
func (t *Template) Directives() []Node {
	var out []Node
	Walk(t.Nodes, func(n Node) {
		if IsDirective(n) {
			out = append(out, n)
		}
	})
	return out
}

// Parameters returns every parameter marker in document order.
func (t *Template) Parameters() []*ParameterRef {
	var out []*ParameterRef
	Walk(t.Nodes, func(n Node) {
		if p, ok := n.(*ParameterRef); ok {
			out = append(out, p)
		}
	})
	return out
}

// HasWhereWrapper reports whether a <where> element appears anywhere.
func (t *Template) HasWhereWrapper() bool {
	found := false
	Walk(t.Nodes, func(n Node) {
		if _, ok := n.(*WhereWrapper); ok {
			found = true
		}
	})
	return found
}

// StaticText concatenates every literal, including those inside directives,
// separated by single spaces.
func (t *Template) StaticText() string {
	var parts []string
	Walk(t.Nodes, func(n Node) {
		if l, ok := n.(*Literal); ok {
			if s := strings.TrimSpace(l.Text); s != "" {
				parts = append(parts, s)
			}
		}
	})
	return strings.Join(parts, " ")
}
