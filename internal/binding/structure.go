package binding

import (
	"fmt"
	"regexp"
	"strings"

	"sql-guard/internal/model"
	"sql-guard/internal/template"
)

var (
	// operand = operand opening a condition; RE2 has no backreferences, so
	// sides are compared after matching. Group 1 is the condition keyword,
	// empty when the match starts the text.
	equality = regexp.MustCompile(`(?i)(?:^|\b(WHERE|AND|OR|ON|HAVING)\b)[\s(]*('[^']*'|"[^"]*"|\d+|[A-Za-z_][\w.]*)\s*=\s*('[^']*'|"[^"]*"|\d+|[A-Za-z_][\w.]*)`)
	bareTrue = regexp.MustCompile(`(?i)(?:^\s*|\b(?:WHERE|AND|OR)\s+)TRUE\b`)
	// text ending where the next text starts a condition
	condTail = regexp.MustCompile(`(?i)\b(?:WHERE|AND|OR|ON|HAVING)[\s(]*$`)
	whereToken  = regexp.MustCompile(`(?i)\bWHERE\b`)
	trailWhere  = regexp.MustCompile(`(?i)\bWHERE\s*$`)
	clauseStart = regexp.MustCompile(`(?i)^\s*(?:ORDER|GROUP|LIMIT|HAVING|UNION|FOR)\b`)
)

// DetectStructure inspects the directive tree of tpl for cmd.
func (a *Analyzer) DetectStructure(tpl *template.Template, cmd model.CommandType) model.StructuralIssues {
	var s model.StructuralIssues
	if tpl == nil {
		return s
	}

	s.WhereMayDisappear = whereMayDisappear(tpl.Nodes, &s.Evidence)

	for _, ev := range tautologies(tpl.Nodes, false) {
		s.AlwaysTrue = true
		s.Evidence = append(s.Evidence, "always-true condition: "+ev)
	}

	template.Walk(tpl.Nodes, func(n template.Node) {
		switch d := n.(type) {
		case *template.ParameterRef:
			if d.Mode == model.RawSubstitution {
				s.RawParams = appendUnique(s.RawParams, d.Name)
				if d.Clause == model.PositionOrderBy {
					s.RawInOrderBy = appendUnique(s.RawInOrderBy, d.Name)
				}
			}
		}
	})

	switch cmd {
	case model.CommandSelect, model.CommandUpdate, model.CommandDelete:
		if !tpl.HasWhereWrapper() && !whereToken.MatchString(tpl.StaticText()) {
			s.NoWhere = true
			s.Evidence = append(s.Evidence, fmt.Sprintf("%s has no WHERE clause", cmd))
		}
	}
	if len(s.RawParams) > 0 {
		s.Evidence = append(s.Evidence, "raw substitution: ${"+strings.Join(s.RawParams, "}, ${")+"}")
	}
	return s
}

// whereMayDisappear checks every WHERE wrapper, and every literal WHERE
// followed only by optional content, for a path that renders no condition.
func whereMayDisappear(nodes []template.Node, evidence *[]string) bool {
	found := false
	template.Walk(nodes, func(n template.Node) {
		if w, ok := n.(*template.WhereWrapper); ok && !alwaysContributes(w.Body) {
			found = true
			*evidence = append(*evidence, "<where> contains only optional conditions")
		}
	})
	if scanLiteralWhere(nodes) {
		found = true
		*evidence = append(*evidence, "WHERE followed only by optional conditions")
	}
	return found
}

func scanLiteralWhere(nodes []template.Node) bool {
	for i, n := range nodes {
		switch d := n.(type) {
		case *template.Literal:
			if trailWhere.MatchString(d.Text) && !alwaysContributes(untilClause(nodes[i+1:])) {
				return true
			}
		case *template.Conditional:
			if scanLiteralWhere(d.Body) {
				return true
			}
		case *template.Choice:
			for _, b := range d.Branches {
				if scanLiteralWhere(b.Body) {
					return true
				}
			}
			if scanLiteralWhere(d.Default) {
				return true
			}
		case *template.Loop:
			if scanLiteralWhere(d.Body) {
				return true
			}
		case *template.WhereWrapper:
			if scanLiteralWhere(d.Body) {
				return true
			}
		case *template.ParameterRef:
		}
	}
	return false
}

// untilClause cuts siblings at the literal that opens the next clause.
func untilClause(nodes []template.Node) []template.Node {
	for i, n := range nodes {
		if l, ok := n.(*template.Literal); ok && clauseStart.MatchString(l.Text) {
			return nodes[:i]
		}
	}
	return nodes
}

// alwaysContributes reports whether every rendering of nodes emits some
// condition text.
func alwaysContributes(nodes []template.Node) bool {
	for _, n := range nodes {
		switch d := n.(type) {
		case *template.Literal:
			if strings.TrimSpace(d.Text) != "" {
				return true
			}
		case *template.ParameterRef:
			return true
		case *template.Conditional:
			// may be excluded
		case *template.Choice:
			if !d.HasDefault || !alwaysContributes(d.Default) {
				continue
			}
			all := true
			for _, b := range d.Branches {
				if !alwaysContributes(b.Body) {
					all = false
					break
				}
			}
			if all {
				return true
			}
		case *template.Loop:
			// may iterate zero times
		case *template.WhereWrapper:
			if alwaysContributes(d.Body) {
				return true
			}
		}
	}
	return false
}

// tautologies collects always-true conditions from the literals of nodes.
// inCond is true when the first literal starts in condition context: inside
// <where>, or right after WHERE/AND/OR/ON/HAVING in preceding text.
func tautologies(nodes []template.Node, inCond bool) []string {
	var found []string
	ctx := inCond
	for _, n := range nodes {
		switch d := n.(type) {
		case *template.Literal:
			if ev, ok := tautology(d.Text, ctx); ok {
				found = append(found, ev)
			}
			if strings.TrimSpace(d.Text) != "" {
				ctx = condTail.MatchString(d.Text)
			}
		case *template.ParameterRef:
			ctx = false
		case *template.Conditional:
			found = append(found, tautologies(d.Body, ctx)...)
		case *template.Choice:
			for _, b := range d.Branches {
				found = append(found, tautologies(b.Body, ctx)...)
			}
			found = append(found, tautologies(d.Default, ctx)...)
		case *template.Loop:
			found = append(found, tautologies(d.Body, ctx)...)
		case *template.WhereWrapper:
			found = append(found, tautologies(d.Body, true)...)
			ctx = false
		}
	}
	return found
}

// tautology finds a condition that holds for every row. A match at the
// start of text only counts when atCond is set. An operand followed by an
// arithmetic operator or a call is an expression, as in
// "SET version = version + 1".
func tautology(text string, atCond bool) (string, bool) {
	for _, m := range equality.FindAllStringSubmatchIndex(text, -1) {
		if m[2] < 0 && !atCond {
			continue
		}
		left, right := text[m[4]:m[5]], text[m[6]:m[7]]
		if !strings.EqualFold(left, right) || continuesExpression(text[m[7]:]) {
			continue
		}
		return text[m[4]:m[7]], true
	}
	for _, m := range bareTrue.FindAllStringIndex(text, -1) {
		ev := strings.TrimSpace(text[m[0]:m[1]])
		if !atCond && strings.EqualFold(ev, "TRUE") {
			continue
		}
		return ev, true
	}
	return "", false
}

func continuesExpression(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	if rest == "" {
		return false
	}
	return strings.ContainsRune("+-*/%(|&^", rune(rest[0]))
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
