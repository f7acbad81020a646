package variant

import (
	"regexp"
	"strings"
)

// maxCleanupPasses bounds the fixpoint loop; every rule only ever shortens
// the string, so a handful of passes always converges on real templates.
const maxCleanupPasses = 8

const clauseEnd = `(?:$|\)|;|\b(?:ORDER|GROUP|LIMIT|HAVING|UNION|FOR)\b)`

var (
	spaceRun = regexp.MustCompile(`\s+`)
	// col IN () / col NOT IN ( ) left by a zero-iteration loop.
	emptyInList = regexp.MustCompile("(?i)[\\w.`]+\\s+(?:NOT\\s+)?IN\\s*\\(\\s*\\)")
	// col IN with no list at all, because the loop owned the parentheses.
	orphanIn = regexp.MustCompile("(?i)[\\w.`]+\\s+(?:NOT\\s+)?IN(\\s*(?:" + clauseEnd + "|\\b(?:AND|OR)\\b))")
	// col = with nothing to compare against.
	orphanCmp        = regexp.MustCompile("(?i)[\\w.`]+\\s*(?:=|<>|!=|<=|>=|<|>|\\bLIKE\\b)(\\s*(?:" + clauseEnd + "|\\b(?:AND|OR)\\b))")
	emptyParens      = regexp.MustCompile(`\(\s*\)`)
	whereConnective  = regexp.MustCompile(`(?i)\bWHERE\s+(?:AND|OR)\b`)
	doubleConnective = regexp.MustCompile(`(?i)\b(AND|OR)\s+(?:AND|OR)\b`)
	openConnective   = regexp.MustCompile(`(?i)\(\s*(?:AND|OR)\b`)
	closeConnective  = regexp.MustCompile(`(?i)\b(?:AND|OR)\s*\)`)
	trailConnective  = regexp.MustCompile(`(?i)\s+(?:AND|OR)(\s*` + clauseEnd + `)`)
	danglingWhere    = regexp.MustCompile(`(?i)\s*\bWHERE(\s*` + clauseEnd + `)`)
	trailingComma    = regexp.MustCompile(`(?i),(\s*(?:$|\)|\b(?:WHERE|FROM|ORDER|GROUP|LIMIT)\b))`)
	leadingComma     = regexp.MustCompile(`(?i)\b(SET|SELECT|BY)\s*,`)
	removableParen   = map[string]bool{"AND": true, "OR": true, "WHERE": true, "NOT": true, "ON": true, "HAVING": true}
)

// Clean applies the mandatory post-processing to an assembled variant:
// no dangling WHERE, no WHERE AND/OR, no IN (), no orphaned "col IN",
// no empty () left by removal, no trailing connective or comma at clause end.
func Clean(sql string) string {
	s := normalize(sql)
	for i := 0; i < maxCleanupPasses; i++ {
		next := cleanPass(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func cleanPass(s string) string {
	s = emptyInList.ReplaceAllString(s, "")
	s = orphanIn.ReplaceAllString(s, "$1")
	s = normalize(s)
	s = collapseEmptyParens(s)
	s = normalize(s)
	s = whereConnective.ReplaceAllString(s, "WHERE")
	s = doubleConnective.ReplaceAllString(s, "$1")
	s = openConnective.ReplaceAllString(s, "(")
	s = closeConnective.ReplaceAllString(s, ")")
	s = orphanCmp.ReplaceAllString(s, "$1")
	s = normalize(s)
	s = trailConnective.ReplaceAllString(s, "$1")
	s = danglingWhere.ReplaceAllString(s, "$1")
	s = trailingComma.ReplaceAllString(s, "$1")
	s = leadingComma.ReplaceAllString(s, "$1")
	return normalize(s)
}

// collapseEmptyParens drops "()" that follows a connective, WHERE, "(" or ","
// but keeps function calls such as NOW().
func collapseEmptyParens(s string) string {
	locs := emptyParens.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		if removableBefore(s[:loc[0]]) {
			b.WriteString(s[last:loc[0]])
			last = loc[1]
		}
	}
	b.WriteString(s[last:])
	return b.String()
}

func removableBefore(prefix string) bool {
	p := strings.TrimRight(prefix, " ")
	if p == "" {
		return true
	}
	switch p[len(p)-1] {
	case '(', ',', '=':
		return true
	}
	if !strings.HasSuffix(prefix, " ") {
		// "fn()" call: no space between name and parens.
		return false
	}
	i := strings.LastIndexAny(p, " (,")
	word := strings.ToUpper(p[i+1:])
	return removableParen[word]
}

func normalize(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "( ", "(")
	s = strings.ReplaceAll(s, " )", ")")
	s = strings.ReplaceAll(s, " ,", ",")
	return strings.TrimSpace(s)
}
