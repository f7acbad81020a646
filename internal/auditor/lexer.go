package auditor

// tokenKind classifies a position found outside quoted literals.
type tokenKind int

const (
	tokSemicolon tokenKind = iota
	tokLineComment
	tokHashComment
	tokBlockComment
	tokHintComment
	tokVersionComment
)

type lexToken struct {
	kind tokenKind
	pos  int
}

// scanOutsideLiterals reports semicolons and comment openers that sit outside
// '...', "..." and `...` literals. Backslash and doubled-quote escapes are
// both honoured. The scan stops inside an unterminated literal.
func scanOutsideLiterals(sql string) []lexToken {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateBacktick
		stateBlockComment
	)

	var toks []lexToken
	state := stateNormal
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch state {
		case stateNormal:
			switch c {
			case ';':
				toks = append(toks, lexToken{tokSemicolon, i})
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			case '`':
				state = stateBacktick
			case '#':
				toks = append(toks, lexToken{tokHashComment, i})
				i = skipLine(sql, i)
			case '-':
				if i+1 < len(sql) && sql[i+1] == '-' {
					toks = append(toks, lexToken{tokLineComment, i})
					i = skipLine(sql, i)
				}
			case '/':
				if i+1 < len(sql) && sql[i+1] == '*' {
					kind := tokBlockComment
					if i+2 < len(sql) {
						switch sql[i+2] {
						case '!':
							kind = tokVersionComment
						case '+':
							kind = tokHintComment
						}
					}
					toks = append(toks, lexToken{kind, i})
					state = stateBlockComment
					i++
				}
			}
		case stateSingleQuote, stateDoubleQuote, stateBacktick:
			quote := byte('\'')
			if state == stateDoubleQuote {
				quote = '"'
			} else if state == stateBacktick {
				quote = '`'
			}
			if c == '\\' && state != stateBacktick {
				i++
				continue
			}
			if c == quote {
				if i+1 < len(sql) && sql[i+1] == quote {
					i++
					continue
				}
				state = stateNormal
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				state = stateNormal
				i++
			}
		}
	}
	return toks
}

func skipLine(sql string, i int) int {
	for i < len(sql) && sql[i] != '\n' {
		i++
	}
	return i
}
