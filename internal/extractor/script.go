package extractor

import (
	"strings"

	"sql-guard/internal/model"
)

// ScriptExtractor splits a .sql file into statements on semicolons that sit
// outside quotes and comments. Each segment is located at the line its first
// token starts on.
type ScriptExtractor struct{}

func NewScriptExtractor() *ScriptExtractor {
	return &ScriptExtractor{}
}

func (e *ScriptExtractor) Extract(filePath string, content []byte) ([]model.SQLSegment, error) {
	var segments []model.SQLSegment
	emit := func(stmt string, line int) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			return
		}
		segments = append(segments, model.SQLSegment{
			SQL:         stmt,
			CommandType: commandOf(stmt),
			Location:    model.Location{FilePath: filePath, Line: line},
			Language:    "sql",
		})
	}

	src := string(content)
	var sb strings.Builder
	line, startLine := 1, 0
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if startLine == 0 && !isSpace(c) && quote == 0 && !commentStart(src, i) {
			startLine = line
		}
		if c == '\n' {
			line++
		}
		switch {
		case quote != 0:
			sb.WriteByte(c)
			if c == '\\' && quote != '`' && i+1 < len(src) {
				i++
				sb.WriteByte(src[i])
				if src[i] == '\n' {
					line++
				}
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
			sb.WriteByte(c)
		case commentStart(src, i):
			if src[i] == '/' {
				end := strings.Index(src[i+2:], "*/")
				if end < 0 {
					end = len(src) - i - 2
				}
				skipped := src[i : i+2+end]
				line += strings.Count(skipped, "\n")
				i += 2 + end + 1
			} else {
				for i < len(src) && src[i] != '\n' {
					i++
				}
				if i < len(src) {
					line++
				}
			}
			sb.WriteByte(' ')
		case c == ';':
			emit(sb.String(), startLine)
			sb.Reset()
			startLine = 0
		default:
			sb.WriteByte(c)
		}
	}
	emit(sb.String(), startLine)
	return segments, nil
}

// commentStart reports a '--', '#' or '/*' comment opener at src[i].
func commentStart(src string, i int) bool {
	switch src[i] {
	case '#':
		return true
	case '-':
		return i+1 < len(src) && src[i+1] == '-'
	case '/':
		return i+1 < len(src) && src[i+1] == '*'
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
