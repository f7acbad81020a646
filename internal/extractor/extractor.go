package extractor

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sql-guard/internal/model"
)

// RegexExtractor finds SQL string literals in host-language source files.
type RegexExtractor struct {
	language string
}

func NewRegexExtractor(language string) *RegexExtractor {
	return &RegexExtractor{language: language}
}

// Patterns for different quote types
// Note: We use non-greedy *? to stop at the first closing quote
// We can't use backreferences in Go regexp (RE2)
var (
	doubleQuoteSQL = regexp.MustCompile(`"(?i)(?:SELECT|INSERT|UPDATE|DELETE)\b.*?"`)
	singleQuoteSQL = regexp.MustCompile(`'(?i)(?:SELECT|INSERT|UPDATE|DELETE)\b.*?'`)
	backTickSQL    = regexp.MustCompile("`(?i)(?:SELECT|INSERT|UPDATE|DELETE)\\b.*?`")

	leadingKeyword = regexp.MustCompile(`^\s*(\w+)`)
)

func (e *RegexExtractor) Extract(filePath string, content []byte) ([]model.SQLSegment, error) {
	var segments []model.SQLSegment

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		for _, re := range []*regexp.Regexp{doubleQuoteSQL, singleQuoteSQL, backTickSQL} {
			for _, match := range re.FindAllString(line, -1) {
				if len(match) < 2 {
					continue
				}
				// Strip quotes
				sqlContent := match[1 : len(match)-1]
				segments = append(segments, model.SQLSegment{
					SQL:         sqlContent,
					CommandType: commandOf(sqlContent),
					Location: model.Location{
						FilePath: filePath,
						Line:     lineNo,
					},
					Language: e.language,
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return segments, fmt.Errorf("read %s: %w", filePath, err)
	}
	return segments, nil
}

// commandOf classifies SQL text by its leading keyword.
func commandOf(sql string) model.CommandType {
	m := leadingKeyword.FindStringSubmatch(sql)
	if m == nil {
		return model.CommandUnknown
	}
	return model.ParseCommandType(m[1])
}

// Manager selects the appropriate extractor based on file extension
type Manager struct {
	extractors map[string]model.Extractor
	fallback   model.Extractor
}

func NewManager() *Manager {
	return &Manager{
		extractors: make(map[string]model.Extractor),
		fallback:   NewRegexExtractor("detected"),
	}
}

// NewDefaultManager registers the extractors for every supported source type.
func NewDefaultManager() *Manager {
	m := NewManager()
	m.Register("go", NewRegexExtractor("go"))
	m.Register("py", NewRegexExtractor("python"))
	m.Register("cpp", NewRegexExtractor("cpp"))
	m.Register("sql", NewScriptExtractor())
	m.Register("xml", NewMapperExtractor())
	return m
}

func (m *Manager) Register(ext string, extr model.Extractor) {
	m.extractors[strings.ToLower(strings.TrimPrefix(ext, "."))] = extr
}

// Extensions lists the registered file extensions.
func (m *Manager) Extensions() []string {
	exts := make([]string, 0, len(m.extractors))
	for ext := range m.extractors {
		exts = append(exts, ext)
	}
	return exts
}

func (m *Manager) Extract(filePath string) ([]model.SQLSegment, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filePath), "."))
	if extr, ok := m.extractors[ext]; ok {
		return extr.Extract(filePath, content)
	}
	return m.fallback.Extract(filePath, content)
}
