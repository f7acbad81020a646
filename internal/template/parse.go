package template

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"sql-guard/internal/model"
)

// maxIncludeDepth bounds <include> expansion so fragment cycles terminate.
const maxIncludeDepth = 8

// ErrUnknownFragment is returned when an <include> names a missing <sql> fragment.
var ErrUnknownFragment = errors.New("unknown sql fragment")

// ParseError reports malformed template markup.
type ParseError struct {
	Line int
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("template:%d: %s", e.Line, e.Msg)
	}
	return "template: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Options tunes parsing.
type Options struct {
	// Fragments holds reusable <sql id="..."> bodies for <include refid="...">.
	Fragments map[string]string
}

var (
	paramMarker = regexp.MustCompile(`([#$])\{\s*([^}]*?)\s*\}`)
	clauseWord  = regexp.MustCompile(`(?i)\b(SELECT|FROM|JOIN|ON|WHERE|GROUP\s+BY|HAVING|ORDER\s+BY|LIMIT|OFFSET|SET|VALUES|UNION|UPDATE|INTO)\b`)
)

// Parse parses directive markup (the body of a mapper statement element).
func Parse(markup string) (*Template, error) {
	return ParseWithOptions(markup, Options{})
}

// ParseWithOptions parses directive markup, resolving includes from opts.
func ParseWithOptions(markup string, opts Options) (*Template, error) {
	p := &treeParser{opts: opts, clause: model.PositionOther}
	nodes, err := p.parseDocument(markup, 0)
	if err != nil {
		return nil, err
	}
	return &Template{Nodes: nodes}, nil
}

type treeParser struct {
	opts   Options
	clause model.Position
}

func (p *treeParser) parseDocument(markup string, depth int) ([]Node, error) {
	dec := xml.NewDecoder(strings.NewReader("<root>" + markup + "</root>"))
	tok, err := dec.Token()
	if err != nil {
		return nil, wrapSyntax(err)
	}
	if _, ok := tok.(xml.StartElement); !ok {
		return nil, &ParseError{Msg: "unexpected leading token"}
	}
	return p.parseChildren(dec, "root", depth)
}

// parseChildren consumes tokens until the end element named end.
func (p *treeParser) parseChildren(dec *xml.Decoder, end string, depth int) ([]Node, error) {
	var nodes []Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, &ParseError{Msg: fmt.Sprintf("unterminated <%s>", end)}
		}
		if err != nil {
			return nil, wrapSyntax(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			nodes = append(nodes, p.text(string(t))...)
		case xml.EndElement:
			if t.Name.Local != end {
				return nil, p.errorf(dec, "unexpected </%s>", t.Name.Local)
			}
			return nodes, nil
		case xml.StartElement:
			child, err := p.element(dec, t, depth)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, child...)
		case xml.Comment, xml.ProcInst, xml.Directive:
		}
	}
}

func (p *treeParser) element(dec *xml.Decoder, se xml.StartElement, depth int) ([]Node, error) {
	name := strings.ToLower(se.Name.Local)
	switch name {
	case "if":
		body, err := p.parseChildren(dec, se.Name.Local, depth)
		if err != nil {
			return nil, err
		}
		return []Node{&Conditional{Test: attr(se, "test"), Body: body}}, nil
	case "choose":
		c, err := p.choice(dec, se, depth)
		if err != nil {
			return nil, err
		}
		return []Node{c}, nil
	case "foreach":
		saved := p.clause
		body, err := p.parseChildren(dec, se.Name.Local, depth)
		if err != nil {
			return nil, err
		}
		p.clause = saved
		return []Node{&Loop{
			Source:    attr(se, "collection"),
			Item:      attr(se, "item"),
			Open:      attr(se, "open"),
			Close:     attr(se, "close"),
			Separator: attr(se, "separator"),
			Body:      body,
		}}, nil
	case "where":
		p.clause = model.PositionWhere
		body, err := p.parseChildren(dec, se.Name.Local, depth)
		if err != nil {
			return nil, err
		}
		return []Node{&WhereWrapper{Body: body}}, nil
	case "set":
		p.clause = model.PositionOther
		body, err := p.parseChildren(dec, se.Name.Local, depth)
		if err != nil {
			return nil, err
		}
		return append([]Node{&Literal{Text: " SET "}}, body...), nil
	case "trim":
		prefix := strings.TrimSpace(attr(se, "prefix"))
		if strings.EqualFold(prefix, "WHERE") {
			p.clause = model.PositionWhere
			body, err := p.parseChildren(dec, se.Name.Local, depth)
			if err != nil {
				return nil, err
			}
			return []Node{&WhereWrapper{Body: body}}, nil
		}
		var out []Node
		if prefix != "" {
			out = append(out, p.text(" "+prefix+" ")...)
		}
		body, err := p.parseChildren(dec, se.Name.Local, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, body...)
		if suffix := strings.TrimSpace(attr(se, "suffix")); suffix != "" {
			out = append(out, p.text(" "+suffix+" ")...)
		}
		return out, nil
	case "bind":
		if err := dec.Skip(); err != nil {
			return nil, wrapSyntax(err)
		}
		return nil, nil
	case "include":
		if err := dec.Skip(); err != nil {
			return nil, wrapSyntax(err)
		}
		return p.include(dec, attr(se, "refid"), depth)
	default:
		return nil, p.errorf(dec, "unsupported element <%s>", se.Name.Local)
	}
}

func (p *treeParser) choice(dec *xml.Decoder, se xml.StartElement, depth int) (*Choice, error) {
	c := &Choice{}
	saved := p.clause
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, wrapSyntax(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if strings.TrimSpace(string(t)) != "" {
				return nil, p.errorf(dec, "text outside <when>/<otherwise> in <choose>")
			}
		case xml.EndElement:
			return c, nil
		case xml.StartElement:
			p.clause = saved
			switch strings.ToLower(t.Name.Local) {
			case "when":
				body, err := p.parseChildren(dec, t.Name.Local, depth)
				if err != nil {
					return nil, err
				}
				c.Branches = append(c.Branches, Branch{Test: attr(t, "test"), Body: body})
			case "otherwise":
				body, err := p.parseChildren(dec, t.Name.Local, depth)
				if err != nil {
					return nil, err
				}
				c.Default = body
				c.HasDefault = true
			default:
				return nil, p.errorf(dec, "unexpected <%s> in <choose>", t.Name.Local)
			}
		case xml.Comment, xml.ProcInst, xml.Directive:
		}
	}
}

func (p *treeParser) include(dec *xml.Decoder, refid string, depth int) ([]Node, error) {
	if depth >= maxIncludeDepth {
		return nil, p.errorf(dec, "include depth exceeded at %q", refid)
	}
	body, ok := p.opts.Fragments[refid]
	if !ok {
		line, _ := dec.InputPos()
		return nil, &ParseError{Line: line, Msg: fmt.Sprintf("include %q", refid), Err: ErrUnknownFragment}
	}
	return p.parseDocument(body, depth+1)
}

// text splits character data into literals and parameter references,
// tracking the clause each marker sits in.
func (p *treeParser) text(s string) []Node {
	var nodes []Node
	last := 0
	for _, m := range paramMarker.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			lit := s[last:m[0]]
			p.track(lit)
			nodes = append(nodes, &Literal{Text: lit})
		}
		mode := model.SafeBound
		if s[m[2]:m[3]] == "$" {
			mode = model.RawSubstitution
		}
		name := s[m[4]:m[5]]
		if i := strings.IndexByte(name, ','); i >= 0 {
			name = strings.TrimSpace(name[:i])
		}
		nodes = append(nodes, &ParameterRef{Name: name, Mode: mode, Clause: p.clause})
		last = m[1]
	}
	if last < len(s) {
		lit := s[last:]
		p.track(lit)
		nodes = append(nodes, &Literal{Text: lit})
	}
	return nodes
}

func (p *treeParser) track(lit string) {
	matches := clauseWord.FindAllString(lit, -1)
	if len(matches) == 0 {
		return
	}
	kw := strings.ToUpper(strings.Join(strings.Fields(matches[len(matches)-1]), " "))
	switch kw {
	case "SELECT":
		p.clause = model.PositionSelectList
	case "WHERE":
		p.clause = model.PositionWhere
	case "ORDER BY":
		p.clause = model.PositionOrderBy
	case "LIMIT", "OFFSET":
		p.clause = model.PositionLimit
	default:
		p.clause = model.PositionOther
	}
}

func (p *treeParser) errorf(dec *xml.Decoder, format string, args ...any) error {
	line, _ := dec.InputPos()
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

func wrapSyntax(err error) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return &ParseError{Line: se.Line, Msg: se.Msg, Err: err}
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{Msg: err.Error(), Err: err}
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
