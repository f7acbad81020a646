package extractor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"sql-guard/internal/model"
)

// MapperExtractor reads MyBatis-style mapper files. Every <select>, <insert>,
// <update> and <delete> element becomes one template segment whose statement
// id is "namespace.id". <sql id> fragments are handed along for <include>.
type MapperExtractor struct{}

func NewMapperExtractor() *MapperExtractor {
	return &MapperExtractor{}
}

type rawElement struct {
	id     string
	body   string
	line   int
	cmd    model.CommandType
	isFrag bool
}

func (e *MapperExtractor) Extract(filePath string, content []byte) ([]model.SQLSegment, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.Strict = true

	var (
		namespace string
		elements  []rawElement
		inMapper  bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filePath, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		name := strings.ToLower(se.Name.Local)
		if !inMapper {
			if name != "mapper" {
				// not a mapper document
				return nil, nil
			}
			inMapper = true
			namespace = attrValue(se, "namespace")
			continue
		}

		var el rawElement
		switch name {
		case "select", "insert", "update", "delete":
			el.cmd = model.ParseCommandType(name)
		case "sql":
			el.isFrag = true
		default:
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("%s: %w", filePath, err)
			}
			continue
		}
		el.id = attrValue(se, "id")
		el.line, _ = dec.InputPos()
		body, err := innerXML(dec, content)
		if err != nil {
			return nil, fmt.Errorf("%s: <%s id=%q>: %w", filePath, se.Name.Local, el.id, err)
		}
		el.body = body
		elements = append(elements, el)
	}

	fragments := make(map[string]string)
	for _, el := range elements {
		if el.isFrag && el.id != "" {
			fragments[el.id] = el.body
			if namespace != "" {
				fragments[namespace+"."+el.id] = el.body
			}
		}
	}

	var segments []model.SQLSegment
	for _, el := range elements {
		if el.isFrag {
			continue
		}
		id := el.id
		if namespace != "" && id != "" {
			id = namespace + "." + id
		}
		segments = append(segments, model.SQLSegment{
			Template:    el.body,
			StatementID: id,
			CommandType: el.cmd,
			Location:    model.Location{FilePath: filePath, Line: el.line},
			Language:    "xml",
			Fragments:   fragments,
		})
	}
	return segments, nil
}

// innerXML returns the raw markup between the start element just read and
// its matching end element.
func innerXML(dec *xml.Decoder, content []byte) (string, error) {
	start := dec.InputOffset()
	depth := 1
	for {
		before := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				return string(content[start:before]), nil
			}
		}
	}
}

func attrValue(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
