package parse

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zoobzio/fetchz"
	"golang.org/x/text/encoding/ianaindex"
)

var (
	errNoRoot       = errors.New("document has no root element")
	errTrailingRoot = errors.New("junk after document element")
)

// element is one node of a parsed XML document. text is the character data
// found before the first child, as it appears in the document.
type element struct {
	tag      string
	text     strings.Builder
	children []*element
}

// XML returns a stage that parses an XML document into plain values.
//
// An element whose leading text is not blank becomes that text. Any other
// element becomes a Record keyed by child tag; a tag repeated among siblings
// maps to a slice of the children's values in document order. A childless,
// textless element becomes "". Attributes are ignored.
//
// With an empty Tag the result holds a single Record keyed by the root tag.
// Otherwise the document is searched breadth-first, level by level, and the
// values of the elements named Tag found on the shallowest level that has
// any are returned:
//
//	items := parse.XML(parse.Options{Tag: "listing"})
func XML(opts Options) fetchz.Processor[[]byte, []any] {
	tag := opts.Tag
	return fetchz.Apply("parse_xml", func(_ context.Context, data []byte) ([]any, error) {
		root, err := parseTree(data)
		if err != nil {
			return nil, err
		}
		if tag == "" {
			return []any{fetchz.Record{root.tag: root.value()}}, nil
		}

		found := findDeep(root, tag)
		out := make([]any, len(found))
		for i, e := range found {
			out[i] = e.value()
		}
		return out, nil
	})
}

func parseTree(data []byte) (*element, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charsetReader
	var root *element
	var stack []*element

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, xmlError(err, d.InputOffset())
		}

		switch t := tok.(type) {
		case xml.StartElement:
			e := &element{tag: t.Name.Local}
			if len(stack) == 0 {
				if root != nil {
					return nil, xmlError(errTrailingRoot, d.InputOffset())
				}
				root = e
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, e)
			}
			stack = append(stack, e)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			if top := stack[len(stack)-1]; len(top.children) == 0 {
				top.text.Write(t)
			}
		}
	}

	if root == nil {
		return nil, xmlError(errNoRoot, d.InputOffset())
	}
	return root, nil
}

// charsetReader decodes documents declared in a non UTF-8 encoding such as
// ISO-8859-1 or windows-1252.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

func xmlError(err error, offset int64) error {
	line := -1
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		line = syntaxErr.Line
	}
	return &fetchz.ParseError{Format: "xml", Line: line, Offset: offset, Err: err}
}

func (e *element) value() any {
	text := e.text.String()
	if strings.TrimSpace(text) != "" {
		return text
	}
	if len(e.children) == 0 {
		return ""
	}

	counts := make(map[string]int, len(e.children))
	for _, c := range e.children {
		counts[c.tag]++
	}

	record := make(fetchz.Record, len(counts))
	for _, c := range e.children {
		if counts[c.tag] == 1 {
			record[c.tag] = c.value()
			continue
		}
		values, _ := record[c.tag].([]any)
		record[c.tag] = append(values, c.value())
	}
	return record
}

func findDeep(root *element, tag string) []*element {
	level := []*element{root}
	for len(level) > 0 {
		var found, next []*element
		for _, branch := range level {
			matched := false
			for _, c := range branch.children {
				if c.tag == tag {
					found = append(found, c)
					matched = true
				}
			}
			if !matched {
				next = append(next, branch.children...)
			}
		}
		if len(found) > 0 {
			return found
		}
		level = next
	}
	return nil
}
