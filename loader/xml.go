package loader

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
	"github.com/razeghi71/feedflow/xmlnode"
)

// DefaultNodeColumn holds the structured node in XMLNodes rows.
const DefaultNodeColumn = "node"

// XMLNodes is a source emitting one row per element matched by
// NodeSelector, a slash-separated element path from the document root such
// as "products/product". A selector starting with "//" matches at any
// depth, so "//product" also finds products nested in other elements.
// Matched elements are not searched for further matches.
type XMLNodes struct {
	Path         string
	NodeSelector string
	Column       string // defaults to DefaultNodeColumn
}

// Read parses the document at Path.
func (x XMLNodes) Read(ctx context.Context) (*table.Table, error) {
	f, err := os.Open(x.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", x.Path, err)
	}
	defer f.Close()

	t, err := x.Decode(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", x.Path, err)
	}
	return t, nil
}

func (x XMLNodes) String() string { return x.Path + "#" + x.NodeSelector }

// Decode reads matching nodes from r. Documents declaring a non-UTF-8
// encoding in their prolog are transcoded.
func (x XMLNodes) Decode(ctx context.Context, r io.Reader) (*table.Table, error) {
	sel, err := parseSelector(x.NodeSelector)
	if err != nil {
		return nil, err
	}
	column := x.Column
	if column == "" {
		column = DefaultNodeColumn
	}

	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader

	t := table.NewTable([]string{column})
	var stack []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			stack = append(stack, el.Name.Local)
			if !sel.matches(stack) {
				continue
			}
			node, err := xmlnode.Decode(dec, el)
			if err != nil {
				return nil, fmt.Errorf("xml: %w", err)
			}
			stack = stack[:len(stack)-1] // Decode consumed the end element
			t.AddRow([]table.Value{table.NodeVal(node)})
			if t.Len()%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return t, nil
}

type selector struct {
	parts    []string
	anywhere bool
}

func parseSelector(s string) (selector, error) {
	s = strings.TrimSpace(s)
	sel := selector{anywhere: strings.HasPrefix(s, "//")}
	s = strings.Trim(s, "/")
	if s == "" {
		return sel, etlerr.Configf("xml: empty node selector")
	}
	sel.parts = strings.Split(s, "/")
	for _, p := range sel.parts {
		if strings.TrimSpace(p) == "" {
			return sel, etlerr.Configf("xml: bad node selector %q", s)
		}
	}
	return sel, nil
}

// matches reports whether the open elements in stack, outermost first,
// are selected.
func (s selector) matches(stack []string) bool {
	if len(stack) < len(s.parts) || (!s.anywhere && len(stack) != len(s.parts)) {
		return false
	}
	off := len(stack) - len(s.parts)
	for i, name := range s.parts {
		if stack[off+i] != name {
			return false
		}
	}
	return true
}

// charsetReader resolves encodings by their WHATWG label, the same table
// browsers use for feeds in the wild (latin1, windows-1252, shift_jis, ...).
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}
