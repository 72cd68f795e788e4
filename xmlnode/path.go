package xmlnode

import (
	"fmt"
	"strings"
)

// seg is one path segment with an optional attribute predicate.
type seg struct{ name, attrName, attrVal string }

// Path is a compiled lookup like "shipping/price[@currency='EUR']" or
// "image/@url", relative to the node it is applied to.
type Path struct {
	raw  string
	segs []seg
	attr string // trailing @attr, read from the matched element
}

// String returns the path as written.
func (p Path) String() string { return p.raw }

// CompilePath parses a relative path. Each segment may carry one
// [@name='value'] predicate; the last segment may be "@name" to select an
// attribute instead of element text.
func CompilePath(raw string) (Path, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Path{}, fmt.Errorf("empty path")
	}
	p := Path{raw: trimmed}
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return Path{}, fmt.Errorf("bad empty segment in %q", raw)
		}
		if strings.HasPrefix(part, "@") {
			if i != len(parts)-1 || len(part) == 1 {
				return Path{}, fmt.Errorf("attribute selector must be the last segment in %q", raw)
			}
			p.attr = part[1:]
			continue
		}
		s := seg{name: part}
		if j := strings.Index(part, "["); j != -1 {
			if !strings.HasSuffix(part, "]") {
				return Path{}, fmt.Errorf("unterminated predicate in %q", raw)
			}
			s.name = part[:j]
			pred := strings.TrimSpace(part[j+1 : len(part)-1])
			eq := strings.Index(pred, "=")
			if !strings.HasPrefix(pred, "@") || eq < 2 {
				return Path{}, fmt.Errorf("predicate must look like [@name='value'] in %q", raw)
			}
			s.attrName = strings.TrimSpace(pred[1:eq])
			s.attrVal = strings.Trim(strings.TrimSpace(pred[eq+1:]), `"'`)
		}
		if s.name == "" {
			return Path{}, fmt.Errorf("bad empty element name in %q", raw)
		}
		p.segs = append(p.segs, s)
	}
	return p, nil
}

// MustCompilePath is CompilePath that panics on error, for static paths.
func MustCompilePath(raw string) Path {
	p, err := CompilePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (s seg) matches(n *Node) bool {
	if n.Name != s.name {
		return false
	}
	if s.attrName == "" {
		return true
	}
	v, ok := n.Attr(s.attrName)
	return ok && v == s.attrVal
}

// Find returns the first value the path selects, in document order.
func (n *Node) Find(p Path) (string, bool) {
	var (
		out   string
		found bool
	)
	n.walk(p, 0, func(v string) bool {
		out, found = v, true
		return false
	})
	return out, found
}

// FindAll returns every value the path selects, in document order.
func (n *Node) FindAll(p Path) []string {
	var out []string
	n.walk(p, 0, func(v string) bool {
		out = append(out, v)
		return true
	})
	return out
}

// walk visits matches of p.segs[depth:] under n; emit returns false to stop.
func (n *Node) walk(p Path, depth int, emit func(string) bool) bool {
	if depth == len(p.segs) {
		if p.attr != "" {
			v, ok := n.Attr(p.attr)
			if !ok {
				return true
			}
			return emit(v)
		}
		return emit(n.Text)
	}
	for _, c := range n.Children {
		if !p.segs[depth].matches(c) {
			continue
		}
		if !c.walk(p, depth+1, emit) {
			return false
		}
	}
	return true
}
