package memdom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Supported CSS subset:
//   - tag, *, #id, .class (repeatable), [attr], [attr=val], [attr="val"]
//   - descendant (space) and child (>) combinators
//   - selector lists separated by commas
//
// Anything else (pseudo-classes, sibling combinators, stray punctuation) is a
// parse error, which callers treat as "not found".

type compound struct {
	tag     string // "" or "*" matches any element
	id      string
	classes []string
	attrs   []attrMatch
}

type attrMatch struct {
	key    string
	val    string
	hasVal bool
}

type combinator byte

const (
	descendant combinator = ' '
	child      combinator = '>'
)

// chain is one complex selector, stored left to right. combs[i] joins
// parts[i] and parts[i+1].
type chain struct {
	parts []compound
	combs []combinator
}

type selector []chain

func compileSelector(src string) (selector, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("memdom: empty selector")
	}
	var sel selector
	for _, item := range strings.Split(src, ",") {
		c, err := compileChain(item)
		if err != nil {
			return nil, err
		}
		sel = append(sel, c)
	}
	return sel, nil
}

func compileChain(src string) (chain, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return chain{}, fmt.Errorf("memdom: empty selector in list")
	}
	// Normalise "a>b" into "a > b" so Fields splits combinators out.
	src = strings.ReplaceAll(src, ">", " > ")
	fields := strings.Fields(src)

	var c chain
	pending := descendant
	expectPart := true
	for _, f := range fields {
		if f == ">" {
			if expectPart {
				return chain{}, fmt.Errorf("memdom: dangling combinator in %q", src)
			}
			pending = child
			expectPart = true
			continue
		}
		p, err := parseCompound(f)
		if err != nil {
			return chain{}, err
		}
		if len(c.parts) > 0 {
			c.combs = append(c.combs, pending)
		}
		c.parts = append(c.parts, p)
		pending = descendant
		expectPart = false
	}
	if expectPart {
		return chain{}, fmt.Errorf("memdom: selector %q ends with a combinator", src)
	}
	return c, nil
}

func parseCompound(s string) (compound, error) {
	var p compound
	i := 0
	if i < len(s) && s[i] == '*' {
		p.tag = "*"
		i++
	} else {
		j := scanIdent(s, i)
		p.tag = strings.ToLower(s[i:j])
		i = j
	}
	for i < len(s) {
		switch s[i] {
		case '#':
			j := scanIdent(s, i+1)
			if j == i+1 {
				return p, fmt.Errorf("memdom: empty id in %q", s)
			}
			p.id = s[i+1 : j]
			i = j
		case '.':
			j := scanIdent(s, i+1)
			if j == i+1 {
				return p, fmt.Errorf("memdom: empty class in %q", s)
			}
			p.classes = append(p.classes, s[i+1:j])
			i = j
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return p, fmt.Errorf("memdom: unterminated attribute in %q", s)
			}
			body := s[i+1 : i+end]
			m, err := parseAttr(body)
			if err != nil {
				return p, err
			}
			p.attrs = append(p.attrs, m)
			i += end + 1
		default:
			return p, fmt.Errorf("memdom: unsupported token %q in %q", s[i], s)
		}
	}
	if p.tag == "" && p.id == "" && len(p.classes) == 0 && len(p.attrs) == 0 {
		return p, fmt.Errorf("memdom: empty compound selector")
	}
	return p, nil
}

func parseAttr(body string) (attrMatch, error) {
	var m attrMatch
	if eq := strings.IndexByte(body, '='); eq >= 0 {
		m.key = strings.TrimSpace(body[:eq])
		m.val = strings.Trim(strings.TrimSpace(body[eq+1:]), `"'`)
		m.hasVal = true
	} else {
		m.key = strings.TrimSpace(body)
	}
	if m.key == "" || scanIdent(m.key, 0) != len(m.key) {
		return m, fmt.Errorf("memdom: bad attribute selector [%s]", body)
	}
	return m, nil
}

func scanIdent(s string, i int) int {
	for i < len(s) {
		c := s[i]
		if c == '-' || c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			i++
			continue
		}
		break
	}
	return i
}

func (p compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if p.tag != "" && p.tag != "*" && n.Data != p.tag {
		return false
	}
	if p.id != "" && getAttr(n, "id") != p.id {
		return false
	}
	if len(p.classes) > 0 {
		have := strings.Fields(getAttr(n, "class"))
		for _, want := range p.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	for _, a := range p.attrs {
		v, ok := lookupAttr(n, a.key)
		if !ok || a.hasVal && v != a.val {
			return false
		}
	}
	return true
}

func (s selector) matches(n *html.Node) bool {
	for _, c := range s {
		if c.matchAt(n, len(c.parts)-1) {
			return true
		}
	}
	return false
}

// matchAt reports whether n matches parts[i] and its ancestors satisfy
// parts[:i] under the recorded combinators.
func (c chain) matchAt(n *html.Node, i int) bool {
	if !c.parts[i].matches(n) {
		return false
	}
	if i == 0 {
		return true
	}
	switch c.combs[i-1] {
	case child:
		return n.Parent != nil && c.matchAt(n.Parent, i-1)
	default:
		for a := n.Parent; a != nil; a = a.Parent {
			if c.matchAt(a, i-1) {
				return true
			}
		}
		return false
	}
}

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
