package memdom

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// XPath subset, enough for the paths recorded by DOM observers and written
// by hand in tour definitions:
//
//	/html/body/div[2]/button
//	//form//input[@name='email']
//	//*[@id="save"]
//	(//button)[3]
//
// Steps are child (/) or descendant (//); node tests are a tag name or *;
// predicates are a 1-based position, [@attr] or [@attr='value'].

type xstep struct {
	deep  bool
	name  string
	preds []xpred
}

type xpred struct {
	pos    int
	attr   string
	val    string
	hasVal bool
}

type xpath struct {
	steps []xstep
	// outerPos applies to the whole result set, as in (//a)[2].
	outerPos int
}

func compileXPath(src string) (xpath, error) {
	var xp xpath
	src = strings.TrimSpace(src)
	if strings.HasPrefix(src, "(") {
		end := strings.LastIndexByte(src, ')')
		if end < 0 {
			return xp, fmt.Errorf("memdom: unbalanced parenthesis in %q", src)
		}
		rest := strings.TrimSpace(src[end+1:])
		if rest != "" {
			if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
				return xp, fmt.Errorf("memdom: bad trailing predicate in %q", src)
			}
			n, err := strconv.Atoi(rest[1 : len(rest)-1])
			if err != nil || n < 1 {
				return xp, fmt.Errorf("memdom: bad position in %q", src)
			}
			xp.outerPos = n
		}
		src = src[1:end]
	}
	src = strings.TrimPrefix(src, ".")
	if !strings.HasPrefix(src, "/") {
		return xp, fmt.Errorf("memdom: xpath %q must be absolute", src)
	}

	for len(src) > 0 {
		var st xstep
		if strings.HasPrefix(src, "//") {
			st.deep = true
			src = src[2:]
		} else if strings.HasPrefix(src, "/") {
			src = src[1:]
		} else {
			return xp, fmt.Errorf("memdom: expected / in xpath near %q", src)
		}
		end := stepEnd(src)
		body := src[:end]
		src = src[end:]

		name := body
		if i := strings.IndexByte(body, '['); i >= 0 {
			name = body[:i]
			preds, err := parsePreds(body[i:])
			if err != nil {
				return xp, err
			}
			st.preds = preds
		}
		if name == "" {
			return xp, fmt.Errorf("memdom: empty step in xpath")
		}
		if name != "*" && scanIdent(name, 0) != len(name) {
			return xp, fmt.Errorf("memdom: unsupported node test %q", name)
		}
		st.name = strings.ToLower(name)
		xp.steps = append(xp.steps, st)
	}
	if len(xp.steps) == 0 {
		return xp, fmt.Errorf("memdom: empty xpath")
	}
	return xp, nil
}

// stepEnd finds the next '/' outside a predicate.
func stepEnd(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '/':
			if depth == 0 {
				return i
			}
		}
	}
	return len(s)
}

func parsePreds(s string) ([]xpred, error) {
	var preds []xpred
	for len(s) > 0 {
		if s[0] != '[' {
			return nil, fmt.Errorf("memdom: bad predicate %q", s)
		}
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, fmt.Errorf("memdom: unterminated predicate %q", s)
		}
		body := strings.TrimSpace(s[1:end])
		s = s[end+1:]

		if n, err := strconv.Atoi(body); err == nil {
			if n < 1 {
				return nil, fmt.Errorf("memdom: position must be >= 1")
			}
			preds = append(preds, xpred{pos: n})
			continue
		}
		if !strings.HasPrefix(body, "@") {
			return nil, fmt.Errorf("memdom: unsupported predicate [%s]", body)
		}
		body = body[1:]
		var p xpred
		if eq := strings.IndexByte(body, '='); eq >= 0 {
			p.attr = strings.TrimSpace(body[:eq])
			p.val = strings.Trim(strings.TrimSpace(body[eq+1:]), `"'`)
			p.hasVal = true
		} else {
			p.attr = body
		}
		if p.attr == "" {
			return nil, fmt.Errorf("memdom: empty attribute predicate")
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func (xp xpath) evaluate(root *html.Node) []*html.Node {
	ctx := []*html.Node{root}
	for _, st := range xp.steps {
		var next []*html.Node
		seen := make(map[*html.Node]bool)
		for _, c := range ctx {
			for _, n := range st.apply(c) {
				if !seen[n] {
					seen[n] = true
					next = append(next, n)
				}
			}
		}
		ctx = next
		if len(ctx) == 0 {
			return nil
		}
	}
	if xp.outerPos > 0 {
		ordered := documentOrder(root, ctx)
		if xp.outerPos > len(ordered) {
			return nil
		}
		return ordered[xp.outerPos-1 : xp.outerPos]
	}
	return documentOrder(root, ctx)
}

// apply evaluates one step from context node c. Positional predicates count
// among the candidates sharing a parent, matching XPath's child-axis rules.
func (st xstep) apply(c *html.Node) []*html.Node {
	var parents []*html.Node
	if st.deep {
		walk(c, func(n *html.Node) { parents = append(parents, n) })
	} else {
		parents = []*html.Node{c}
	}
	var out []*html.Node
	for _, p := range parents {
		var cands []*html.Node
		for ch := p.FirstChild; ch != nil; ch = ch.NextSibling {
			if ch.Type == html.ElementNode && (st.name == "*" || ch.Data == st.name) {
				cands = append(cands, ch)
			}
		}
		for _, pr := range st.preds {
			cands = pr.filter(cands)
		}
		out = append(out, cands...)
	}
	return out
}

func (p xpred) filter(nodes []*html.Node) []*html.Node {
	if p.pos > 0 {
		if p.pos > len(nodes) {
			return nil
		}
		return nodes[p.pos-1 : p.pos]
	}
	var out []*html.Node
	for _, n := range nodes {
		v, ok := lookupAttr(n, p.attr)
		if ok && (!p.hasVal || v == p.val) {
			out = append(out, n)
		}
	}
	return out
}

func documentOrder(root *html.Node, set []*html.Node) []*html.Node {
	if len(set) <= 1 {
		return set
	}
	in := make(map[*html.Node]bool, len(set))
	for _, n := range set {
		in[n] = true
	}
	out := make([]*html.Node, 0, len(set))
	walk(root, func(n *html.Node) {
		if in[n] {
			out = append(out, n)
		}
	})
	return out
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// pathOf renders the absolute XPath of n, with sibling indexes only where a
// tag repeats under the same parent.
func pathOf(n *html.Node) string {
	var parts []string
	for ; n != nil && n.Type == html.ElementNode; n = n.Parent {
		idx, total := 0, 0
		if n.Parent != nil {
			for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
				if s.Type == html.ElementNode && s.Data == n.Data {
					total++
					if s == n {
						idx = total
					}
				}
			}
		}
		if total > 1 {
			parts = append(parts, fmt.Sprintf("%s[%d]", n.Data, idx))
		} else {
			parts = append(parts, n.Data)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}
