package source

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Selector is a compiled subset of CSS selectors:
//   - tag, .class, #id and [attr] / [attr=val], compounded as in "tr.zA.x[data-id]"
//   - descendant combinator (whitespace): "table tr.zA"
//   - selector lists: ".yP, .zF"
//
// Matches are returned in document order, like querySelectorAll.
type Selector struct {
	src  string
	alts [][]compound
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

type attrMatch struct {
	key    string
	val    string
	hasVal bool
}

// CompileSelector parses sel. It rejects combinators and pseudo-classes outside the supported subset.
func CompileSelector(sel string) (*Selector, error) {
	s := &Selector{src: sel}
	for _, alt := range strings.Split(sel, ",") {
		parts := strings.Fields(alt)
		if len(parts) == 0 {
			return nil, fmt.Errorf("selector %q: empty alternative", sel)
		}
		chain := make([]compound, 0, len(parts))
		for _, p := range parts {
			c, err := parseCompound(p)
			if err != nil {
				return nil, fmt.Errorf("selector %q: %w", sel, err)
			}
			chain = append(chain, c)
		}
		s.alts = append(s.alts, chain)
	}
	return s, nil
}

func (s *Selector) String() string { return s.src }

// MatchAll returns every element below root (root excluded) that matches, in document order.
func (s *Selector) MatchAll(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if s.matches(c, root) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// MatchFirst returns the first matching element below root in document order, or nil.
func (s *Selector) MatchFirst(root *html.Node) *html.Node {
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if s.matches(c, root) {
				found = c
				return true
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)
	return found
}

// matches tests n against each alternative right to left; ancestors are searched up to, not including, scope.
func (s *Selector) matches(n, scope *html.Node) bool {
	for _, chain := range s.alts {
		if matchChain(n, scope, chain) {
			return true
		}
	}
	return false
}

func matchChain(n, scope *html.Node, chain []compound) bool {
	last := len(chain) - 1
	if !chain[last].match(n) {
		return false
	}
	cur := n
	for i := last - 1; i >= 0; i-- {
		cur = cur.Parent
		for cur != nil && cur != scope && !chain[i].match(cur) {
			cur = cur.Parent
		}
		if cur == nil || cur == scope {
			return false
		}
	}
	return true
}

func (c compound) match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range c.classes {
			if !slices.Contains(have, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		v, ok := lookupAttr(n, a.key)
		if !ok || (a.hasVal && v != a.val) {
			return false
		}
	}
	return true
}

func parseCompound(p string) (compound, error) {
	var c compound
	if strings.ContainsAny(p, ">+~:") {
		return c, fmt.Errorf("unsupported syntax in %q", p)
	}
	// Attribute parts first: they may contain '.' or '#' inside values.
	for {
		open := strings.IndexByte(p, '[')
		if open < 0 {
			break
		}
		end := strings.IndexByte(p[open:], ']')
		if end < 0 {
			return c, fmt.Errorf("unterminated attribute in %q", p)
		}
		body := p[open+1 : open+end]
		p = p[:open] + p[open+end+1:]
		var a attrMatch
		if k, v, ok := strings.Cut(body, "="); ok {
			a = attrMatch{key: strings.TrimSpace(k), val: strings.Trim(strings.TrimSpace(v), `"'`), hasVal: true}
		} else {
			a = attrMatch{key: strings.TrimSpace(body)}
		}
		if a.key == "" {
			return c, fmt.Errorf("empty attribute name in %q", p)
		}
		c.attrs = append(c.attrs, a)
	}

	i := strings.IndexAny(p, ".#")
	if i < 0 {
		c.tag = strings.ToLower(p)
		return c, nil
	}
	c.tag = strings.ToLower(p[:i])
	rest := p[i:]
	for rest != "" {
		kind := rest[0]
		rest = rest[1:]
		j := strings.IndexAny(rest, ".#")
		if j < 0 {
			j = len(rest)
		}
		name := rest[:j]
		rest = rest[j:]
		if name == "" {
			return c, fmt.Errorf("empty class or id in %q", p)
		}
		if kind == '.' {
			c.classes = append(c.classes, name)
		} else {
			c.id = name
		}
	}
	return c, nil
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

// hasClass reports whether n carries class c.
func hasClass(n *html.Node, c string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), c)
}

// innerText concatenates the text below n, collapsing whitespace runs to single spaces.
// Script and style contents are skipped.
func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
