package page

import "strings"

// Node is one element in the mirrored page tree. The browser companion
// script streams structural updates; nothing in this process creates page
// content on its own.
type Node struct {
	Ref     string
	Tag     string
	ID      string
	Classes []string
	Text    string

	Parent   *Node
	Children []*Node
}

// Selector is a minimal CSS-style selector: space-separated descendant
// parts, each a tag name, "#id", ".class", or a combination like
// "div.captions". This covers what caption container discovery needs;
// anything fancier belongs in the companion script.
type Selector string

func (n *Node) HasClass(class string) bool {
	for _, c := range n.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// TextContent returns the node's own text followed by the text of all
// descendants, in tree order, joined with single spaces.
func (n *Node) TextContent() string {
	var parts []string
	n.walk(func(d *Node) bool {
		if t := strings.TrimSpace(d.Text); t != "" {
			parts = append(parts, t)
		}
		return true
	})
	return strings.Join(parts, " ")
}

// Contains reports whether other is n or a descendant of n.
func (n *Node) Contains(other *Node) bool {
	for cur := other; cur != nil; cur = cur.Parent {
		if cur == n {
			return true
		}
	}
	return false
}

// Query returns the first descendant of n (excluding n itself) matching
// the selector, in depth-first order, or nil.
func (n *Node) Query(sel Selector) *Node {
	var found *Node
	parts := strings.Fields(string(sel))
	if len(parts) == 0 {
		return nil
	}
	n.walk(func(d *Node) bool {
		if d == n {
			return true
		}
		if matchesPath(d, parts, n) {
			found = d
			return false
		}
		return true
	})
	return found
}

// QueryAll returns every descendant of n matching the selector, in
// depth-first order.
func (n *Node) QueryAll(sel Selector) []*Node {
	parts := strings.Fields(string(sel))
	if len(parts) == 0 {
		return nil
	}
	var out []*Node
	n.walk(func(d *Node) bool {
		if d != n && matchesPath(d, parts, n) {
			out = append(out, d)
		}
		return true
	})
	return out
}

// FindFirst tries each selector in order against root and returns the
// first match. It reports false when no selector matched anything.
func FindFirst(root *Node, selectors []Selector) (*Node, bool) {
	for _, sel := range selectors {
		if found := root.Query(sel); found != nil {
			return found, true
		}
	}
	return nil, false
}

// walk visits n and its descendants depth-first. The visitor returns
// false to stop the walk.
func (n *Node) walk(visit func(*Node) bool) bool {
	if !visit(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.walk(visit) {
			return false
		}
	}
	return true
}

// matchesPath reports whether d matches the final selector part and has
// ancestors (at or below root) matching the preceding parts in order.
func matchesPath(d *Node, parts []string, root *Node) bool {
	if !matchesPart(d, parts[len(parts)-1]) {
		return false
	}
	rest := parts[:len(parts)-1]
	cur := d.Parent
	for i := len(rest) - 1; i >= 0; i-- {
		for {
			if cur == nil {
				return false
			}
			ok := matchesPart(cur, rest[i])
			atRoot := cur == root
			cur = cur.Parent
			if ok {
				break
			}
			if atRoot {
				return false
			}
		}
	}
	return true
}

func matchesPart(n *Node, part string) bool {
	tag, id, classes := splitPart(part)
	if tag != "" && !strings.EqualFold(n.Tag, tag) {
		return false
	}
	if id != "" && n.ID != id {
		return false
	}
	for _, class := range classes {
		if !n.HasClass(class) {
			return false
		}
	}
	return true
}

func splitPart(part string) (tag, id string, classes []string) {
	rest := part
	for rest != "" {
		next := strings.IndexAny(rest[1:], "#.")
		var token string
		if next == -1 {
			token, rest = rest, ""
		} else {
			token, rest = rest[:next+1], rest[next+1:]
		}
		switch {
		case strings.HasPrefix(token, "#"):
			id = token[1:]
		case strings.HasPrefix(token, "."):
			classes = append(classes, token[1:])
		default:
			tag = token
		}
	}
	return tag, id, classes
}
