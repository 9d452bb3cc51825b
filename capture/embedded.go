package capture

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FindFirst walks the tree under root in document order and returns the
// first node satisfying pred, or nil. The walk uses an explicit stack and
// never visits a node twice.
func FindFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	seen := make(map[*html.Node]struct{})
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		if pred(n) {
			return n
		}
		// Push children last-to-first so the first child pops next.
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return nil
}

// IsEmbeddedObject matches plugin content: object, embed and applet elements.
func IsEmbeddedObject(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Object, atom.Embed, atom.Applet:
		return true
	}
	return false
}

// HasEmbeddedObject parses doc and reports whether it contains plugin content.
func HasEmbeddedObject(doc string) (bool, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return false, fmt.Errorf("capture: parse document: %w", err)
	}
	return FindFirst(root, IsEmbeddedObject) != nil, nil
}
