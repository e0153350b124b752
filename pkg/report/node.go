package report

import (
	"strconv"

	"github.com/petrijr/arbor/pkg/api"
)

// RootPath is the path of the root Node.
const RootPath = "0"

// Node is one entry of the mirror tree.
type Node struct {
	Action      *api.Action
	Description string
	Path        string
	Depth       int
	Children    []*Node
}

// BuildTree mirrors a into a tree of Nodes, one per child occurrence.
func BuildTree(a *api.Action) *Node {
	return buildNode(a, RootPath, 0)
}

func buildNode(a *api.Action, path string, depth int) *Node {
	n := &Node{
		Action:      a,
		Description: a.Description(),
		Path:        path,
		Depth:       depth,
	}
	for i, c := range a.Children() {
		n.Children = append(n.Children, buildNode(c, path+"/"+strconv.Itoa(i), depth+1))
	}
	return n
}

// Walk visits n and its descendants depth-first, pre-order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Find returns the Node at path, or nil.
func (n *Node) Find(path string) *Node {
	var found *Node
	n.Walk(func(c *Node) {
		if found == nil && c.Path == path {
			found = c
		}
	})
	return found
}
