package afc

import (
	"io/fs"
	pathpkg "path"
	"strings"
)

const (
	emptySpace   = "    "
	middleItem   = "├── "
	continueItem = "│   "
	lastItem     = "└── "
)

// Node is a directory tree entry as listed from the device.
type Node struct {
	Path     string
	Name     string
	Dir      bool
	Children []*Node
}

// Tree walks root and returns it as a tree of nodes.
func (c *Channel) Tree(root string) (*Node, error) {
	nodes := make(map[string]*Node)
	var top *Node
	err := c.Walk(root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		n := &Node{Path: p, Name: info.Name(), Dir: info.IsDir()}
		nodes[p] = n
		if top == nil {
			n.Name = p
			top = n
			return nil
		}
		if parent, ok := nodes[pathpkg.Dir(p)]; ok {
			parent.Children = append(parent.Children, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return top, nil
}

// String renders the tree with box-drawing guides.
func (n *Node) String() string {
	var out strings.Builder
	out.WriteString(n.Name + "\n")
	printItems(&out, n.Children, nil)
	return out.String()
}

func printItems(out *strings.Builder, items []*Node, spaces []bool) {
	for i, n := range items {
		last := i == len(items)-1
		for _, space := range spaces {
			if space {
				out.WriteString(emptySpace)
			} else {
				out.WriteString(continueItem)
			}
		}
		if last {
			out.WriteString(lastItem)
		} else {
			out.WriteString(middleItem)
		}
		out.WriteString(n.Name + "\n")
		if len(n.Children) > 0 {
			printItems(out, n.Children, append(spaces[:len(spaces):len(spaces)], last))
		}
	}
}
