package attribute

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// matchAttrKey is the attribute that names a node for driver matching.
const matchAttrKey = "match_attr"

// Node is one mapping in the configuration tree.
type Node struct {
	Name      string
	MatchAttr string
	Parent    *Node
	Children  []*Node

	// attrs holds scalar and sequence values in document order.
	attrs map[string]*yaml.Node
	keys  []string
}

// Attr returns the raw value of an attribute.
func (n *Node) Attr(key string) (*yaml.Node, bool) {
	if n == nil {
		return nil, false
	}
	v, ok := n.attrs[key]
	return v, ok
}

// Keys returns the attribute names in document order.
func (n *Node) Keys() []string {
	if n == nil {
		return nil
	}
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// String returns a string attribute.
func (n *Node) String(key string) (string, bool) {
	v, ok := n.Attr(key)
	if !ok || v.Kind != yaml.ScalarNode {
		return "", false
	}
	return v.Value, true
}

// Uint32 returns an unsigned integer attribute.
func (n *Node) Uint32(key string) (uint32, error) {
	v, ok := n.Attr(key)
	if !ok {
		return 0, fmt.Errorf("attribute %q not found", key)
	}
	if v.Kind != yaml.ScalarNode {
		return 0, fmt.Errorf("attribute %q is not a scalar", key)
	}
	u, err := strconv.ParseUint(v.Value, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("attribute %q: %w", key, err)
	}
	return uint32(u), nil
}

// Decode unmarshals an attribute into out.
func (n *Node) Decode(key string, out any) error {
	v, ok := n.Attr(key)
	if !ok {
		return fmt.Errorf("attribute %q not found", key)
	}
	return v.Decode(out)
}

// Child returns the direct child with the given name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Tree is a parsed configuration tree.
type Tree struct {
	Root *Node
}

// GetNodeByMatchAttr returns the first node, depth-first in document order,
// whose match_attr equals key. Returns nil for an empty key or no match.
func (t *Tree) GetNodeByMatchAttr(key string) *Node {
	if t == nil || t.Root == nil || key == "" {
		return nil
	}
	return findMatch(t.Root, key)
}

func findMatch(n *Node, key string) *Node {
	if n.MatchAttr == key {
		return n
	}
	for _, c := range n.Children {
		if found := findMatch(c, key); found != nil {
			return found
		}
	}
	return nil
}

// buildNode converts a YAML mapping into a Node, recursing into nested
// mappings. Aliases are resolved so shared property blocks work.
func buildNode(name string, parent *Node, m *yaml.Node) (*Node, error) {
	if m.Kind == yaml.AliasNode {
		m = m.Alias
	}
	if m.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("property %q: expected mapping, got %s", name, kindName(m.Kind))
	}

	n := &Node{
		Name:   name,
		Parent: parent,
		attrs:  make(map[string]*yaml.Node),
	}

	for i := 0; i+1 < len(m.Content); i += 2 {
		key, val := m.Content[i].Value, m.Content[i+1]
		if val.Kind == yaml.AliasNode {
			val = val.Alias
		}

		switch {
		case val.Kind == yaml.MappingNode:
			child, err := buildNode(key, n, val)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		case key == matchAttrKey:
			n.MatchAttr = val.Value
		default:
			if _, dup := n.attrs[key]; !dup {
				n.keys = append(n.keys, key)
			}
			n.attrs[key] = val
		}
	}

	return n, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
