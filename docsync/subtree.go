package docsync

import (
	"strconv"

	"github.com/bringyour/docsync/docsync/dom"
)

// a subtree is an embedded message, one record per node in pre-order:
//
//	record 0:  {name: ignored, values: [tag name, attributes...]}
//	record i:  {name: parent record index, values: [tag name, attributes...]}
//
// marker tag names replace the attributes with content:
//
//	#      [#, text]
//	@      [@, markup]            parsed and spliced in place
//	$ %    [$, optimized int]     rendered as decimal text

type subtreeBuilder struct {
	symbols  *Symbols
	registry *Registry
	attrs    *attributeSetter
}

// build returns an element for an element root, or a fragment for a marker root.
func (self *subtreeBuilder) build(b []byte) (*dom.Node, error) {
	nameValues, err := DecodeMessage(b)
	if err != nil {
		return nil, err
	}
	if len(nameValues) == 0 {
		return nil, formatErrorf(0, "empty subtree")
	}

	nodes := make([]*dom.Node, 0, len(nameValues))
	var root *dom.Node
	for i, nameValue := range nameValues {
		var parent *dom.Node
		if 0 < i {
			parentIndex, err := IntFromOptimizedBytes(nameValue.Name)
			if err != nil {
				return nil, err
			}
			if uint32(i) <= parentIndex {
				return nil, formatErrorf(0, "subtree record %d parent %d is not earlier", i, parentIndex)
			}
			parent = nodes[parentIndex]
		}

		node, err := self.buildNode(nameValue.Values)
		if err != nil {
			return nil, err
		}

		if parent == nil {
			if node.Type == dom.ElementNode {
				root = node
			} else {
				root = dom.NewFragment()
				root.AppendChild(node)
			}
		} else if err := parent.AppendChild(node); err != nil {
			return nil, formatErrorf(0, "subtree record %d: %s", i, err)
		}
		nodes = append(nodes, node)
	}

	self.registry.RegisterTree(root)
	return root, nil
}

func (self *subtreeBuilder) buildNode(values [][]byte) (*dom.Node, error) {
	if len(values) == 0 {
		return nil, formatErrorf(0, "subtree record without tag name")
	}
	tagName, err := self.symbols.TagName(values[0])
	if err != nil {
		return nil, err
	}

	switch tagName {
	case TextMarker:
		return dom.NewText(joinedValue(values)), nil
	case MarkupMarker:
		return dom.ParseFragment(joinedValue(values))
	case NumberTextMarker, NumberTextMarkerAlt:
		if len(values) < 2 {
			return dom.NewText(""), nil
		}
		n, err := IntFromOptimizedBytes(values[1])
		if err != nil {
			return nil, err
		}
		return dom.NewText(strconv.FormatUint(uint64(n), 10)), nil
	}

	node := dom.NewElement(tagName)
	for _, attrBytes := range values[1:] {
		name, value, err := self.symbols.AttrNameValue(attrBytes)
		if err != nil {
			return nil, err
		}
		self.attrs.set(node, name, value)
	}
	return node, nil
}

func joinedValue(values [][]byte) string {
	if len(values) < 2 {
		return ""
	}
	return string(values[1])
}

// EncodeSubtree is the inverse of subtree materialization.
// Comment nodes are not represented.
func EncodeSubtree(symbols *Symbols, root *dom.Node) []byte {
	nameValues := []*NameValue{}
	var visit func(n *dom.Node, parentIndex int)
	visit = func(n *dom.Node, parentIndex int) {
		var values [][]byte
		switch n.Type {
		case dom.TextNode:
			values = [][]byte{
				symbols.TagNameBytes(TextMarker),
				[]byte(n.Data),
			}
		case dom.ElementNode:
			values = [][]byte{symbols.TagNameBytes(n.Name)}
			for _, attr := range n.Attrs() {
				values = append(values, symbols.AttrNameValueBytes(attr.Name, attr.Value))
			}
		default:
			return
		}
		var name []byte
		if 0 <= parentIndex {
			name = OptimizedBytesFromInt(uint32(parentIndex))
		}
		index := len(nameValues)
		nameValues = append(nameValues, NewNameValue(name, values...))
		for _, c := range n.Children() {
			visit(c, index)
		}
	}
	visit(root, -1)
	return EncodeMessage(nameValues)
}
