package docsync

import (
	"github.com/bringyour/docsync/docsync/dom"
)

type attributeKind int

const (
	// string attribute mirrored as a string property
	plainAttribute attributeKind = iota
	// attribute mirrored as a boolean property
	booleanAttribute
)

// attributeSetter applies attribute changes through one typed path
// so the structural attribute and the live property never disagree.
type attributeSetter struct {
	symbols *Symbols
}

func (self *attributeSetter) kind(name string) attributeKind {
	if self.symbols.IsBooleanAttr(name) {
		return booleanAttribute
	}
	return plainAttribute
}

func (self *attributeSetter) set(node *dom.Node, name string, value string) {
	switch self.kind(name) {
	case booleanAttribute:
		node.SetProperty(name, true)
	default:
		node.SetProperty(name, value)
	}
	node.SetAttr(name, value)
}

// remove only coerces a boolean property that is exactly true.
func (self *attributeSetter) remove(node *dom.Node, name string) {
	node.RemoveAttr(name)
	if self.kind(name) == booleanAttribute {
		if v, ok := node.Property(name); ok && v == true {
			node.SetProperty(name, false)
		}
	}
}
