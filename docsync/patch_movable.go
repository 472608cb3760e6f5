package docsync

import (
	"errors"

	"github.com/golang/glog"

	"github.com/bringyour/docsync/docsync/dom"
)

// the movable family places a sequence of operands around an anchor under one parent.
// an operand is an existing node that is relocated, or a new subtree.
//
// placement keeps a cursor: every operand after the first goes directly after the previously
// placed operand. the reference node is always computed from a node that is already in place,
// so relocating an operand never invalidates it.

type movableMode int

const (
	insertBeforeMode movableMode = iota
	insertAfterMode
	replaceMode
	prependMode
	replaceChildrenMode
)

func (self movableMode) String() string {
	switch self {
	case insertBeforeMode:
		return "inserted before"
	case insertAfterMode:
		return "inserted after"
	case replaceMode:
		return "replaced"
	case prependMode:
		return "prepended"
	case replaceChildrenMode:
		return "inner html"
	default:
		return "movable"
	}
}

type anchorState int

const (
	// operands go before the anchor
	beforeAnchor anchorState = iota
	// operands go after the anchor
	afterAnchor
	// the anchor was itself an operand. it stays where it was placed
	anchorConsumed
)

type placement struct {
	parent *dom.Node
	anchor *dom.Node
	state  anchorState
	last   *dom.Node
}

func newPlacement(parent *dom.Node, anchor *dom.Node, state anchorState) *placement {
	return &placement{
		parent: parent,
		anchor: anchor,
		state:  state,
	}
}

func (self *placement) reference() *dom.Node {
	if self.last != nil {
		return self.last.NextSibling()
	}
	if self.anchor == nil || self.anchor.Parent() != self.parent {
		return nil
	}
	switch self.state {
	case beforeAnchor:
		return self.anchor
	case afterAnchor:
		return self.anchor.NextSibling()
	default:
		return nil
	}
}

func (self *placement) place(op *dom.Node) error {
	if op.Contains(self.parent) {
		return dom.ErrHierarchy
	}
	ref := self.reference()
	if op.Type == dom.FragmentNode {
		children := op.Children()
		if len(children) == 0 {
			return nil
		}
		if err := self.parent.InsertBefore(op, ref); err != nil {
			return err
		}
		self.last = children[len(children)-1]
		return nil
	}
	if ref != op {
		op.Detach()
		if err := self.parent.InsertBefore(op, ref); err != nil {
			return err
		}
	}
	if op == self.anchor {
		self.state = anchorConsumed
	}
	self.last = op
	return nil
}

type movableOperand struct {
	subtree  []byte
	existing bool
}

func (self *Engine) movable(mode movableMode, records []*NameValue) error {
	parent, err := self.target(records)
	if err != nil {
		if errors.Is(err, ErrUnresolvedIdentity) {
			self.skip(mode.String(), 0, err)
			return nil
		}
		return err
	}

	var anchor *dom.Node
	var operandRecords []*NameValue
	switch mode {
	case insertBeforeMode, insertAfterMode, replaceMode:
		if len(records) < 2 || len(records[1].Values) < 1 {
			return formatErrorf(0, "%s without anchor", mode)
		}
		anchor, err = self.anchor(parent, records[1])
		if err != nil {
			if errors.Is(err, ErrUnresolvedIdentity) {
				self.skip(mode.String(), 1, err)
				return nil
			}
			return err
		}
		operandRecords = records[2:]
	default:
		operandRecords = records[1:]
	}

	operands := []movableOperand{}
	for _, record := range operandRecords {
		if mode == replaceChildrenMode {
			// {name: subtree, values: [flag]}
			operands = append(operands, movableOperand{
				subtree:  record.Name,
				existing: len(record.Values) == 1 && len(record.Values[0]) == 1,
			})
		} else {
			// {name: flag, values: [subtree]}
			if len(record.Values) < 1 {
				return formatErrorf(0, "%s operand without subtree", mode)
			}
			operands = append(operands, movableOperand{
				subtree:  record.Values[0],
				existing: len(record.Name) == 1,
			})
		}
	}

	// resolve every operand before the tree changes
	nodes := []*dom.Node{}
	for i, operand := range operands {
		node, err := self.resolveOperand(operand)
		if err != nil {
			self.skip(mode.String(), i, err)
			continue
		}
		nodes = append(nodes, node)
	}

	var p *placement
	switch mode {
	case insertBeforeMode, replaceMode:
		p = newPlacement(parent, anchor, beforeAnchor)
	case insertAfterMode:
		p = newPlacement(parent, anchor, afterAnchor)
	case prependMode:
		p = newPlacement(parent, parent.FirstChild(), beforeAnchor)
	case replaceChildrenMode:
		keep := map[*dom.Node]bool{}
		for _, node := range nodes {
			keep[node] = true
		}
		for c := parent.FirstChild(); c != nil; {
			next := c.NextSibling()
			if !keep[c] {
				parent.RemoveChild(c)
				self.registry.UnregisterTree(c)
			}
			c = next
		}
		p = newPlacement(parent, nil, afterAnchor)
	}

	for i, node := range nodes {
		if err := p.place(node); err != nil {
			self.skip(mode.String(), i, err)
		}
	}

	if mode == replaceMode && anchor != nil && p.state != anchorConsumed {
		if anchor.Parent() == parent {
			parent.RemoveChild(anchor)
			self.registry.UnregisterTree(anchor)
		}
	}
	return nil
}

// anchor record: {name: tag name, values: [wff id]}, or {name: #, values: [child index]}.
// A positional index past the end is no anchor.
func (self *Engine) anchor(parent *dom.Node, record *NameValue) (*dom.Node, error) {
	tagName, err := self.symbols.TagName(record.Name)
	if err != nil {
		return nil, err
	}
	if tagName == TextMarker {
		index, err := IntFromOptimizedBytes(record.Values[0])
		if err != nil {
			return nil, err
		}
		anchor := parent.ChildAt(int(index))
		if anchor == nil {
			glog.V(1).Infof("[p]anchor index %d past %d children\n", index, parent.ChildCount())
		}
		return anchor, nil
	}
	id, err := WffIdFromBytes(record.Values[0])
	if err != nil {
		return nil, err
	}
	return self.registry.Lookup(tagName, id)
}

// resolveOperand relocates an existing node when it can be found, otherwise builds the subtree.
func (self *Engine) resolveOperand(operand movableOperand) (*dom.Node, error) {
	if operand.existing {
		tagName, id, ok, err := self.subtreeRootIdentity(operand.subtree)
		if err != nil {
			return nil, err
		}
		if ok {
			node, err := self.registry.Lookup(tagName, id)
			if err == nil {
				return node, nil
			}
			if !errors.Is(err, ErrUnresolvedIdentity) {
				return nil, err
			}
			glog.V(1).Infof("[p]existing operand %s<%s> not found, building it\n", id, tagName)
		}
	}
	return self.subtrees.build(operand.subtree)
}

// subtreeRootIdentity reads the tag name and wff id of the root record without building it.
func (self *Engine) subtreeRootIdentity(b []byte) (tagName string, id WffId, ok bool, err error) {
	nameValues, err := DecodeMessage(b)
	if err != nil {
		return
	}
	if len(nameValues) == 0 || len(nameValues[0].Values) == 0 {
		err = formatErrorf(0, "empty subtree")
		return
	}
	tagName, err = self.symbols.TagName(nameValues[0].Values[0])
	if err != nil {
		return
	}
	for _, attrBytes := range nameValues[0].Values[1:] {
		name, value, attrErr := self.symbols.AttrNameValue(attrBytes)
		if attrErr != nil || name != WffIdAttr {
			continue
		}
		if id, err = ParseWffId(value); err != nil {
			return
		}
		ok = true
		return
	}
	return
}
