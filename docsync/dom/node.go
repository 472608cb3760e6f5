package dom

import (
	"errors"
	"strings"
)

// a small live tree modeled on the browser document:
// elements carry ordered attributes, a property map and attached objects,
// and siblings are linked so relocations are constant time.

type NodeType int

const (
	ElementNode NodeType = iota
	TextNode
	CommentNode
	FragmentNode
	DocumentNode
)

func (self NodeType) String() string {
	switch self {
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	case CommentNode:
		return "comment"
	case FragmentNode:
		return "fragment"
	case DocumentNode:
		return "document"
	default:
		return "unknown"
	}
}

var ErrHierarchy = errors.New("Hierarchy error.")
var ErrNotChild = errors.New("Node is not a child.")

type Attribute struct {
	Name  string
	Value string
}

type Node struct {
	Type NodeType
	// tag name for elements, lower case
	Name string
	// character data for text and comments
	Data string

	attrs   []Attribute
	props   map[string]any
	objects map[string]any

	parent      *Node
	firstChild  *Node
	lastChild   *Node
	prevSibling *Node
	nextSibling *Node
	childCount  int
}

func NewDocument() *Node {
	return &Node{
		Type: DocumentNode,
		Name: "#document",
	}
}

func NewElement(name string) *Node {
	return &Node{
		Type: ElementNode,
		Name: strings.ToLower(name),
	}
}

func NewText(data string) *Node {
	return &Node{
		Type: TextNode,
		Name: "#text",
		Data: data,
	}
}

func NewComment(data string) *Node {
	return &Node{
		Type: CommentNode,
		Name: "#comment",
		Data: data,
	}
}

func NewFragment() *Node {
	return &Node{
		Type: FragmentNode,
		Name: "#document-fragment",
	}
}

func (self *Node) Parent() *Node {
	return self.parent
}

func (self *Node) FirstChild() *Node {
	return self.firstChild
}

func (self *Node) LastChild() *Node {
	return self.lastChild
}

func (self *Node) NextSibling() *Node {
	return self.nextSibling
}

func (self *Node) PrevSibling() *Node {
	return self.prevSibling
}

func (self *Node) ChildCount() int {
	return self.childCount
}

func (self *Node) Children() []*Node {
	children := make([]*Node, 0, self.childCount)
	for c := self.firstChild; c != nil; c = c.nextSibling {
		children = append(children, c)
	}
	return children
}

// ChildAt returns nil when the index is out of range.
func (self *Node) ChildAt(index int) *Node {
	if index < 0 || self.childCount <= index {
		return nil
	}
	c := self.firstChild
	for i := 0; i < index; i += 1 {
		c = c.nextSibling
	}
	return c
}

func (self *Node) Root() *Node {
	n := self
	for n.parent != nil {
		n = n.parent
	}
	return n
}

func (self *Node) Contains(other *Node) bool {
	for n := other; n != nil; n = n.parent {
		if n == self {
			return true
		}
	}
	return false
}

func (self *Node) canHaveChildren() bool {
	switch self.Type {
	case ElementNode, FragmentNode, DocumentNode:
		return true
	default:
		return false
	}
}

// Detach removes the node from its parent, if any.
func (self *Node) Detach() {
	if self.parent != nil {
		self.parent.unlink(self)
	}
}

func (self *Node) unlink(c *Node) {
	if c.prevSibling != nil {
		c.prevSibling.nextSibling = c.nextSibling
	} else {
		self.firstChild = c.nextSibling
	}
	if c.nextSibling != nil {
		c.nextSibling.prevSibling = c.prevSibling
	} else {
		self.lastChild = c.prevSibling
	}
	c.parent = nil
	c.prevSibling = nil
	c.nextSibling = nil
	self.childCount -= 1
}

func (self *Node) link(c *Node, ref *Node) {
	c.parent = self
	if ref == nil {
		c.prevSibling = self.lastChild
		if self.lastChild != nil {
			self.lastChild.nextSibling = c
		} else {
			self.firstChild = c
		}
		self.lastChild = c
	} else {
		c.nextSibling = ref
		c.prevSibling = ref.prevSibling
		if ref.prevSibling != nil {
			ref.prevSibling.nextSibling = c
		} else {
			self.firstChild = c
		}
		ref.prevSibling = c
	}
	self.childCount += 1
}

// InsertBefore inserts `c` before `ref`, or at the end when `ref` is nil.
// A node that is already attached is moved. A fragment is spliced in and left empty.
func (self *Node) InsertBefore(c *Node, ref *Node) error {
	if !self.canHaveChildren() {
		return ErrHierarchy
	}
	if ref != nil && ref.parent != self {
		return ErrNotChild
	}
	if c == ref {
		return nil
	}
	if c.Contains(self) {
		return ErrHierarchy
	}
	if c.Type == FragmentNode {
		for _, fc := range c.Children() {
			c.unlink(fc)
			self.link(fc, ref)
		}
		return nil
	}
	c.Detach()
	self.link(c, ref)
	return nil
}

func (self *Node) AppendChild(c *Node) error {
	return self.InsertBefore(c, nil)
}

func (self *Node) RemoveChild(c *Node) error {
	if c.parent != self {
		return ErrNotChild
	}
	self.unlink(c)
	return nil
}

// ReplaceChild puts `c` where `old` was and detaches `old`.
func (self *Node) ReplaceChild(c *Node, old *Node) error {
	if old.parent != self {
		return ErrNotChild
	}
	if c == old {
		return nil
	}
	ref := old.nextSibling
	if ref == c {
		ref = c.nextSibling
	}
	self.unlink(old)
	return self.InsertBefore(c, ref)
}

func (self *Node) Attrs() []Attribute {
	attrs := make([]Attribute, len(self.attrs))
	copy(attrs, self.attrs)
	return attrs
}

func (self *Node) Attr(name string) (string, bool) {
	for _, attr := range self.attrs {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return "", false
}

func (self *Node) HasAttr(name string) bool {
	_, ok := self.Attr(name)
	return ok
}

// SetAttr keeps the original position of an existing attribute.
func (self *Node) SetAttr(name string, value string) {
	for i, attr := range self.attrs {
		if attr.Name == name {
			self.attrs[i].Value = value
			return
		}
	}
	self.attrs = append(self.attrs, Attribute{
		Name:  name,
		Value: value,
	})
}

func (self *Node) RemoveAttr(name string) bool {
	for i, attr := range self.attrs {
		if attr.Name == name {
			self.attrs = append(self.attrs[:i], self.attrs[i+1:]...)
			return true
		}
	}
	return false
}

func (self *Node) Property(name string) (any, bool) {
	if self.props == nil {
		return nil, false
	}
	v, ok := self.props[name]
	return v, ok
}

func (self *Node) SetProperty(name string, value any) {
	if self.props == nil {
		self.props = map[string]any{}
	}
	self.props[name] = value
}

// Object returns a value attached to the node by key.
// Objects are not rendered.
func (self *Node) Object(key string) (any, bool) {
	if self.objects == nil {
		return nil, false
	}
	v, ok := self.objects[key]
	return v, ok
}

func (self *Node) SetObject(key string, value any) {
	if self.objects == nil {
		self.objects = map[string]any{}
	}
	self.objects[key] = value
}

func (self *Node) DeleteObject(key string) bool {
	if _, ok := self.objects[key]; ok {
		delete(self.objects, key)
		return true
	}
	return false
}

// TextContent concatenates the descendant text in document order.
func (self *Node) TextContent() string {
	switch self.Type {
	case TextNode, CommentNode:
		return self.Data
	}
	var b strings.Builder
	Walk(self, func(n *Node) bool {
		if n.Type == TextNode {
			b.WriteString(n.Data)
		}
		return true
	})
	return b.String()
}

// Walk visits `root` and its descendants in pre-order.
// Returning false from `visit` skips the children of that node.
func Walk(root *Node, visit func(*Node) bool) {
	if !visit(root) {
		return
	}
	for c := root.firstChild; c != nil; {
		// the visitor may detach `c`
		next := c.nextSibling
		Walk(c, visit)
		c = next
	}
}

// Find returns all descendants of `root` (including `root`) that match, in document order.
func Find(root *Node, match func(*Node) bool) []*Node {
	matches := []*Node{}
	Walk(root, func(n *Node) bool {
		if match(n) {
			matches = append(matches, n)
		}
		return true
	})
	return matches
}

// FindByAttr matches elements by tag name (case insensitive, empty matches all) and attribute value.
func FindByAttr(root *Node, tagName string, attrName string, attrValue string) []*Node {
	return Find(root, func(n *Node) bool {
		if n.Type != ElementNode {
			return false
		}
		if tagName != "" && !strings.EqualFold(n.Name, tagName) {
			return false
		}
		v, ok := n.Attr(attrName)
		return ok && v == attrValue
	})
}
