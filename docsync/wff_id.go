package docsync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/bringyour/docsync/docsync/dom"
)

// a wff id names a node shared with the authority. the origin byte says which side minted it.

type WffIdOrigin byte

const (
	ServerOrigin WffIdOrigin = 'S'
	ClientOrigin WffIdOrigin = 'C'
)

// comparable
type WffId struct {
	Origin WffIdOrigin
	Value  uint32
}

func ServerWffId(value uint32) WffId {
	return WffId{
		Origin: ServerOrigin,
		Value:  value,
	}
}

func ClientWffId(value uint32) WffId {
	return WffId{
		Origin: ClientOrigin,
		Value:  value,
	}
}

// WffIdFromBytes reads [origin][optimized int].
func WffIdFromBytes(b []byte) (WffId, error) {
	if len(b) < 2 {
		return WffId{}, formatErrorf(0, "wff id of %d bytes", len(b))
	}
	origin := WffIdOrigin(b[0])
	if origin != ServerOrigin && origin != ClientOrigin {
		return WffId{}, formatErrorf(0, "wff id origin %q", b[0])
	}
	value, err := IntFromOptimizedBytes(b[1:])
	if err != nil {
		return WffId{}, err
	}
	return WffId{
		Origin: origin,
		Value:  value,
	}, nil
}

func ParseWffId(s string) (WffId, error) {
	if len(s) < 2 {
		return WffId{}, fmt.Errorf("Bad wff id %q.", s)
	}
	origin := WffIdOrigin(s[0])
	if origin != ServerOrigin && origin != ClientOrigin {
		return WffId{}, fmt.Errorf("Bad wff id origin %q.", s)
	}
	value, ok := parseCanonicalUint32(s[1:])
	if !ok {
		return WffId{}, fmt.Errorf("Bad wff id value %q.", s)
	}
	return WffId{
		Origin: origin,
		Value:  value,
	}, nil
}

func (self WffId) Bytes() []byte {
	return append([]byte{byte(self.Origin)}, OptimizedBytesFromInt(self.Value)...)
}

func (self WffId) String() string {
	return string(rune(self.Origin)) + strconv.FormatUint(uint64(self.Value), 10)
}

// ErrUnresolvedIdentity is the soft failure of a lookup. The record that needed the node is skipped.
var ErrUnresolvedIdentity = errors.New("Unresolved identity.")

type UnresolvedIdentityError struct {
	TagName string
	Id      WffId
}

func (self *UnresolvedIdentityError) Error() string {
	return fmt.Sprintf("Unresolved identity %s<%s>.", self.Id, self.TagName)
}

func (self *UnresolvedIdentityError) Unwrap() error {
	return ErrUnresolvedIdentity
}

// Registry maps wff ids to live nodes.
// The index is a cache. An entry is trusted only if the node is still attached under the
// document and still carries the id; otherwise the registry falls back to a structural query.
type Registry struct {
	document *dom.Node

	stateLock       sync.Mutex
	nodes           map[WffId]*dom.Node
	nextClientValue uint32
}

func NewRegistry(document *dom.Node) *Registry {
	registry := &Registry{
		document: document,
		nodes:    map[WffId]*dom.Node{},
	}
	registry.RegisterTree(document)
	return registry
}

func (self *Registry) Document() *dom.Node {
	return self.document
}

func (self *Registry) Register(id WffId, node *dom.Node) {
	node.SetAttr(WffIdAttr, id.String())

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.nodes[id] = node
}

// RegisterTree indexes every element under `root` that carries a wff id.
func (self *Registry) RegisterTree(root *dom.Node) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	dom.Walk(root, func(n *dom.Node) bool {
		if n.Type != dom.ElementNode {
			return true
		}
		if v, ok := n.Attr(WffIdAttr); ok {
			if id, err := ParseWffId(v); err == nil {
				self.nodes[id] = n
			}
		}
		return true
	})
}

func (self *Registry) Unregister(id WffId) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.nodes, id)
}

// UnregisterTree drops index entries for `root` and its descendants.
func (self *Registry) UnregisterTree(root *dom.Node) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	dom.Walk(root, func(n *dom.Node) bool {
		if v, ok := n.Attr(WffIdAttr); ok {
			if id, err := ParseWffId(v); err == nil && self.nodes[id] == n {
				delete(self.nodes, id)
			}
		}
		return true
	})
}

// Lookup resolves an element by id and tag name. An empty tag name matches any element.
func (self *Registry) Lookup(tagName string, id WffId) (*dom.Node, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	idStr := id.String()
	if node, ok := self.nodes[id]; ok {
		if self.trusted(node, tagName, idStr) {
			return node, nil
		}
		delete(self.nodes, id)
	}

	matches := dom.FindByAttr(self.document, tagName, WffIdAttr, idStr)
	switch len(matches) {
	case 0:
		return nil, &UnresolvedIdentityError{
			TagName: tagName,
			Id:      id,
		}
	case 1:
	default:
		glog.Infof("[reg]%d nodes share id %s<%s>\n", len(matches), idStr, tagName)
	}
	node := matches[0]
	self.nodes[id] = node
	return node, nil
}

func (self *Registry) trusted(node *dom.Node, tagName string, idStr string) bool {
	if node.Root() != self.document {
		return false
	}
	if v, ok := node.Attr(WffIdAttr); !ok || v != idStr {
		return false
	}
	return tagName == "" || strings.EqualFold(node.Name, tagName)
}

// IdOf reads the id a node carries.
func (self *Registry) IdOf(node *dom.Node) (WffId, bool) {
	v, ok := node.Attr(WffIdAttr)
	if !ok {
		return WffId{}, false
	}
	id, err := ParseWffId(v)
	if err != nil {
		return WffId{}, false
	}
	return id, true
}

// ClientId returns the node id, minting a client id on first use.
// Client values count up from 0.
func (self *Registry) ClientId(node *dom.Node) WffId {
	if id, ok := self.IdOf(node); ok {
		return id
	}

	self.stateLock.Lock()
	id := ClientWffId(self.nextClientValue)
	self.nextClientValue += 1
	self.stateLock.Unlock()

	self.Register(id, node)
	return id
}
