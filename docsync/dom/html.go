package dom

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseFragment parses markup in a body context.
// The result is a fragment whose children are the parsed top level nodes.
func ParseFragment(markup string) (*Node, error) {
	context := &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	}
	htmlNodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return nil, err
	}
	fragment := NewFragment()
	for _, htmlNode := range htmlNodes {
		if n := fromHtml(htmlNode); n != nil {
			fragment.link(n, nil)
		}
	}
	return fragment, nil
}

func fromHtml(htmlNode *html.Node) *Node {
	var n *Node
	switch htmlNode.Type {
	case html.TextNode:
		return NewText(htmlNode.Data)
	case html.CommentNode:
		return NewComment(htmlNode.Data)
	case html.ElementNode:
		n = NewElement(htmlNode.Data)
		for _, attr := range htmlNode.Attr {
			name := attr.Key
			if attr.Namespace != "" {
				name = attr.Namespace + ":" + attr.Key
			}
			n.SetAttr(name, attr.Val)
		}
	default:
		return nil
	}
	for c := htmlNode.FirstChild; c != nil; c = c.NextSibling {
		if child := fromHtml(c); child != nil {
			n.link(child, nil)
		}
	}
	return n
}

func toHtml(n *Node) *html.Node {
	var htmlNode *html.Node
	switch n.Type {
	case TextNode:
		return &html.Node{
			Type: html.TextNode,
			Data: n.Data,
		}
	case CommentNode:
		return &html.Node{
			Type: html.CommentNode,
			Data: n.Data,
		}
	case ElementNode:
		htmlNode = &html.Node{
			Type:     html.ElementNode,
			Data:     n.Name,
			DataAtom: atom.Lookup([]byte(n.Name)),
		}
		for _, attr := range n.attrs {
			htmlNode.Attr = append(htmlNode.Attr, html.Attribute{
				Key: attr.Name,
				Val: attr.Value,
			})
		}
	default:
		htmlNode = &html.Node{
			Type: html.DocumentNode,
		}
	}
	for c := n.firstChild; c != nil; c = c.nextSibling {
		htmlNode.AppendChild(toHtml(c))
	}
	return htmlNode
}

// Render writes the markup of `n`. Documents and fragments render their children.
func Render(w io.Writer, n *Node) error {
	return html.Render(w, toHtml(n))
}

func OuterHtml(n *Node) string {
	var b bytes.Buffer
	if err := Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}

func InnerHtml(n *Node) string {
	var b bytes.Buffer
	for c := n.firstChild; c != nil; c = c.nextSibling {
		if err := Render(&b, c); err != nil {
			return ""
		}
	}
	return b.String()
}
