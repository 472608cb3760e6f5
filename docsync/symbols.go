package docsync

import (
	"fmt"
	"strconv"
	"strings"
)

// symbol tables shared with the authority at bootstrap.
// tag and attribute names on the wire are usually an index into these tables.

const (
	// tag name of a text node record
	TextMarker = "#"
	// tag name of a raw markup record
	MarkupMarker = "@"
	// tag names of numeric text records
	NumberTextMarker    = "$"
	NumberTextMarkerAlt = "%"
)

const WffIdAttr = "data-wff-id"

// first attribute width byte that denotes a wff id. -5 is the first id prefix, -6 the second, ...
const wffIdAttrWidthBase = 5

type Symbols struct {
	tags         []string
	attrs        []string
	eventAttrs   []string
	booleanAttrs map[string]bool
	idPrefixes   []string

	tagIndexes       map[string]int
	attrIndexes      map[string]int
	eventAttrIndexes map[string]int
}

func NewSymbols(
	tags []string,
	attrs []string,
	eventAttrs []string,
	booleanAttrs []string,
	idPrefixes []string,
) *Symbols {
	symbols := &Symbols{
		tags:             tags,
		attrs:            attrs,
		eventAttrs:       eventAttrs,
		booleanAttrs:     map[string]bool{},
		idPrefixes:       idPrefixes,
		tagIndexes:       indexNames(tags),
		attrIndexes:      indexNames(attrs),
		eventAttrIndexes: indexNames(eventAttrs),
	}
	for _, name := range booleanAttrs {
		symbols.booleanAttrs[name] = true
	}
	return symbols
}

func indexNames(names []string) map[string]int {
	indexes := map[string]int{}
	for i, name := range names {
		if _, ok := indexes[name]; !ok {
			indexes[name] = i
		}
	}
	return indexes
}

func DefaultSymbols() *Symbols {
	return NewSymbols(
		DefaultTags(),
		DefaultAttrs(),
		DefaultEventAttrs(),
		DefaultBooleanAttrs(),
		DefaultIdPrefixes(),
	)
}

func DefaultTags() []string {
	return []string{
		TextMarker, MarkupMarker, NumberTextMarker, NumberTextMarkerAlt,
		"html", "head", "title", "body", "div", "span", "p", "a", "b", "i",
		"ul", "ol", "li", "table", "thead", "tbody", "tr", "th", "td",
		"form", "input", "button", "select", "option", "textarea", "label",
		"img", "br", "h1", "h2", "h3", "section", "nav", "main", "script", "style",
	}
}

func DefaultAttrs() []string {
	return []string{
		"id", "class", "name", "value", "type", "style", "href", "src", "alt", "title",
		"placeholder", "for", "checked", "disabled", "selected", "hidden", "readonly",
		"required", "multiple", "colspan", "rowspan", "tabindex", "maxlength", WffIdAttr,
	}
}

func DefaultEventAttrs() []string {
	return []string{
		"onclick", "onchange", "oninput", "onsubmit", "onkeyup", "onkeydown",
		"onfocus", "onblur", "onmouseover", "onmouseout", "onload",
	}
}

func DefaultBooleanAttrs() []string {
	return []string{
		"checked", "disabled", "selected", "hidden", "readonly", "required", "multiple",
	}
}

func DefaultIdPrefixes() []string {
	return []string{"S", "C"}
}

func (self *Symbols) IsBooleanAttr(name string) bool {
	return self.booleanAttrs[name]
}

func lookupName(names []string, kind string, index uint32) (string, error) {
	if uint32(len(names)) <= index {
		return "", formatErrorf(0, "%s index %d out of range (%d)", kind, index, len(names))
	}
	return names[index], nil
}

// compressed names:
//
//	[index]                        single byte index
//	[n][index bytes (n)]           n in 1..4
//	[0][literal bytes]
func (self *Symbols) decodeCompressedName(names []string, kind string, b []byte) (string, error) {
	switch {
	case len(b) == 0:
		return "", formatErrorf(0, "empty %s name", kind)
	case len(b) == 1:
		return lookupName(names, kind, uint32(b[0]))
	case b[0] == 0:
		return string(b[1:]), nil
	case int(b[0]) <= MaxLengthWidth:
		n := int(b[0])
		if len(b) < 1+n {
			return "", formatErrorf(1, "truncated %s index", kind)
		}
		index, err := IntFromOptimizedBytes(b[1 : 1+n])
		if err != nil {
			return "", err
		}
		return lookupName(names, kind, index)
	default:
		return "", formatErrorf(0, "%s index width %d", kind, b[0])
	}
}

func encodeCompressedName(indexes map[string]int, name string) []byte {
	if index, ok := indexes[name]; ok {
		indexBytes := OptimizedBytesFromInt(uint32(index))
		if len(indexBytes) == 1 {
			return indexBytes
		}
		return append([]byte{byte(len(indexBytes))}, indexBytes...)
	}
	return append([]byte{0}, name...)
}

func (self *Symbols) TagName(b []byte) (string, error) {
	return self.decodeCompressedName(self.tags, "tag", b)
}

func (self *Symbols) TagNameBytes(name string) []byte {
	return encodeCompressedName(self.tagIndexes, name)
}

func (self *Symbols) AttrName(b []byte) (string, error) {
	return self.decodeCompressedName(self.attrs, "attribute", b)
}

func (self *Symbols) AttrNameBytes(name string) []byte {
	return encodeCompressedName(self.attrIndexes, name)
}

// AttrNameValue decodes a compressed attribute. The first byte is signed:
//
//	1..4      indexed name, n index bytes, then the value as a string
//	-1..-4    indexed name, |n| index bytes, then an optimized int value. no value is a flag
//	0         literal "name=value"
//	<= -5     wff id, prefix |n|-5, then an optimized int
func (self *Symbols) AttrNameValue(b []byte) (name string, value string, err error) {
	if len(b) == 0 {
		return "", "", formatErrorf(0, "empty attribute")
	}
	width := int(int8(b[0]))
	switch {
	case width == 0:
		literal := string(b[1:])
		if i := strings.IndexByte(literal, '='); 0 <= i {
			return literal[:i], literal[i+1:], nil
		}
		return literal, "", nil
	case 0 < width && width <= MaxLengthWidth:
		if len(b) < 1+width {
			return "", "", formatErrorf(1, "truncated attribute index")
		}
		name, err = self.indexedAttrName(b[1 : 1+width])
		if err != nil {
			return "", "", err
		}
		return name, string(b[1+width:]), nil
	case -MaxLengthWidth <= width && width < 0:
		n := -width
		if len(b) < 1+n {
			return "", "", formatErrorf(1, "truncated attribute index")
		}
		name, err = self.indexedAttrName(b[1 : 1+n])
		if err != nil {
			return "", "", err
		}
		if len(b) == 1+n {
			return name, "", nil
		}
		v, err := IntFromOptimizedBytes(b[1+n:])
		if err != nil {
			return "", "", err
		}
		return name, strconv.FormatUint(uint64(v), 10), nil
	case width <= -wffIdAttrWidthBase:
		prefixIndex := -width - wffIdAttrWidthBase
		if len(self.idPrefixes) <= prefixIndex {
			return "", "", formatErrorf(0, "wff id prefix %d out of range", prefixIndex)
		}
		v, err := IntFromOptimizedBytes(b[1:])
		if err != nil {
			return "", "", err
		}
		return WffIdAttr, self.idPrefixes[prefixIndex] + strconv.FormatUint(uint64(v), 10), nil
	default:
		return "", "", formatErrorf(0, "attribute width %d", width)
	}
}

func (self *Symbols) indexedAttrName(indexBytes []byte) (string, error) {
	index, err := IntFromOptimizedBytes(indexBytes)
	if err != nil {
		return "", err
	}
	return lookupName(self.attrs, "attribute", index)
}

// AttrNameValueBytes picks the most compact form that decodes back to the same pair.
func (self *Symbols) AttrNameValueBytes(name string, value string) []byte {
	if name == WffIdAttr {
		for i, prefix := range self.idPrefixes {
			if !strings.HasPrefix(value, prefix) {
				continue
			}
			if v, ok := parseCanonicalUint32(value[len(prefix):]); ok {
				return append([]byte{byte(int8(-(wffIdAttrWidthBase + i)))}, OptimizedBytesFromInt(v)...)
			}
		}
	}
	if index, ok := self.attrIndexes[name]; ok {
		indexBytes := OptimizedBytesFromInt(uint32(index))
		width := len(indexBytes)
		if value == "" {
			return append([]byte{byte(int8(-width))}, indexBytes...)
		}
		if v, ok := parseCanonicalUint32(value); ok {
			b := append([]byte{byte(int8(-width))}, indexBytes...)
			return append(b, OptimizedBytesFromInt(v)...)
		}
		b := append([]byte{byte(width)}, indexBytes...)
		return append(b, value...)
	}
	if value == "" {
		return append([]byte{0}, name...)
	}
	return append([]byte{0}, name+"="+value...)
}

// EventAttrBytes is the outbound form of an event attribute name:
// [0][index bytes] when indexed, otherwise the literal name.
func (self *Symbols) EventAttrBytes(name string) []byte {
	if index, ok := self.eventAttrIndexes[name]; ok {
		return append([]byte{0}, OptimizedBytesFromInt(uint32(index))...)
	}
	return []byte(name)
}

func (self *Symbols) EventAttrName(b []byte) (string, error) {
	if 1 < len(b) && b[0] == 0 {
		index, err := IntFromOptimizedBytes(b[1:])
		if err != nil {
			return "", err
		}
		return lookupName(self.eventAttrs, "event attribute", index)
	}
	return string(b), nil
}

func (self *Symbols) String() string {
	return fmt.Sprintf("tags=%d attrs=%d events=%d prefixes=%v", len(self.tags), len(self.attrs), len(self.eventAttrs), self.idPrefixes)
}
