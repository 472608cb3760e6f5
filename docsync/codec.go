package docsync

import (
	"fmt"
)

// wire format of a message:
//
//	[name length width][value length width]
//	repeated records:
//	    [name length][name bytes][value count]([value length][value bytes])*
//
// the widths are 1..4 and all lengths and counts are big endian.
// the encoder picks the minimal widths that fit the largest name length,
// value count, and value length.

const MaxLengthWidth = 4

// NameValue is one record of a message. Names and values are opaque bytes.
type NameValue struct {
	Name   []byte
	Values [][]byte
}

func NewNameValue(name []byte, values ...[]byte) *NameValue {
	if name == nil {
		name = []byte{}
	}
	if values == nil {
		values = [][]byte{}
	}
	return &NameValue{
		Name:   name,
		Values: values,
	}
}

func (self *NameValue) String() string {
	return fmt.Sprintf("%x%x", self.Name, self.Values)
}

// FormatError is raised for malformed or truncated input.
type FormatError struct {
	Offset int
	Reason string
}

func formatErrorf(offset int, format string, a ...any) *FormatError {
	return &FormatError{
		Offset: offset,
		Reason: fmt.Sprintf(format, a...),
	}
}

func (self *FormatError) Error() string {
	return fmt.Sprintf("Malformed message at %d: %s", self.Offset, self.Reason)
}

func EncodeMessage(nameValues []*NameValue) []byte {
	nameWidth := 1
	valueWidth := 1
	for _, nameValue := range nameValues {
		nameWidth = max(nameWidth, OptimizedIntWidth(uint32(len(nameValue.Name))))
		valueWidth = max(valueWidth, OptimizedIntWidth(uint32(len(nameValue.Values))))
		for _, value := range nameValue.Values {
			valueWidth = max(valueWidth, OptimizedIntWidth(uint32(len(value))))
		}
	}

	n := 2
	for _, nameValue := range nameValues {
		n += nameWidth + len(nameValue.Name) + valueWidth
		for _, value := range nameValue.Values {
			n += valueWidth + len(value)
		}
	}

	b := make([]byte, n)
	b[0] = byte(nameWidth)
	b[1] = byte(valueWidth)
	i := 2
	for _, nameValue := range nameValues {
		putFixedInt(b[i:i+nameWidth], uint32(len(nameValue.Name)))
		i += nameWidth
		i += copy(b[i:], nameValue.Name)
		putFixedInt(b[i:i+valueWidth], uint32(len(nameValue.Values)))
		i += valueWidth
		for _, value := range nameValue.Values {
			putFixedInt(b[i:i+valueWidth], uint32(len(value)))
			i += valueWidth
			i += copy(b[i:], value)
		}
	}
	return b
}

// DecodeMessage returns slices that alias `b`.
// Use `CopyNameValues` when the message buffer is reused.
func DecodeMessage(b []byte) ([]*NameValue, error) {
	if len(b) < 2 {
		return nil, formatErrorf(0, "missing header (%d bytes)", len(b))
	}
	nameWidth := int(b[0])
	valueWidth := int(b[1])
	if nameWidth < 1 || MaxLengthWidth < nameWidth {
		return nil, formatErrorf(0, "name length width %d", nameWidth)
	}
	if valueWidth < 1 || MaxLengthWidth < valueWidth {
		return nil, formatErrorf(1, "value length width %d", valueWidth)
	}

	nameValues := []*NameValue{}
	i := 2
	for i < len(b) {
		nameLen, err := readFixedInt(b, i, nameWidth)
		if err != nil {
			return nil, err
		}
		i += nameWidth
		name, err := readBytes(b, i, nameLen)
		if err != nil {
			return nil, err
		}
		i += nameLen

		valueCount, err := readFixedInt(b, i, valueWidth)
		if err != nil {
			return nil, err
		}
		i += valueWidth
		// each value needs at least its length prefix
		if (len(b)-i)/valueWidth < valueCount {
			return nil, formatErrorf(i, "value count %d exceeds remaining %d bytes", valueCount, len(b)-i)
		}

		values := make([][]byte, 0, valueCount)
		for j := 0; j < valueCount; j += 1 {
			valueLen, err := readFixedInt(b, i, valueWidth)
			if err != nil {
				return nil, err
			}
			i += valueWidth
			value, err := readBytes(b, i, valueLen)
			if err != nil {
				return nil, err
			}
			i += valueLen
			values = append(values, value)
		}

		nameValues = append(nameValues, &NameValue{
			Name:   name,
			Values: values,
		})
	}
	return nameValues, nil
}

func CopyNameValues(nameValues []*NameValue) []*NameValue {
	copies := make([]*NameValue, 0, len(nameValues))
	for _, nameValue := range nameValues {
		values := make([][]byte, 0, len(nameValue.Values))
		for _, value := range nameValue.Values {
			values = append(values, append([]byte{}, value...))
		}
		copies = append(copies, &NameValue{
			Name:   append([]byte{}, nameValue.Name...),
			Values: values,
		})
	}
	return copies
}

func readFixedInt(b []byte, i int, width int) (int, error) {
	if len(b) < i+width {
		return 0, formatErrorf(i, "truncated length (need %d bytes, have %d)", width, len(b)-i)
	}
	var n uint32
	for _, v := range b[i : i+width] {
		n = n<<8 | uint32(v)
	}
	if uint32(len(b)) < n {
		return 0, formatErrorf(i, "length %d exceeds message size %d", n, len(b))
	}
	return int(n), nil
}

func readBytes(b []byte, i int, n int) ([]byte, error) {
	if len(b) < i+n {
		return nil, formatErrorf(i, "truncated value (need %d bytes, have %d)", n, len(b)-i)
	}
	return b[i : i+n : i+n], nil
}
