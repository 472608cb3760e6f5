package docsync

import (
	"bytes"
	"errors"
	mathrand "math/rand"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestOptimizedInt(t *testing.T) {
	assert.Equal(t, OptimizedBytesFromInt(0), []byte{0})
	assert.Equal(t, OptimizedBytesFromInt(255), []byte{0xFF})
	assert.Equal(t, OptimizedBytesFromInt(256), []byte{0x01, 0x00})
	assert.Equal(t, OptimizedBytesFromInt(0x010203), []byte{0x01, 0x02, 0x03})
	assert.Equal(t, OptimizedBytesFromInt(0xFFFFFFFF), []byte{0xFF, 0xFF, 0xFF, 0xFF})

	for _, n := range []uint32{0, 1, 127, 128, 255, 256, 65535, 65536, 1 << 24, 1<<32 - 1} {
		m, err := IntFromOptimizedBytes(OptimizedBytesFromInt(n))
		assert.Equal(t, err, nil)
		assert.Equal(t, m, n)
	}

	_, err := IntFromOptimizedBytes([]byte{})
	assert.NotEqual(t, err, nil)
	_, err = IntFromOptimizedBytes([]byte{1, 2, 3, 4, 5})
	assert.NotEqual(t, err, nil)
}

func TestInt32Bytes(t *testing.T) {
	assert.Equal(t, BytesFromInt32(1), []byte{0, 0, 0, 1})
	assert.Equal(t, BytesFromInt32(-1), []byte{0xFF, 0xFF, 0xFF, 0xFF})
	for _, n := range []int32{0, 1, -1, 1 << 30, -(1 << 31) + 1, 1<<31 - 1} {
		m, err := Int32FromBytes(BytesFromInt32(n))
		assert.Equal(t, err, nil)
		assert.Equal(t, m, n)
	}
}

func TestCodecHeaderOnly(t *testing.T) {
	nameValues, err := DecodeMessage([]byte{1, 1})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(nameValues), 0)

	assert.Equal(t, EncodeMessage([]*NameValue{}), []byte{1, 1})
}

func TestCodecFixedLayout(t *testing.T) {
	m := EncodeMessage([]*NameValue{
		NewNameValue([]byte("ab"), []byte{7}, []byte{}),
		NewNameValue([]byte{}),
	})
	assert.Equal(t, m, []byte{
		1, 1,
		2, 'a', 'b', 2, 1, 7, 0,
		0, 0,
	})
}

func TestCodecWideLengths(t *testing.T) {
	big := bytes.Repeat([]byte{0xAB}, 70000)
	nameValues := []*NameValue{
		NewNameValue([]byte("n"), big),
		NewNameValue(big[:300], []byte("x")),
	}
	m := EncodeMessage(nameValues)
	assert.Equal(t, m[0], byte(2))
	assert.Equal(t, m[1], byte(3))

	decoded, err := DecodeMessage(m)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded, nameValues)
}

func TestCodecRoundTripRandom(t *testing.T) {
	r := mathrand.New(mathrand.NewSource(0))
	for i := 0; i < 256; i++ {
		nameValues := []*NameValue{}
		nameValueCount := r.Intn(8)
		for j := 0; j < nameValueCount; j++ {
			name := make([]byte, r.Intn(32))
			r.Read(name)
			values := [][]byte{}
			valueCount := r.Intn(6)
			for k := 0; k < valueCount; k++ {
				value := make([]byte, r.Intn(600))
				r.Read(value)
				values = append(values, value)
			}
			nameValues = append(nameValues, NewNameValue(name, values...))
		}
		decoded, err := DecodeMessage(EncodeMessage(nameValues))
		assert.Equal(t, err, nil)
		assert.Equal(t, decoded, nameValues)
	}
}

func TestCodecMalformed(t *testing.T) {
	for _, m := range [][]byte{
		{},
		{1},
		{0, 1},
		{1, 5},
		// name length past the end
		{1, 1, 5, 'a'},
		// value count without values
		{1, 1, 1, 'a', 3},
		// value length past the end
		{1, 1, 1, 'a', 1, 9, 1, 2},
		// truncated count
		{1, 2, 1, 'a', 0},
	} {
		_, err := DecodeMessage(m)
		var formatErr *FormatError
		assert.Equal(t, errors.As(err, &formatErr), true)
	}
}

func TestCopyNameValues(t *testing.T) {
	m := EncodeMessage([]*NameValue{
		NewNameValue([]byte("a"), []byte("b")),
	})
	nameValues, err := DecodeMessage(m)
	assert.Equal(t, err, nil)
	copies := CopyNameValues(nameValues)
	for i := range m {
		m[i] = 0
	}
	assert.Equal(t, copies[0].Name, []byte("a"))
	assert.Equal(t, copies[0].Values[0], []byte("b"))
}
