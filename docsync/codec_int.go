package docsync

import (
	"strconv"
)

// optimized ints are unsigned big endian in the fewest bytes (1..4).
// zero encodes as a single zero byte.

func OptimizedIntWidth(n uint32) int {
	switch {
	case n <= 0xFF:
		return 1
	case n <= 0xFFFF:
		return 2
	case n <= 0xFFFFFF:
		return 3
	default:
		return 4
	}
}

func OptimizedBytesFromInt(n uint32) []byte {
	b := make([]byte, OptimizedIntWidth(n))
	putFixedInt(b, n)
	return b
}

func IntFromOptimizedBytes(b []byte) (uint32, error) {
	if len(b) == 0 || MaxLengthWidth < len(b) {
		return 0, formatErrorf(0, "optimized int of %d bytes", len(b))
	}
	var n uint32
	for _, v := range b {
		n = n<<8 | uint32(v)
	}
	return n, nil
}

// BytesFromInt32 is the fixed four byte big endian form used for sequence headers.
func BytesFromInt32(n int32) []byte {
	b := make([]byte, 4)
	putFixedInt(b, uint32(n))
	return b
}

func Int32FromBytes(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, formatErrorf(0, "int32 of %d bytes", len(b))
	}
	return int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), nil
}

func putFixedInt(b []byte, n uint32) {
	for i := len(b) - 1; 0 <= i; i -= 1 {
		b[i] = byte(n)
		n >>= 8
	}
}

// parseCanonicalUint32 accepts only the decimal form produced by `FormatUint`,
// so that the value round trips through its optimized bytes.
func parseCanonicalUint32(s string) (uint32, bool) {
	if s == "" || (1 < len(s) && s[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
