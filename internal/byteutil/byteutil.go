// Package byteutil provides the fixed-width integer/byte conversions,
// hex formatting, and ASCII helpers the wire protocol builds on top of.
// Every width is explicit; nothing here assumes a platform endianness.
package byteutil

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Base64Encode encodes b using standard base64, matching the Python
// tool's base64.b64encode.
func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode decodes a standard base64 string.
func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// LSBUint decodes a little-endian unsigned integer from b. An empty b
// decodes to 0; callers are expected to slice a known-width field.
func LSBUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// MSBUint decodes a big-endian unsigned integer from b.
func MSBUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// PutLSBUint encodes v into a width-byte little-endian array.
func PutLSBUint(v uint64, width int) []byte {
	a := make([]byte, width)
	for i := 0; i < width; i++ {
		a[i] = byte(v >> (8 * uint(i)))
	}
	return a
}

// PutMSBUint encodes v into a width-byte big-endian array.
func PutMSBUint(v uint64, width int) []byte {
	a := make([]byte, width)
	for i := 0; i < width; i++ {
		a[width-1-i] = byte(v >> (8 * uint(i)))
	}
	return a
}

// Hex formats b as space-delimited uppercase hex pairs. When shorten is
// true, a run of trailing zero bytes is collapsed to "00 (N times)",
// matching the original tool's dump-log formatting.
func Hex(b []byte, shorten bool) string {
	b = append([]byte(nil), b...)
	trimmed := 0
	if shorten {
		for len(b) != 0 && b[len(b)-1] == 0 {
			b = b[:len(b)-1]
			trimmed++
		}
	}
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{c}))
	}
	s := strings.Join(parts, " ")
	if trimmed == 0 {
		return s
	}
	note := fmt.Sprintf("00 (%d times)", trimmed)
	if s == "" {
		return note
	}
	return s + " " + note
}

// HexCompact formats b as a contiguous lowercase hex string with no
// delimiter, as used for tracker IDs and serial numbers.
func HexCompact(b []byte) string {
	return hex.EncodeToString(b)
}

// ParseHex parses a space-delimited hex string back into bytes.
func ParseHex(s string) ([]byte, error) {
	fields := strings.Fields(s)
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("byteutil: invalid hex byte %q: %w", f, err)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// ASCII converts b to a string, stopping at the first NUL byte when
// truncate is true.
func ASCII(b []byte, truncate bool) string {
	if truncate {
		for i, c := range b {
			if c == 0 {
				b = b[:i]
				break
			}
		}
	}
	return string(b)
}
