package xtea

import "encoding/binary"

// rb is the subkey-derivation constant for an 8-byte cipher block.
const rb = 0x1B

// CMAC computes the XTEA-CMAC authentication tag: subkeys K1/K2 are
// derived by encrypting a zero block, and the message is consumed in
// 8-byte chunks, each folded into a running CBC-style state.
type CMAC struct {
	key Key
	iv  [8]byte
	k1  uint64
	k2  uint64
	msg []byte
}

// NewCMAC returns a CMAC ready to accept Write calls.
func NewCMAC(key Key) *CMAC {
	c := &CMAC{key: key}

	l := Encrypt(key, [8]byte{}, Rounds)
	lv := binary.BigEndian.Uint64(l[:])

	k1 := lv << 1
	if l[0]&0x80 != 0 {
		k1 ^= rb
	}
	k2 := k1 << 1
	var k1Bytes [8]byte
	binary.BigEndian.PutUint64(k1Bytes[:], k1)
	if k1Bytes[0]&0x80 != 0 {
		k2 ^= rb
	}
	c.k1 = k1
	c.k2 = k2
	return c
}

// Write buffers message bytes, consuming and folding every complete
// 8-byte chunk except the last (which is only resolved at Sum, since
// its final-block XOR depends on whether it is exactly 8 bytes).
func (c *CMAC) Write(p []byte) (int, error) {
	c.msg = append(c.msg, p...)
	for len(c.msg) > 8 {
		var block [8]byte
		copy(block[:], c.msg[:8])
		c.msg = c.msg[8:]

		ivVal := binary.BigEndian.Uint64(c.iv[:])
		blockVal := binary.BigEndian.Uint64(block[:])
		var folded [8]byte
		binary.BigEndian.PutUint64(folded[:], ivVal^blockVal)
		c.iv = Encrypt(c.key, folded, Rounds)
	}
	return len(p), nil
}

// Sum returns the 8-byte authentication tag over everything written so
// far. It does not mutate the CMAC's state, so Sum may be called more
// than once (matching digest()/final() in the original).
func (c *CMAC) Sum() [8]byte {
	var final [8]byte
	if len(c.msg) == 8 {
		msgVal := binary.BigEndian.Uint64(c.msg)
		binary.BigEndian.PutUint64(final[:], c.k1^msgVal)
	} else {
		padded := make([]byte, 8)
		copy(padded, c.msg)
		padded[len(c.msg)] = 0x80
		msgVal := binary.BigEndian.Uint64(padded)
		binary.BigEndian.PutUint64(final[:], c.k2^msgVal)
	}

	ivVal := binary.BigEndian.Uint64(c.iv[:])
	finalVal := binary.BigEndian.Uint64(final[:])
	var block [8]byte
	binary.BigEndian.PutUint64(block[:], ivVal^finalVal)
	return Encrypt(c.key, block, Rounds)
}
