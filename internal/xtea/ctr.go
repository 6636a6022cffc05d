package xtea

import "encoding/binary"

// CTR implements the XTEA counter-mode keystream: an 8-byte counter,
// incremented LSB-first by one per block, is encrypted under the key
// to produce successive keystream blocks.
type CTR struct {
	key     Key
	counter uint64
}

// ComputeIV derives the initial CTR counter from a dump's nonce:
// IV = XTEA-CMAC(key, zero-block || nonce).
func ComputeIV(key Key, nonce []byte) [8]byte {
	cmac := NewCMAC(key)
	_, _ = cmac.Write(make([]byte, 8))
	_, _ = cmac.Write(nonce)
	return cmac.Sum()
}

// NewCTR returns a CTR stream seeded with an 8-byte counter IV (as
// produced by ComputeIV), read LSB-first.
func NewCTR(key Key, iv [8]byte) *CTR {
	return &CTR{key: key, counter: binary.LittleEndian.Uint64(iv[:])}
}

// advance increments the LSB-first counter and returns its byte
// encoding, the value the cipher block is derived from.
func (c *CTR) advance() [8]byte {
	c.counter++
	var counterBytes [8]byte
	binary.LittleEndian.PutUint64(counterBytes[:], c.counter)
	return counterBytes
}

// nextBlock increments the counter and encrypts it, yielding the next
// 8 bytes of keystream.
func (c *CTR) nextBlock() [8]byte {
	return Encrypt(c.key, c.advance(), Rounds)
}

// XORKeyStream XORs src into dst byte-wise using successive keystream
// blocks. dst and src may be the same slice (in-place decryption).
func (c *CTR) XORKeyStream(dst, src []byte) {
	i := 0
	for i < len(src) {
		block := c.nextBlock()
		for j := 0; j < 8 && i < len(src); j, i = j+1, i+1 {
			dst[i] = src[i] ^ block[j]
		}
	}
}
