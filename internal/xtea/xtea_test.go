package xtea_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"galileosync/internal/xtea"
)

func keyFromBytes(b []byte) xtea.Key {
	var k xtea.Key
	copy(k[:], b)
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := keyFromBytes([]byte("0123456789012345"))
	var block [8]byte
	copy(block[:], "ABCDEFGH")

	enc := xtea.Encrypt(key, block, xtea.Rounds)
	dec := xtea.Decrypt(key, enc, xtea.Rounds)

	require.Equal(t, block, dec)
}

func TestEncryptTestVector(t *testing.T) {
	key := keyFromBytes([]byte("0123456789012345"))
	var block [8]byte
	copy(block[:], "ABCDEFGH")

	enc := xtea.Encrypt(key, block, xtea.Rounds)
	require.Equal(t, []byte{0xB6, 0x7C, 0x01, 0x66, 0x2F, 0xF6, 0x96, 0x4A}, enc[:])
}

func TestCMACTestVector(t *testing.T) {
	key := keyFromBytes([]byte{0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78})
	mac := xtea.NewCMAC(key)
	_, _ = mac.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF})

	tag := mac.Sum()
	require.Equal(t, []byte{0xB5, 0xF3, 0xEB, 0x27, 0x15, 0x45, 0xE5, 0x55}, tag[:])
}

func TestComputeIVTestVector(t *testing.T) {
	key := keyFromBytes([]byte{0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78})
	iv := xtea.ComputeIV(key, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.Equal(t, []byte{0xA9, 0x3F, 0x69, 0xFC, 0x60, 0xEB, 0x75, 0x25}, iv[:])
}

func TestCTRDecryptRoundTrip(t *testing.T) {
	key := keyFromBytes([]byte("0123456789012345"))
	nonce := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	iv := xtea.ComputeIV(key, nonce)

	plaintext := []byte("the quick brown fox jumps over")
	ciphertext := make([]byte, len(plaintext))
	xtea.NewCTR(key, iv).XORKeyStream(ciphertext, plaintext)

	decrypted := make([]byte, len(plaintext))
	xtea.NewCTR(key, iv).XORKeyStream(decrypted, ciphertext)

	require.Equal(t, plaintext, decrypted)
	require.NotEqual(t, plaintext, ciphertext)
}
