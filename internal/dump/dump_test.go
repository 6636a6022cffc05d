package dump_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"galileosync/internal/dump"
)

func TestToBase64RoundTrip(t *testing.T) {
	d := dump.New(1)
	d.Add([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09})
	d.Add([]byte{0xC0, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})

	require.Equal(t, "AAECAwQFBgcICcAAAQIDBAUGBw==", d.ToBase64())
}

func TestHappyPathIsValid(t *testing.T) {
	d := dump.New(dump.Megadump)
	body := []byte{0x26, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
	d.Add(body)
	// footer: C0 _ dataType crcLo crcHi lenLo lenHi ...
	d.Add([]byte{0xC0, 0x00, dump.Megadump, 0x93, 0x44, 0x07, 0x00})

	require.NoError(t, d.IsValid())
}

func TestInvalidDumpWrongLength(t *testing.T) {
	d := dump.New(dump.Megadump)
	d.Add([]byte{0x01, 0x02, 0x03})
	d.Add([]byte{0xC0, 0x00, dump.Megadump, 0x00, 0x00, 0x09, 0x00})

	err := d.IsValid()
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected length")
}

func TestInvalidDumpWrongType(t *testing.T) {
	d := dump.New(dump.Megadump)
	d.Add([]byte{0x01})
	d.Add([]byte{0xC0, 0x00, dump.Microdump, 0x00, 0x00, 0x01, 0x00})

	err := d.IsValid()
	require.Error(t, err)
	require.Contains(t, err.Error(), "not of requested type")
}

func TestSLIP1UnescapeOnAdd(t *testing.T) {
	d := dump.New(1)
	d.Add([]byte{0xDB, 0xDC, 0x01, 0x02}) // escaped 0xC0 at first byte
	require.Equal(t, []byte{0xC0, 0x01, 0x02}, d.Data())
	require.Equal(t, [2]int{1, 0}, d.Escapes())
}

func TestHeaderAccessors(t *testing.T) {
	d := dump.New(dump.Megadump)
	d.Add([]byte{
		0x02,             // megadumpType
		0x00, 0x00, 0x00, // padding to offset 4
		0x01, 0x00, // encryption = 1
		0xDE, 0xAD, 0xBE, 0xEF, // nonce
		0x11, 0x22, 0x33, 0x44, 0x55, // serial (6 bytes incl trackerType)
		0x09,
	})

	mt, ok := d.MegadumpType()
	require.True(t, ok)
	require.Equal(t, byte(0x02), mt)

	enc, ok := d.Encryption()
	require.True(t, ok)
	require.Equal(t, uint16(1), enc)

	nonce, ok := d.Nonce()
	require.True(t, ok)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, nonce)
}

func TestResponseChunkingNoEscape(t *testing.T) {
	data := make([]byte, 45)
	for i := range data {
		data[i] = byte(i + 1)
	}
	r := dump.NewResponse(data, 20)

	var chunks [][]byte
	for {
		c, ok := r.Next()
		if !ok {
			break
		}
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 20)
	require.Len(t, chunks[1], 20)
	require.Len(t, chunks[2], 5)
}

func TestResponseChunkingEscapesBoundary(t *testing.T) {
	data := append([]byte{0xC0}, make([]byte, 19)...)
	for i := 1; i < len(data); i++ {
		data[i] = byte(i)
	}
	r := dump.NewResponse(data, 20)

	chunk, ok := r.Next()
	require.True(t, ok)
	require.Equal(t, byte(0xDB), chunk[0])
	require.Equal(t, byte(0xDC), chunk[1])
	require.Len(t, chunk, 20)
}
