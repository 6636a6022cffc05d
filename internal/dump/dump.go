// Package dump implements the tracker block container: the accumulator
// that receives a megadump/microdump over the data channel, validates
// its integrity, and serializes it for the server exchange; and the
// inverse accumulator that chunks a server response for re-upload.
package dump

import (
	"fmt"

	"galileosync/internal/byteutil"
	"galileosync/internal/crc16"
	"galileosync/internal/slip1"
)

// Well-known dump types.
const (
	Microdump = 3
	Megadump  = 13
)

// Footer is the fixed-shape packet that terminates a dump: it begins
// with the SLIP1 frame marker and carries the declared type, the
// transport CRC, and the body length.
//
//	[0xC0, _, dataType, crcLo, crcHi, lenByte0, lenByte1, (lenByte2, lenByte3)]
//
// The length field is little-endian and may be 2, 3, or 4 bytes wide
// depending on how much of the footer is present, so BodyLength
// prefers the widest field the footer's length supports.
type Footer []byte

// ErrFooterTooShort is returned when a footer is too short to carry
// even the minimal type+CRC+2-byte-length fields.
var ErrFooterTooShort = fmt.Errorf("dump: footer shorter than 7 bytes")

// DataType returns the footer's declared dump type (offset 2).
func (f Footer) DataType() (byte, error) {
	if len(f) < 3 {
		return 0, ErrFooterTooShort
	}
	return f[2], nil
}

// CRC returns the footer's transport CRC (offset 3..5, little-endian).
func (f Footer) CRC() (uint16, error) {
	if len(f) < 5 {
		return 0, ErrFooterTooShort
	}
	return uint16(byteutil.LSBUint(f[3:5])), nil
}

// BodyLength returns the footer's declared body length. It reads
// whatever width is available at offset 5 onward, up to 4 bytes.
func (f Footer) BodyLength() (int, error) {
	if len(f) < 7 {
		return 0, ErrFooterTooShort
	}
	end := len(f)
	if end > 9 {
		end = 9
	}
	return int(byteutil.LSBUint(f[5:end])), nil
}

// InvalidDumpError describes which integrity check of isValid failed.
type InvalidDumpError struct {
	Reason string
}

func (e *InvalidDumpError) Error() string {
	return "dump: invalid dump: " + e.Reason
}

// Dump accumulates a tracker block's body as it streams in over the
// data channel, validating it against its footer once sealed.
type Dump struct {
	declaredType byte
	data         []byte
	footer       Footer
	crc          *crc16.CRC16
	esc          [2]int
}

// New returns an empty Dump expecting the given declared type.
func New(declaredType byte) *Dump {
	return &Dump{
		declaredType: declaredType,
		crc:          crc16.New(),
	}
}

// Add feeds one data-channel payload into the dump. A payload whose
// first byte is the SLIP1 frame marker is recorded as the footer (only
// the first such payload counts); any other payload is SLIP1-unescaped
// and appended to the body, folding it into the running CRC.
func (d *Dump) Add(payload []byte) {
	if len(payload) > 0 && payload[0] == slip1.End && d.footer == nil {
		d.footer = append(Footer(nil), payload...)
		return
	}
	unescaped := slip1.UnescapeFirst(payload, &d.esc)
	d.crc.Update(unescaped)
	d.data = append(d.data, unescaped...)
}

// Len returns the number of body bytes accumulated so far.
func (d *Dump) Len() int { return len(d.data) }

// Data returns the accumulated body bytes. The returned slice aliases
// the dump's internal storage and must not be mutated by callers that
// still intend to call IsValid/ToBase64.
func (d *Dump) Data() []byte { return d.data }

// Escapes returns the SLIP1 escape tally: esc[0] counts 0xDC
// expansions (unescaped 0xC0), esc[1] counts 0xDD expansions
// (unescaped 0xDB).
func (d *Dump) Escapes() [2]int { return d.esc }

// CRC returns the dump's running/final transport CRC.
func (d *Dump) CRC() uint16 { return d.crc.Final() }

// IsValid checks the three integrity invariants: the footer's declared
// type matches the type this Dump was constructed for, the footer's
// embedded length matches the accumulated body length, and the
// footer's CRC matches the body's streaming CRC. It returns the first
// failing check as an *InvalidDumpError.
func (d *Dump) IsValid() error {
	if d.footer == nil {
		return &InvalidDumpError{Reason: "no footer received"}
	}
	dataType, err := d.footer.DataType()
	if err != nil {
		return &InvalidDumpError{Reason: err.Error()}
	}
	if dataType != d.declaredType {
		return &InvalidDumpError{Reason: fmt.Sprintf(
			"dump is not of requested type: %#x != %#x", dataType, d.declaredType)}
	}
	nbBytes, err := d.footer.BodyLength()
	if err != nil {
		return &InvalidDumpError{Reason: err.Error()}
	}
	if d.Len() != nbBytes {
		return &InvalidDumpError{Reason: fmt.Sprintf(
			"expected length %d bytes, received %d bytes", nbBytes, d.Len())}
	}
	footerCRC, err := d.footer.CRC()
	if err != nil {
		return &InvalidDumpError{Reason: err.Error()}
	}
	if footerCRC != d.CRC() {
		return &InvalidDumpError{Reason: fmt.Sprintf(
			"expected CRC 0x%04X, received 0x%04X", d.CRC(), footerCRC)}
	}
	return nil
}

// ToBase64 serializes body||footer as standard base64, the envelope
// the server client embeds in the sync request.
func (d *Dump) ToBase64() string {
	return byteutil.Base64Encode(append(append([]byte(nil), d.data...), d.footer...))
}

// Header accessors: these read known offsets in the body and return
// ok=false if the dump is not yet long enough for the field.

// MegadumpType returns the raw type byte at offset 0.
func (d *Dump) MegadumpType() (byte, bool) {
	if d.Len() < 1 {
		return 0, false
	}
	return d.data[0], true
}

// Encryption returns the little-endian uint16 at offset 4..6.
func (d *Dump) Encryption() (uint16, bool) {
	if d.Len() < 6 {
		return 0, false
	}
	return uint16(byteutil.LSBUint(d.data[4:6])), true
}

// Nonce returns the 4-byte nonce at offset 6..10.
func (d *Dump) Nonce() ([]byte, bool) {
	if d.Len() < 10 {
		return nil, false
	}
	return d.data[6:10], true
}

// Serial returns the 6-byte serial at offset 10..16 as compact hex.
func (d *Dump) Serial() (string, bool) {
	if d.Len() < 16 {
		return "", false
	}
	return byteutil.HexCompact(d.data[10:16]), true
}

// TrackerType returns the byte at offset 15..16.
func (d *Dump) TrackerType() (byte, bool) {
	if d.Len() < 16 {
		return 0, false
	}
	return d.data[15], true
}

// Response re-escapes an opaque byte stream for outgoing transmission
// in fixed chunks, matching DumpResponse's chunk-boundary escaping:
// when a chunk would begin with 0xC0 or 0xDB, the chunk is emitted as
// [0xDB, escaped-byte, ...next chunkLen-2 bytes] instead, consuming
// chunkLen-1 source bytes rather than chunkLen.
type Response struct {
	data     []byte
	chunkLen int
	index    int
}

// NewResponse returns a Response chunker over data using chunkLen-byte
// chunks (the protocol uses 20).
func NewResponse(data []byte, chunkLen int) *Response {
	return &Response{data: append([]byte(nil), data...), chunkLen: chunkLen}
}

// Next returns the next chunk, or nil, false once data is exhausted.
func (r *Response) Next() ([]byte, bool) {
	if r.index >= len(r.data) {
		return nil, false
	}
	if !slip1.NeedsEscape(r.data[r.index]) {
		end := r.index + r.chunkLen
		if end > len(r.data) {
			end = len(r.data)
		}
		chunk := r.data[r.index:end]
		r.index = end
		return chunk, true
	}
	b := r.data[r.index]
	pair := slip1.EscapeByte(b)
	end := r.index + r.chunkLen - 1
	if end > len(r.data) {
		end = len(r.data)
	}
	rest := r.data[r.index+1 : end]
	r.index = end
	out := make([]byte, 0, 2+len(rest))
	out = append(out, pair[0], pair[1])
	out = append(out, rest...)
	return out, true
}
