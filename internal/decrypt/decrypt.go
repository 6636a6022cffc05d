// Package decrypt reverses the XTEA-CTR encryption applied to a
// persisted dump: it parses the hex-per-line archive format syncrun
// writes, loads the tracker's key, and recovers the plaintext body and
// response.
package decrypt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"galileosync/internal/byteutil"
	"galileosync/internal/wireerr"
	"galileosync/internal/xtea"
)

// File is a parsed dump archive: the dump body and, if present, the
// server's response, each as raw bytes.
type File struct {
	Body     []byte
	Response []byte
}

// ParseFile reads a hex-per-line archive, splitting body and response
// sections on the first blank line.
func ParseFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(raw), "\n")
	var body, response []byte
	inResponse := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			inResponse = true
			continue
		}
		b, err := byteutil.ParseHex(line)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %s: %w", path, err)
		}
		if inResponse {
			response = append(response, b...)
		} else {
			body = append(body, b...)
		}
	}
	return &File{Body: body, Response: response}, nil
}

// LoadKey reads a tracker's 16-byte key from {dumpDir}/keys/{trackerHex}.
func LoadKey(dumpDir, trackerHex string) (xtea.Key, error) {
	var key xtea.Key
	raw, err := os.ReadFile(filepath.Join(dumpDir, "keys", trackerHex))
	if err != nil {
		return key, err
	}
	trimmed := strings.TrimSpace(string(raw))
	b, err := byteutil.ParseHex(trimmed)
	if err != nil {
		// keys are also accepted as a contiguous hex string with no
		// spaces, matching how they're pasted from the web dashboard
		var hexErr error
		b, hexErr = byteutil.ParseHex(insertSpaces(trimmed))
		if hexErr != nil {
			return key, err
		}
	}
	if len(b) != 16 {
		return key, fmt.Errorf("decrypt: key must be 16 bytes, got %d", len(b))
	}
	copy(key[:], b)
	return key, nil
}

func insertSpaces(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 2
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}

// headerEncryption returns the dump body's declared encryption scheme
// (little-endian uint16 at offset 4..6) and the 4-byte nonce at offset
// 6..10.
func headerEncryption(body []byte) (scheme uint16, nonce []byte, ok bool) {
	if len(body) < 10 {
		return 0, nil, false
	}
	return uint16(byteutil.LSBUint(body[4:6])), body[6:10], true
}

// Decrypt reverses a File's encryption on copies of Body and
// Response, leaving the header (the first 16 bytes of Body, 10 bytes
// of Response) untouched.
func Decrypt(f *File, key xtea.Key) (*File, error) {
	scheme, nonce, ok := headerEncryption(f.Body)
	if !ok {
		return nil, fmt.Errorf("decrypt: dump body too short to carry a header")
	}

	switch scheme {
	case 0:
		return &File{Body: append([]byte(nil), f.Body...), Response: append([]byte(nil), f.Response...)}, nil
	case 1:
		iv := xtea.ComputeIV(key, nonce)

		out := &File{
			Body:     append([]byte(nil), f.Body...),
			Response: append([]byte(nil), f.Response...),
		}
		if len(out.Body) > 16 {
			xtea.NewCTR(key, iv).XORKeyStream(out.Body[16:], out.Body[16:])
		}
		if len(out.Response) > 10 {
			xtea.NewCTR(key, iv).XORKeyStream(out.Response[10:], out.Response[10:])
		}
		return out, nil
	default:
		return nil, wireerr.ErrUnknownDumpType
	}
}

// WriteDecrypted persists a decrypted File under the same base name as
// srcPath with a _dec.txt suffix.
func WriteDecrypted(srcPath string, f *File) (string, error) {
	base := strings.TrimSuffix(srcPath, filepath.Ext(srcPath))
	dstPath := base + "_dec.txt"

	var b strings.Builder
	writeHexLines(&b, f.Body)
	b.WriteString("\n")
	if len(f.Response) > 0 {
		writeHexLines(&b, f.Response)
	}

	if err := os.WriteFile(dstPath, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return dstPath, nil
}

func writeHexLines(b *strings.Builder, data []byte) {
	for i := 0; i < len(data); i += 20 {
		end := i + 20
		if end > len(data) {
			end = len(data)
		}
		b.WriteString(byteutil.Hex(data[i:end], false))
		b.WriteString("\n")
	}
}
