package usbchan

import "fmt"

// buildCtrlMessage frames a control-channel message as
// [len, INS, payload...], with len computed from the payload.
func buildCtrlMessage(ins byte, payload []byte) []byte {
	msg := make([]byte, 0, 2+len(payload))
	msg = append(msg, byte(2+len(payload)), ins)
	msg = append(msg, payload...)
	return msg
}

// buildDataMessage frames an outgoing 32-byte data-channel packet:
// payload padded with zeros, final byte set to the true length.
func buildDataMessage(payload []byte) ([]byte, error) {
	if len(payload) > 31 {
		return nil, fmt.Errorf("usbchan: data payload %d bytes exceeds 31", len(payload))
	}
	msg := make([]byte, 32)
	copy(msg, payload)
	msg[31] = byte(len(payload))
	return msg, nil
}

// parseDataMessage extracts the logical payload from an incoming
// 32-byte data-channel packet (last byte is the true length).
func parseDataMessage(raw []byte) []byte {
	length := raw[31]
	return raw[:length]
}
