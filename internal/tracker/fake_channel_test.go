package tracker_test

import (
	"time"

	"galileosync/internal/wireerr"
)

// fakeChannel scripts a dongle peer for protocol tests: CtrlWrite/
// DataWrite calls are recorded, and CtrlRead/DataRead calls pop
// pre-scripted responses (or errors) in order.
type fakeChannel struct {
	ctrlWrites [][]byte
	ctrlResp   [][]byte
	ctrlErr    []error
	ctrlPos    int

	dataWrites [][]byte
	dataResp   [][]byte
	dataErr    []error
	dataPos    int
}

func (f *fakeChannel) CtrlWrite(ins byte, payload []byte, _ time.Duration) error {
	msg := append([]byte{byte(2 + len(payload)), ins}, payload...)
	f.ctrlWrites = append(f.ctrlWrites, msg)
	return nil
}

func (f *fakeChannel) CtrlRead(_ time.Duration) ([]byte, error) {
	if f.ctrlPos >= len(f.ctrlResp) {
		return nil, wireerr.ErrTimeout
	}
	i := f.ctrlPos
	f.ctrlPos++
	if i < len(f.ctrlErr) && f.ctrlErr[i] != nil {
		return nil, f.ctrlErr[i]
	}
	return f.ctrlResp[i], nil
}

func (f *fakeChannel) DataWrite(payload []byte, _ time.Duration) error {
	f.dataWrites = append(f.dataWrites, append([]byte(nil), payload...))
	return nil
}

func (f *fakeChannel) DataRead(_ time.Duration) ([]byte, error) {
	if f.dataPos >= len(f.dataResp) {
		return nil, wireerr.ErrTimeout
	}
	i := f.dataPos
	f.dataPos++
	if i < len(f.dataErr) && f.dataErr[i] != nil {
		return nil, f.dataErr[i]
	}
	return f.dataResp[i], nil
}

// ctrlMsg builds a raw [len, ins, payload...] message as the dongle
// would emit it on the control endpoint.
func ctrlMsg(ins byte, payload ...byte) []byte {
	return append([]byte{byte(2 + len(payload)), ins}, payload...)
}
