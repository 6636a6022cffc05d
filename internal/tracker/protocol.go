package tracker

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"galileosync/internal/byteutil"
	"galileosync/internal/dump"
	"galileosync/internal/usbchan"
	"galileosync/internal/wireerr"
)

// Channel is the dongle's two-endpoint transport, satisfied by
// *usbchan.Dongle. Defining it here lets protocol tests run against a
// scripted peer instead of real hardware.
type Channel interface {
	CtrlWrite(ins byte, payload []byte, timeout time.Duration) error
	CtrlRead(timeout time.Duration) ([]byte, error)
	DataWrite(payload []byte, timeout time.Duration) error
	DataRead(timeout time.Duration) ([]byte, error)
}

// Timeouts governing the slower protocol phases.
const (
	linkEventTimeout  = 5 * time.Second
	linkReadyTimeout  = 8 * time.Second
	airlinkInitExtra  = 10 * time.Second
	eraseAckTimeout   = 60 * time.Second
	defaultCtrlTimout = usbchan.DefaultTimeout
)

// Client drives the tracker protocol over a Channel.
type Client struct {
	ch Channel
}

// NewClient wraps an open dongle channel.
func NewClient(ch Channel) *Client {
	return &Client{ch: ch}
}

// DisconnectAll cancels any in-progress discovery and terminates any
// link the dongle still believes it holds, draining the pipe
// afterward. Timeouts during the drain phase are expected and
// recoverable.
func (c *Client) DisconnectAll() error {
	if err := c.ch.CtrlWrite(insCancelOrTerminate, nil, defaultCtrlTimout); err != nil {
		return err
	}
	if _, err := c.ch.CtrlRead(defaultCtrlTimout); err != nil { // CancelDiscovery ack
		return err
	}
	if _, err := c.ch.CtrlRead(defaultCtrlTimout); err != nil { // TerminateLink ack
		return err
	}
	for i := 0; i < 3; i++ {
		if _, err := c.ch.CtrlRead(defaultCtrlTimout); err != nil {
			if errors.Is(err, wireerr.ErrTimeout) {
				break
			}
			return err
		}
	}
	return nil
}

// GetHardwareInfo issues GetInfo (INS 1) and decodes the dongle's INS 8
// reply.
func (c *Client) GetHardwareInfo() (HardwareInfo, error) {
	if err := c.ch.CtrlWrite(insGetInfoOrStatus, nil, defaultCtrlTimout); err != nil {
		return HardwareInfo{}, err
	}
	raw, err := c.ch.CtrlRead(defaultCtrlTimout)
	if err != nil {
		return HardwareInfo{}, err
	}
	if err := expectIns(raw, 8); err != nil {
		return HardwareInfo{}, err
	}
	p := rawPayload(raw)
	if len(p) < 20 {
		return HardwareInfo{}, &wireerr.ProtocolMismatch{Expected: []byte{20}, Got: p}
	}
	var info HardwareInfo
	info.Major = p[0]
	info.Minor = p[1]
	copy(info.Address[:], p[2:8])
	info.FlashEraseTime = uint16(byteutil.LSBUint(p[8:10]))
	info.FirmwareStart = uint32(byteutil.LSBUint(p[10:14]))
	info.FirmwareEnd = uint32(byteutil.LSBUint(p[14:18]))
	info.CCIC = p[18]
	info.Revision = p[19]
	return info, nil
}

// DiscoverConfig parameterizes Discover.
type DiscoverConfig struct {
	BaseUUID uuid.UUID
	Service  uint16
	Write    uint16
	Read     uint16
	MinRSSI  int8
	// Timeout bounds both the advertised scan duration (encoded on the
	// wire) and the inter-event read deadline while draining events.
	Timeout time.Duration
}

func uuidToLE(u uuid.UUID) []byte {
	le := make([]byte, 16)
	for i := 0; i < 16; i++ {
		le[i] = u[15-i]
	}
	return le
}

// Discover scans for nearby trackers, returning every DiscoveryEvent
// whose RSSI clears MinRSSI. Weak signals (RSSI < -80dBm) are kept but
// flagged via Tracker.Status so the caller can log them; status events
// received mid-stream are ignored.
func (c *Client) Discover(cfg DiscoverConfig) ([]Tracker, error) {
	payload := make([]byte, 0, 24)
	payload = append(payload, uuidToLE(cfg.BaseUUID)...)
	payload = appendLE16(payload, cfg.Service)
	payload = appendLE16(payload, cfg.Write)
	payload = appendLE16(payload, cfg.Read)
	payload = appendLE16(payload, uint16(cfg.Timeout/time.Millisecond))

	if err := c.ch.CtrlWrite(insDiscoveryOrLinkEvent, payload, defaultCtrlTimout); err != nil {
		return nil, err
	}

	raw, err := c.ch.CtrlRead(defaultCtrlTimout)
	if err != nil {
		return nil, err
	}

	// The dongle sometimes answers immediately with a zero-tracker
	// terminator instead of ever emitting a DiscoveryEvent.
	if len(raw) == 3 && rawIns(raw) == insCancelOrTerminate && raw[2] == 0 {
		_, _ = c.ch.CtrlRead(defaultCtrlTimout) // drain CancelDiscovery ack
		return nil, nil
	}

	var trackers []Tracker
	for len(raw) != 3 {
		switch rawIns(raw) {
		case insDiscoveryEvent:
			p := rawPayload(raw)
			if len(p) < 17 {
				return nil, &wireerr.ProtocolMismatch{Expected: []byte{17}, Got: p}
			}
			var t Tracker
			copy(t.ID[:], p[0:6])
			t.AddrType = p[6]
			t.RSSI = int8(p[7])
			if len(p) >= 11 {
				t.ServiceData = append([]byte(nil), p[9:11]...)
			}
			if len(p) >= 17 {
				t.ServiceUUID = [2]byte{p[15], p[16]}
			} else {
				t.ServiceUUID = DeriveServiceUUID(t.ID)
			}
			if t.RSSI < cfg.MinRSSI {
				break
			}
			if t.RSSI < -80 {
				t.Status = "weak"
			}
			trackers = append(trackers, t)
		case insGetInfoOrStatus:
			// status event mid-stream, ignored
		}

		raw, err = c.ch.CtrlRead(cfg.Timeout)
		if err != nil {
			return nil, err
		}
	}

	if err := c.ch.CtrlWrite(insCancelDiscovery, nil, defaultCtrlTimout); err != nil {
		return nil, err
	}
	_, _ = c.ch.CtrlRead(defaultCtrlTimout) // drain

	return trackers, nil
}

func appendLE16(b []byte, v uint16) []byte {
	return append(b, byteutil.PutLSBUint(uint64(v), 2)...)
}

func appendLE48(b []byte, v uint64) []byte {
	return append(b, byteutil.PutLSBUint(v, 6)...)
}

// isFallbackSignal reports whether raw is the dongle's "use the
// extended link-establishment variant" signal: INS 0xFF, payload
// [2, 3].
func isFallbackSignal(raw []byte) bool {
	if rawIns(raw) != 0xFF {
		return false
	}
	p := rawPayload(raw)
	return len(p) == 2 && p[0] == 2 && p[1] == 3
}

// Connect links to tracker, falling back to the extended
// link-establishment variant if the classic one is refused, then opens
// the tx pipe and initializes the airlink.
func (c *Client) Connect(tr Tracker) error {
	payload := append(append([]byte{}, tr.ID[:]...), tr.AddrType)
	payload = append(payload, tr.ServiceUUID[:]...)
	if err := c.ch.CtrlWrite(insEstablishLink, payload, defaultCtrlTimout); err != nil {
		return err
	}

	first, err := c.ch.CtrlRead(defaultCtrlTimout)
	if err != nil {
		return err
	}
	if isFallbackSignal(first) {
		if err := c.establishLinkExtended(tr); err != nil {
			return err
		}
	}
	if err := c.finishEstablishLinkTail(); err != nil {
		return err
	}

	if err := c.ToggleTxPipe(true); err != nil {
		return err
	}
	return c.InitializeAirlink(tr)
}

func (c *Client) establishLinkExtended(tr Tracker) error {
	if err := c.ch.CtrlWrite(insEstablishLinkExPrep, []byte{1, 0}, defaultCtrlTimout); err != nil {
		return err
	}
	if _, err := c.ch.CtrlRead(defaultCtrlTimout); err != nil {
		return err
	}

	payload := append(append([]byte{}, tr.ID[:]...), tr.AddrType)
	payload = appendLE16(payload, 6)
	payload = appendLE16(payload, 6)
	payload = appendLE16(payload, 0)
	payload = appendLE16(payload, 200)
	return c.ch.CtrlWrite(insEstablishLinkEx, payload, defaultCtrlTimout)
}

// finishEstablishLinkTail drains the common tail of both the classic
// and extended link-establishment sequences: an INS 4 acknowledgement,
// the GAP_LINK_ESTABLISHED event, an optional INS 6 parameters echo,
// and the final INS 7 service-discovery-complete.
func (c *Client) finishEstablishLinkTail() error {
	ack, err := c.ch.CtrlRead(defaultCtrlTimout)
	if err != nil {
		return err
	}
	if err := expectIns(ack, insDiscoveryOrLinkEvent); err != nil {
		return err
	}

	if _, err := c.ch.CtrlRead(linkReadyTimeout); err != nil { // GAP_LINK_ESTABLISHED_EVENT
		return err
	}

	next, err := c.ch.CtrlRead(defaultCtrlTimout)
	if err != nil {
		return err
	}
	if rawIns(next) == insEstablishLink {
		next, err = c.ch.CtrlRead(defaultCtrlTimout)
		if err != nil {
			return err
		}
	}
	return expectIns(next, insTerminateLink)
}

// ToggleTxPipe opens or closes the tracker's tx pipe.
func (c *Client) ToggleTxPipe(on bool) error {
	var v byte
	if on {
		v = 1
	}
	if err := c.ch.CtrlWrite(insToggleTxPipe, []byte{v}, defaultCtrlTimout); err != nil {
		return err
	}
	reply, err := c.ch.DataRead(linkEventTimeout)
	if err != nil {
		return err
	}
	return expectData(reply, []byte{frameMarker, 0x0B})
}

// InitializeAirlink opens the airlink to tracker and validates that the
// dongle's reply echoes the requested tracker id.
func (c *Client) InitializeAirlink(tr Tracker) error {
	payload := []byte{frameMarker, dataInitAirlink}
	payload = appendLE16(payload, 10)
	payload = appendLE16(payload, 6)
	payload = appendLE16(payload, 6)
	payload = appendLE16(payload, 0)
	payload = appendLE16(payload, 200)
	if err := c.ch.DataWrite(payload, defaultCtrlTimout); err != nil {
		return err
	}

	if _, err := c.ch.CtrlRead(defaultCtrlTimout + airlinkInitExtra); err != nil {
		return err
	}
	reply, err := c.ch.DataRead(defaultCtrlTimout)
	if err != nil {
		return err
	}
	if len(reply) < 12 || reply[0] != frameMarker || reply[1] != dataAirlinkReply {
		return &wireerr.ProtocolMismatch{Expected: []byte{frameMarker, dataAirlinkReply}, Got: reply}
	}
	var gotID [6]byte
	copy(gotID[:], reply[6:12])
	if gotID != tr.ID {
		return &wireerr.ProtocolMismatch{Expected: tr.ID[:], Got: gotID[:]}
	}
	return nil
}

// GetDump retrieves a dump of the given declared type, validating its
// footer before returning.
func (c *Client) GetDump(declaredType byte) (*dump.Dump, error) {
	if err := c.ch.DataWrite([]byte{frameMarker, dataBeginDump, declaredType}, defaultCtrlTimout); err != nil {
		return nil, err
	}
	ack, err := c.ch.DataRead(defaultCtrlTimout)
	if err != nil {
		return nil, err
	}
	if err := expectData(ack, []byte{frameMarker, dataDumpStartAck, declaredType}); err != nil {
		return nil, err
	}

	d := dump.New(declaredType)
	for {
		chunk, err := c.ch.DataRead(defaultCtrlTimout)
		if err != nil {
			return nil, err
		}
		if len(chunk) > 0 && chunk[0] == frameMarker {
			d.Add(chunk)
			break
		}
		d.Add(chunk)
	}
	if err := d.IsValid(); err != nil {
		return nil, err
	}
	return d, nil
}

// UploadResponse sends a server response back to tracker over the data
// channel, chunked and acknowledged with a wrapping sequence nibble,
// then waits for the flash-erase acknowledgement with an extended
// timeout.
func (c *Client) UploadResponse(body []byte) error {
	lengthPrefix := appendLE48([]byte{frameMarker, dataUploadStart, uploadTag}, uint64(len(body)))
	if err := c.ch.DataWrite(lengthPrefix, defaultCtrlTimout); err != nil {
		return err
	}
	ack, err := c.ch.DataRead(defaultCtrlTimout)
	if err != nil {
		return err
	}
	if err := expectData(ack, []byte{frameMarker, dataUploadAck1, uploadTag, 0, 0}); err != nil {
		return err
	}

	resp := dump.NewResponse(body, 20)
	seq := 0
	for {
		chunk, more := resp.Next()
		if chunk == nil && !more {
			break
		}
		if err := c.ch.DataWrite(chunk, defaultCtrlTimout); err != nil {
			return err
		}
		seq = (seq + 1) % 16
		want := []byte{frameMarker, dataUploadAck2, byte(seq<<4) | uploadTag, 0, 0}
		reply, err := c.ch.DataRead(defaultCtrlTimout)
		if err != nil {
			return err
		}
		if err := expectData(reply, want); err != nil {
			return err
		}
		if !more {
			break
		}
	}

	if err := c.ch.DataWrite([]byte{frameMarker, dataEraseFlash}, defaultCtrlTimout); err != nil {
		return err
	}
	_, err = c.ch.DataRead(eraseAckTimeout)
	return err
}

// Disconnect tears down the airlink and link with tracker. Any timeout
// on the final, optional status read is left for the caller to treat
// as recoverable.
func (c *Client) Disconnect(tr Tracker) error {
	if err := c.ch.DataWrite([]byte{frameMarker, dataDisconnect}, defaultCtrlTimout); err != nil {
		return err
	}
	echo, err := c.ch.DataRead(defaultCtrlTimout)
	if err != nil {
		return err
	}
	if err := expectData(echo, []byte{frameMarker, dataDisconnect}); err != nil {
		return err
	}

	if err := c.ToggleTxPipe(false); err != nil {
		return err
	}

	if err := c.ch.CtrlWrite(insTerminateLink, nil, defaultCtrlTimout); err != nil {
		return err
	}
	if _, err := c.ch.CtrlRead(defaultCtrlTimout); err != nil { // TerminateLink ack
		return err
	}
	if _, err := c.ch.CtrlRead(defaultCtrlTimout); err != nil { // INS 5 event
		return err
	}
	if _, err := c.ch.CtrlRead(linkEventTimeout); err != nil { // GAP_LINK_TERMINATED_EVENT
		return err
	}
	_, err = c.ch.CtrlRead(defaultCtrlTimout) // trailing "22" status, optional
	return err
}
