// Package usbchan provides the dongle's two logical USB endpoints —
// control and data — with timeout classification and write-retry
// discipline built on gousb: vendor/product lookup, config and
// interface claiming, and context-scoped endpoint reads/writes.
package usbchan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/gousb"

	"galileosync/internal/byteutil"
	"galileosync/internal/wireerr"
)

// Dongle identity.
const (
	VendorID  = 0x2687
	ProductID = 0xFB01

	ctrlOutEndpoint = 0x02
	ctrlInEndpoint  = 0x82
	dataOutEndpoint = 0x01
	dataInEndpoint  = 0x81

	// DefaultTimeout is the ordinary per-operation deadline.
	DefaultTimeout = 2 * time.Second
)

// statusIns is the control-channel instruction that carries an ASCII
// status string.
const statusIns = 1

// Dongle owns the process-wide USB handle and the two endpoint pairs
// for the duration of a sync run.
type Dongle struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	ctrlIf *gousb.Interface
	dataIf *gousb.Interface

	ctrlOut *gousb.OutEndpoint
	ctrlIn  *gousb.InEndpoint
	dataOut *gousb.OutEndpoint
	dataIn  *gousb.InEndpoint
}

// Open acquires the dongle's USB handle, detaches any active kernel
// driver on both interfaces, and claims the control and data
// interfaces. Callers must Close the returned Dongle on every exit
// path.
func Open() (*Dongle, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbchan: open device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, wireerr.ErrNoDongle
	}

	// Both the data and control interfaces may have a kernel driver
	// attached; ask libusb to detach/reattach automatically rather than
	// doing it by hand as the Python original does per-interface.
	if err := dev.SetAutoDetach(true); err != nil {
		if isPermission(err) {
			dev.Close()
			ctx.Close()
			return nil, wireerr.ErrPermissionDenied
		}
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbchan: enable auto-detach: %w", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbchan: set config: %w", err)
	}

	dataIf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbchan: claim data interface: %w", err)
	}
	ctrlIf, err := cfg.Interface(1, 0)
	if err != nil {
		dataIf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbchan: claim control interface: %w", err)
	}

	dataOut, err := dataIf.OutEndpoint(dataOutEndpoint)
	if err != nil {
		return nil, closeAndWrap(ctrlIf, dataIf, cfg, dev, ctx, "open data OUT endpoint", err)
	}
	dataIn, err := dataIf.InEndpoint(dataInEndpoint)
	if err != nil {
		return nil, closeAndWrap(ctrlIf, dataIf, cfg, dev, ctx, "open data IN endpoint", err)
	}
	ctrlOut, err := ctrlIf.OutEndpoint(ctrlOutEndpoint)
	if err != nil {
		return nil, closeAndWrap(ctrlIf, dataIf, cfg, dev, ctx, "open control OUT endpoint", err)
	}
	ctrlIn, err := ctrlIf.InEndpoint(ctrlInEndpoint)
	if err != nil {
		return nil, closeAndWrap(ctrlIf, dataIf, cfg, dev, ctx, "open control IN endpoint", err)
	}

	return &Dongle{
		ctx: ctx, dev: dev, cfg: cfg,
		ctrlIf: ctrlIf, dataIf: dataIf,
		ctrlOut: ctrlOut, ctrlIn: ctrlIn,
		dataOut: dataOut, dataIn: dataIn,
	}, nil
}

func closeAndWrap(ctrlIf, dataIf *gousb.Interface, cfg *gousb.Config, dev *gousb.Device, ctx *gousb.Context, what string, err error) error {
	if ctrlIf != nil {
		ctrlIf.Close()
	}
	dataIf.Close()
	cfg.Close()
	dev.Close()
	ctx.Close()
	return fmt.Errorf("usbchan: %s: %w", what, err)
}

func isPermission(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "permission")
}

// Close releases the interfaces, configuration, device handle, and USB
// context, in that order. Safe to call more than once.
func (d *Dongle) Close() error {
	if d.ctrlIf != nil {
		d.ctrlIf.Close()
		d.ctrlIf = nil
	}
	if d.dataIf != nil {
		d.dataIf.Close()
		d.dataIf = nil
	}
	if d.cfg != nil {
		d.cfg.Close()
		d.cfg = nil
	}
	if d.dev != nil {
		d.dev.Close()
		d.dev = nil
	}
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}
	return nil
}

// isTimeout classifies an OS/USB error as the abstract Timeout
// condition: a platform timeout errno or either of the two message
// strings the underlying libusb binding surfaces.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "operation timed out") ||
		strings.Contains(msg, "connection timed out") ||
		strings.Contains(msg, "etimedout")
}

// CtrlWrite writes a control-channel message: [len, INS, payload...].
// len is computed automatically from the payload.
func (d *Dongle) CtrlWrite(ins byte, payload []byte, timeout time.Duration) error {
	msg := buildCtrlMessage(ins, payload)
	n, err := d.writeWithRetry(d.ctrlOut, msg, timeout)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return wireerr.ErrWriteIncomplete
	}
	return nil
}

func (d *Dongle) writeWithRetry(ep *gousb.OutEndpoint, data []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := ep.WriteContext(ctx, data)
	if err == nil {
		return n, nil
	}
	if isTimeout(err) {
		return n, wireerr.ErrTimeout
	}
	// a single retry on I/O error
	ctx2, cancel2 := context.WithTimeout(context.Background(), timeout)
	defer cancel2()
	n, err = ep.WriteContext(ctx2, data)
	if err != nil {
		if isTimeout(err) {
			return n, wireerr.ErrTimeout
		}
		return n, fmt.Errorf("usbchan: write failed: %w", err)
	}
	return n, nil
}

// CtrlRead reads one variable-length control-channel message (up to 32
// bytes).
func (d *Dongle) CtrlRead(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 32)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := d.ctrlIn.ReadContext(ctx, buf)
	if err != nil {
		if isTimeout(err) {
			return nil, wireerr.ErrTimeout
		}
		return nil, fmt.Errorf("usbchan: ctrl read: %w", err)
	}
	return buf[:n], nil
}

// DataWrite writes a fixed 32-byte data-channel packet. payload must be
// at most 31 bytes; it is padded with zeros and the final byte set to
// the true payload length.
func (d *Dongle) DataWrite(payload []byte, timeout time.Duration) error {
	msg, err := buildDataMessage(payload)
	if err != nil {
		return err
	}

	n, err := d.writeWithRetry(d.dataOut, msg, timeout)
	if err != nil {
		return err
	}
	if n != 32 {
		return wireerr.ErrWriteIncomplete
	}
	return nil
}

// DataRead reads one fixed 32-byte data-channel packet and returns its
// logical payload (the last byte is the true length).
func (d *Dongle) DataRead(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 32)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := d.dataIn.ReadContext(ctx, buf)
	if err != nil {
		if isTimeout(err) {
			return nil, wireerr.ErrTimeout
		}
		return nil, fmt.Errorf("usbchan: data read: %w", err)
	}
	if n != 32 {
		return nil, fmt.Errorf("usbchan: data read returned %d bytes, want 32", n)
	}
	return parseDataMessage(buf), nil
}

// ParseStatus reports whether a control-channel message is the
// well-known status instruction and, if msg is non-nil, whether its
// ASCII payload matches.
func ParseStatus(data []byte, msg *string) bool {
	if len(data) < 2 || data[0] != 0x20 || data[1] != statusIns {
		return false
	}
	if msg == nil {
		return true
	}
	return byteutil.ASCII(data[2:], false) == *msg
}
