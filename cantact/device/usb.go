package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"

	"github.com/linklayer/cantact-go/cantact/gsusb"
)

// USB identifiers of known gs_usb devices.
var supportedIDs = []struct {
	vid, pid gousb.ID
}{
	{0x1D50, 0x606F}, // candleLight / CANtact
	{0x1209, 0x2323}, // CANtact Pro
}

const (
	ctrlOut = gousb.ControlVendor | gousb.ControlInterface | gousb.ControlOut
	ctrlIn  = gousb.ControlVendor | gousb.ControlInterface | gousb.ControlIn

	rxBuffer = 256
)

// USB drives a gs_usb adapter over libusb. Control requests run on the
// caller's goroutine; a reader goroutine started by StartTransfers pumps
// the bulk IN endpoint into the frame channel.
type USB struct {
	ctx      *gousb.Context
	dev      *gousb.Device
	intf     *gousb.Interface
	intfDone func()
	in       *gousb.InEndpoint
	out      *gousb.OutEndpoint

	txmu sync.Mutex // serializes bulk writes

	mu     sync.Mutex
	frames chan gsusb.HostFrame
	cancel context.CancelFunc
	done   chan struct{}
	fdMode bool
	closed bool
}

// Open claims the first gs_usb device found on the system and performs the
// host format handshake.
func Open() (*USB, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for _, id := range supportedIDs {
			if desc.Vendor == id.vid && desc.Product == id.pid {
				return true
			}
		}
		return false
	})
	// OpenDevices may return both an error and opened handles
	if len(devs) == 0 {
		ctx.Close()
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("device: no gs_usb device attached")
	}
	for _, d := range devs[1:] {
		d.Close()
	}
	dev := devs[0]

	u := &USB{ctx: ctx, dev: dev}
	if err := u.claim(); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return u, nil
}

func (u *USB) claim() error {
	if err := u.dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("device: auto detach: %w", err)
	}
	intf, done, err := u.dev.DefaultInterface()
	if err != nil {
		return fmt.Errorf("device: claim interface: %w", err)
	}
	u.intf = intf
	u.intfDone = done

	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && u.in == nil {
			u.in, err = intf.InEndpoint(ep.Number)
		}
		if ep.Direction == gousb.EndpointDirectionOut && u.out == nil {
			u.out, err = intf.OutEndpoint(ep.Number)
		}
		if err != nil {
			return fmt.Errorf("device: open endpoint %d: %w", ep.Number, err)
		}
	}
	if u.in == nil || u.out == nil {
		return fmt.Errorf("device: bulk endpoints not found")
	}

	// tell the device which byte order the host speaks
	var fmtBuf [4]byte
	hostFormat := uint32(gsusb.HostFormat)
	fmtBuf[0] = byte(hostFormat)
	fmtBuf[1] = byte(hostFormat >> 8)
	fmtBuf[2] = byte(hostFormat >> 16)
	fmtBuf[3] = byte(hostFormat >> 24)
	return u.controlOut(gsusb.BReqHostFormat, 1, fmtBuf[:])
}

func (u *USB) controlOut(breq uint8, value uint16, data []byte) error {
	_, err := u.dev.Control(uint8(ctrlOut), breq, value, uint16(u.intf.Setting.Number), data)
	return usbErr(err)
}

func (u *USB) controlIn(breq uint8, value uint16, data []byte) error {
	_, err := u.dev.Control(uint8(ctrlIn), breq, value, uint16(u.intf.Setting.Number), data)
	return usbErr(err)
}

// Config reads the device_config record.
func (u *USB) Config() (gsusb.DeviceConfig, error) {
	var dc gsusb.DeviceConfig
	buf := make([]byte, 12)
	if err := u.controlIn(gsusb.BReqDeviceConfig, 1, buf); err != nil {
		return dc, err
	}
	err := dc.UnmarshalBinary(buf)
	return dc, err
}

// BitTimingConsts reads the bt_const record with the feature bitmask and
// core clock.
func (u *USB) BitTimingConsts() (gsusb.BitTimingConsts, error) {
	var bc gsusb.BitTimingConsts
	buf := make([]byte, 40)
	if err := u.controlIn(gsusb.BReqBTConst, 0, buf); err != nil {
		return bc, err
	}
	err := bc.UnmarshalBinary(buf)
	return bc, err
}

// SetMode issues a start or reset command for a channel. Starting any
// channel in FD mode switches the bulk pipes to FD sized frames.
func (u *USB) SetMode(channel uint16, mode gsusb.Mode) error {
	b, _ := mode.MarshalBinary()
	if err := u.controlOut(gsusb.BReqMode, channel, b); err != nil {
		return err
	}
	if mode.Mode == gsusb.CANModeStart && mode.Flags&gsusb.ModeFD != 0 {
		u.mu.Lock()
		u.fdMode = true
		u.mu.Unlock()
	}
	return nil
}

// SetBitTiming programs the arbitration phase timing for a channel.
func (u *USB) SetBitTiming(channel uint16, bt gsusb.BitTiming) error {
	b, _ := bt.MarshalBinary()
	return u.controlOut(gsusb.BReqBitTiming, channel, b)
}

// SetDataBitTiming programs the FD data phase timing for a channel.
func (u *USB) SetDataBitTiming(channel uint16, bt gsusb.BitTiming) error {
	b, _ := bt.MarshalBinary()
	return u.controlOut(gsusb.BReqDataBitTiming, channel, b)
}

// StartTransfers starts the bulk reader goroutine. The frame channel
// returned by Frames is replaced on every call.
func (u *USB) StartTransfers() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	if u.cancel != nil {
		return nil // already pumping
	}
	ctx, cancel := context.WithCancel(context.Background())
	u.frames = make(chan gsusb.HostFrame, rxBuffer)
	u.cancel = cancel
	u.done = make(chan struct{})
	go u.readLoop(ctx, u.frames, u.done)
	return nil
}

// StopTransfers stops the reader goroutine and closes the frame channel
// once the reader has exited.
func (u *USB) StopTransfers() error {
	u.mu.Lock()
	if u.cancel == nil {
		u.mu.Unlock()
		return nil
	}
	cancel, done := u.cancel, u.done
	u.cancel, u.done = nil, nil
	u.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (u *USB) readLoop(ctx context.Context, frames chan gsusb.HostFrame, done chan struct{}) {
	defer close(done)
	defer close(frames)

	buf := make([]byte, gsusb.HostFrameFDSize)
	for {
		n, err := u.in.ReadContext(ctx, buf)
		if err != nil {
			if errors.Is(usbErr(err), ErrTimeout) {
				continue
			}
			// cancelled or endpoint gone, tear the channel down
			return
		}
		hf, err := gsusb.UnmarshalHostFrame(buf[:n])
		if err != nil {
			continue // runt transfer, drop it
		}
		select {
		case frames <- hf:
		case <-ctx.Done():
			return
		}
	}
}

// Send transmits one frame on the bulk OUT endpoint.
func (u *USB) Send(hf gsusb.HostFrame) error {
	u.mu.Lock()
	fd := u.fdMode
	closed := u.closed
	u.mu.Unlock()
	if closed {
		return ErrClosed
	}

	u.txmu.Lock()
	defer u.txmu.Unlock()
	_, err := u.out.Write(hf.Marshal(fd))
	return usbErr(err)
}

// Frames returns the inbound frame channel for the current transfer
// session.
func (u *USB) Frames() <-chan gsusb.HostFrame {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.frames
}

// Close stops transfers and releases the USB handles.
func (u *USB) Close() error {
	u.StopTransfers()
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()

	if u.intfDone != nil {
		u.intfDone()
	}
	if err := u.dev.Close(); err != nil {
		u.ctx.Close()
		return err
	}
	return u.ctx.Close()
}

func usbErr(err error) error {
	if err == nil {
		return nil
	}
	var terr gousb.TransferStatus
	if errors.As(err, &terr) && terr == gousb.TransferTimedOut {
		return ErrTimeout
	}
	if errors.Is(err, gousb.ErrorTimeout) {
		return ErrTimeout
	}
	return err
}
