// Package device holds the USB transport for gs_usb class adapters and a
// simulated stand-in used by tests and the -sim mode.
package device

import (
	"errors"

	"github.com/linklayer/cantact-go/cantact/gsusb"
)

// ErrTimeout is a transport deadline expiring on a control or bulk
// transfer.
var ErrTimeout = errors.New("device: transfer timed out")

// ErrClosed is returned by operations on a device that has been closed.
var ErrClosed = errors.New("device: closed")

// Device is the transport an Interface drives. Config and BitTimingConsts
// are queried once at construction; the mode and timing setters are
// configuration pushes; StartTransfers/StopTransfers bracket active bus
// communication. Frames yields inbound wire frames as they arrive and is
// closed when the transport is torn down.
type Device interface {
	Config() (gsusb.DeviceConfig, error)
	BitTimingConsts() (gsusb.BitTimingConsts, error)

	SetMode(channel uint16, mode gsusb.Mode) error
	SetBitTiming(channel uint16, bt gsusb.BitTiming) error
	SetDataBitTiming(channel uint16, bt gsusb.BitTiming) error

	StartTransfers() error
	StopTransfers() error

	Send(hf gsusb.HostFrame) error
	Frames() <-chan gsusb.HostFrame

	Close() error
}
