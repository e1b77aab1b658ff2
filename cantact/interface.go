// Package cantact is a userspace driver for gs_usb class USB CAN adapters
// (the CANtact and candleLight device family). An Interface owns one opened
// device: it snapshots the device's capabilities, programs bus timing,
// translates between Frame and the gs_usb wire format and delivers received
// frames to a caller supplied handler.
package cantact

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver"

	"github.com/linklayer/cantact-go/cantact/device"
	"github.com/linklayer/cantact-go/cantact/gsusb"
)

// Firmware versions the driver has been validated against.
const firmwareConstraint = ">= 1.0.0"

// FrameHandler receives every inbound frame, in order, on the interface's
// receive goroutine. A handler that blocks stalls all further delivery.
type FrameHandler func(Frame)

// Interface drives one gs_usb device. Channel configuration is mutable
// while idle; Start places the enabled channels on bus and spawns the
// receive goroutine; Send is legal only while running.
type Interface struct {
	dev device.Device

	mu      sync.RWMutex
	running bool
	stopc   chan struct{}
	done    chan struct{}

	canClock uint32
	// zero indexed, as the device reports it (0 = one channel)
	channelCount int
	swVersion    uint32
	hwVersion    uint32
	features     FeatureSet

	channels []Channel
}

// New opens the first gs_usb device found on the system and wraps it in an
// Interface. ErrDeviceNotFound is returned when none is attached or the
// user cannot access it.
func New() (*Interface, error) {
	dev, err := device.Open()
	if err != nil {
		return nil, ErrDeviceNotFound
	}
	i, err := NewWithDevice(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return i, nil
}

// NewWithDevice wraps an already opened Device transport. The device
// capability snapshot is taken here, once, and enforced on every later
// configuration call.
func NewWithDevice(dev device.Device) (*Interface, error) {
	cfg, err := dev.Config()
	if err != nil {
		return nil, wrapDevice("device config", err)
	}
	consts, err := dev.BitTimingConsts()
	if err != nil {
		return nil, wrapDevice("bit timing consts", err)
	}
	if err := checkFirmware(cfg.SWVersion); err != nil {
		return nil, err
	}

	channels := make([]Channel, int(cfg.ChannelCount)+1)
	for c := range channels {
		channels[c].Enabled = true
	}

	return &Interface{
		dev:          dev,
		canClock:     consts.CANClock,
		channelCount: int(cfg.ChannelCount),
		swVersion:    cfg.SWVersion,
		hwVersion:    cfg.HWVersion,
		features:     featureSetFromMask(consts.Features),
		channels:     channels,
	}, nil
}

// checkFirmware refuses firmware older than the driver was validated
// against.
func checkFirmware(sw uint32) error {
	v, err := semver.NewVersion(fmt.Sprintf("%d.0.0", sw))
	if err != nil {
		return fmt.Errorf("cantact: bad firmware version %d: %w", sw, err)
	}
	constraint, err := semver.NewConstraint(firmwareConstraint)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("cantact: unsupported firmware version %d, require %s", sw, firmwareConstraint)
	}
	return nil
}

// Channels returns the number of channels on the device.
func (i *Interface) Channels() int {
	return i.channelCount + 1
}

// Channel returns the current configuration of a channel.
func (i *Interface) Channel(channel int) (Channel, error) {
	if err := i.checkChannel(channel); err != nil {
		return Channel{}, err
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.channels[channel], nil
}

// HardwareVersion returns the device reported hardware version.
func (i *Interface) HardwareVersion() uint32 { return i.hwVersion }

// SoftwareVersion returns the device reported firmware version.
func (i *Interface) SoftwareVersion() uint32 { return i.swVersion }

// CANClock returns the device's CAN core clock in Hz.
func (i *Interface) CANClock() uint32 { return i.canClock }

// Features returns the capabilities the device advertises.
func (i *Interface) Features() []Feature {
	return i.features.List()
}

// SupportsFD reports whether the device can run CAN FD.
func (i *Interface) SupportsFD() bool {
	return i.features.Supports(FeatureFD)
}

// Running reports whether the bus is active.
func (i *Interface) Running() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.running
}

func (i *Interface) checkChannel(channel int) error {
	if channel < 0 || channel > i.channelCount {
		return ErrInvalidChannel
	}
	return nil
}

func (i *Interface) checkIdle() error {
	if i.running {
		return ErrRunning
	}
	return nil
}

// SetBitrate programs the channel's bitrate. The computed timing is pushed
// to the device immediately; the stored value is the requested bitrate, not
// the hardware-realized approximation.
func (i *Interface) SetBitrate(channel int, bitrate uint32) error {
	if err := i.checkChannel(channel); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkIdle(); err != nil {
		return err
	}

	bt, err := CalculateBitTiming(i.canClock, bitrate)
	if err != nil {
		return err
	}
	if err := i.dev.SetBitTiming(uint16(channel), bt); err != nil {
		return wrapDevice("set bit timing", err)
	}
	i.channels[channel].Bitrate = bitrate
	return nil
}

// SetDataBitrate programs the channel's CAN FD data phase bitrate.
func (i *Interface) SetDataBitrate(channel int, bitrate uint32) error {
	if err := i.checkChannel(channel); err != nil {
		return err
	}
	if err := i.features.require(FeatureFD); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkIdle(); err != nil {
		return err
	}

	bt, err := CalculateBitTiming(i.canClock, bitrate)
	if err != nil {
		return err
	}
	if err := i.dev.SetDataBitTiming(uint16(channel), bt); err != nil {
		return wrapDevice("set data bit timing", err)
	}
	i.channels[channel].DataBitrate = bitrate
	return nil
}

// SetBitTiming pushes custom timing register values for a channel, for
// callers that need a sampling point the search would not pick.
func (i *Interface) SetBitTiming(channel int, brp, phaseSeg1, phaseSeg2, sjw uint32) error {
	if err := i.checkChannel(channel); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkIdle(); err != nil {
		return err
	}

	bt := gsusb.BitTiming{
		PropSeg:   0,
		PhaseSeg1: phaseSeg1,
		PhaseSeg2: phaseSeg2,
		SJW:       sjw,
		BRP:       brp,
	}
	if err := i.dev.SetBitTiming(uint16(channel), bt); err != nil {
		return wrapDevice("set bit timing", err)
	}
	return nil
}

// SetMonitor switches a channel's listen-only mode. While enabled the
// device never transmits, not even acknowledgements.
func (i *Interface) SetMonitor(channel int, enabled bool) error {
	return i.setFlag(channel, enabled, FeatureMonitor, func(c *Channel) { c.Monitor = enabled })
}

// SetLoopback switches a channel's hardware loopback mode. While enabled,
// transmitted frames are received back as if sent by another node on the
// bus. Intended for device testing.
func (i *Interface) SetLoopback(channel int, enabled bool) error {
	return i.setFlag(channel, enabled, FeatureLoopback, func(c *Channel) { c.Loopback = enabled })
}

// SetFD switches CAN FD support for a channel.
func (i *Interface) SetFD(channel int, enabled bool) error {
	return i.setFlag(channel, enabled, FeatureFD, func(c *Channel) { c.FD = enabled })
}

// SetEnabled controls whether the channel is placed on bus at Start.
func (i *Interface) SetEnabled(channel int, enabled bool) error {
	return i.setFlag(channel, false, "", func(c *Channel) { c.Enabled = enabled })
}

// setFlag applies the shared setter gating: channel bounds first, then the
// capability (only when a mode is being requested, disabling never needs
// one), then the run state.
func (i *Interface) setFlag(channel int, requested bool, feature Feature, apply func(*Channel)) error {
	if err := i.checkChannel(channel); err != nil {
		return err
	}
	if requested && feature != "" {
		if err := i.features.require(feature); err != nil {
			return err
		}
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.checkIdle(); err != nil {
		return err
	}
	apply(&i.channels[channel])
	return nil
}

// modeFor builds the start mode word for a channel, re-validating each
// requested flag against the capability set.
func (i *Interface) modeFor(c Channel) (gsusb.Mode, error) {
	mode := gsusb.Mode{Mode: gsusb.CANModeStart}
	if c.Monitor {
		if err := i.features.require(FeatureMonitor); err != nil {
			return mode, err
		}
		mode.Flags |= gsusb.ModeListenOnly
	}
	if c.Loopback {
		if err := i.features.require(FeatureLoopback); err != nil {
			return mode, err
		}
		mode.Flags |= gsusb.ModeLoopback
	}
	if c.FD {
		if err := i.features.require(FeatureFD); err != nil {
			return mode, err
		}
		mode.Flags |= gsusb.ModeFD
	}
	return mode, nil
}

// Start places every enabled channel on bus and begins frame delivery. All
// channels are validated before any is started; if a later channel's mode
// command fails, channels already on bus are reset before the error is
// returned. After a successful Start the handler fires for every inbound
// frame and Send becomes legal.
func (i *Interface) Start(handler FrameHandler) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.running {
		return ErrRunning
	}

	modes := make([]gsusb.Mode, len(i.channels))
	for c, ch := range i.channels {
		mode, err := i.modeFor(ch)
		if err != nil {
			return err
		}
		modes[c] = mode
	}

	started := 0
	for c, ch := range i.channels {
		if !ch.Enabled {
			continue
		}
		if err := i.dev.SetMode(uint16(c), modes[c]); err != nil {
			i.resetChannels(started)
			return wrapDevice("set mode", err)
		}
		started = c + 1
	}

	if err := i.dev.StartTransfers(); err != nil {
		i.resetChannels(started)
		return wrapDevice("start transfers", err)
	}

	i.stopc = make(chan struct{})
	i.done = make(chan struct{})
	i.running = true

	go i.receive(handler, time.Now(), i.stopc, i.done)
	return nil
}

// resetChannels issues a reset to every enabled channel below limit. Used
// to roll back a partially started interface; reset failures at that point
// cannot be reported further and are dropped.
func (i *Interface) resetChannels(limit int) {
	for c := 0; c < limit && c < len(i.channels); c++ {
		if !i.channels[c].Enabled {
			continue
		}
		_ = i.dev.SetMode(uint16(c), gsusb.Mode{Mode: gsusb.CANModeReset})
	}
}

// receive pulls wire frames off the device until stopped or the transport
// channel closes, decodes them, stamps the elapsed time since Start and
// hands them to the caller's handler.
func (i *Interface) receive(handler FrameHandler, start time.Time, stopc, done chan struct{}) {
	defer close(done)
	frames := i.dev.Frames()
	for {
		select {
		case <-stopc:
			return
		case hf, ok := <-frames:
			if !ok {
				// transport torn down, terminate silently
				return
			}
			f, err := frameFromHost(hf)
			if err != nil {
				continue // device handed us a frame with an impossible DLC
			}
			f.Timestamp = time.Since(start)
			handler(f)
		}
	}
}

// Stop takes every enabled channel off bus, halts transfers and waits for
// the receive goroutine to exit before returning.
func (i *Interface) Stop() error {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return ErrNotRunning
	}

	var firstErr error
	for c, ch := range i.channels {
		if !ch.Enabled {
			continue
		}
		if err := i.dev.SetMode(uint16(c), gsusb.Mode{Mode: gsusb.CANModeReset}); err != nil && firstErr == nil {
			firstErr = wrapDevice("set mode", err)
		}
	}
	if err := i.dev.StopTransfers(); err != nil && firstErr == nil {
		firstErr = wrapDevice("stop transfers", err)
	}

	close(i.stopc)
	i.running = false
	done := i.done
	i.mu.Unlock()

	<-done
	return firstErr
}

// Send transmits a frame. Legal only while the interface is running; runs
// synchronously on the caller's goroutine.
func (i *Interface) Send(f Frame) error {
	i.mu.RLock()
	running := i.running
	i.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}

	hf, err := f.toHost()
	if err != nil {
		return err
	}
	if err := i.dev.Send(hf); err != nil {
		return wrapDevice("send", err)
	}
	return nil
}

// Close stops the interface if needed and releases the device.
func (i *Interface) Close() error {
	if i.Running() {
		if err := i.Stop(); err != nil {
			i.dev.Close()
			return err
		}
	}
	return i.dev.Close()
}

// wrapDevice converts transport failures into the driver's error taxonomy.
func wrapDevice(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, device.ErrTimeout) {
		return ErrTimeout
	}
	return &DeviceError{Op: op, Err: err}
}
