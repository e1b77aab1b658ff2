// Package gsusb defines the wire-level records and constants spoken by
// gs_usb class CAN adapters (CANtact, candleLight and friends). These are
// fixed-layout little-endian structures exchanged over USB vendor control
// requests and bulk transfers; the package carries no behaviour beyond
// marshalling.
package gsusb

import (
	"encoding/binary"
	"fmt"
)

// Flag bits embedded in the top of the 32 bit CAN ID field.
const (
	ExtendedFlag uint32 = 0x80000000
	RTRFlag      uint32 = 0x40000000
	ErrorFlag    uint32 = 0x20000000

	// IDMask recovers the logical arbitration ID.
	IDMask uint32 = 0x1FFFFFFF
)

// RxEchoID marks a frame that was genuinely received from the bus. Any
// other echo ID means the device is echoing back a frame the host sent.
const RxEchoID uint32 = 0xFFFFFFFF

// HostFrame flag byte bits.
const (
	FlagOverflow uint8 = 1 << 0
	FlagFD       uint8 = 1 << 1
	FlagBRS      uint8 = 1 << 2
	FlagESI      uint8 = 1 << 3
)

// Device feature bits reported in BitTimingConsts.Features.
const (
	FeatureListenOnly   uint32 = 1 << 0
	FeatureLoopback     uint32 = 1 << 1
	FeatureTripleSample uint32 = 1 << 2
	FeatureOneShot      uint32 = 1 << 3
	FeatureHWTimestamp  uint32 = 1 << 4
	FeatureIdentify     uint32 = 1 << 5
	FeatureUserID       uint32 = 1 << 6
	FeaturePadPackets   uint32 = 1 << 7
	FeatureFD           uint32 = 1 << 8
)

// Channel mode flags. These mirror the feature bit positions.
const (
	ModeListenOnly uint32 = 1 << 0
	ModeLoopback   uint32 = 1 << 1
	ModeOneShot    uint32 = 1 << 3
	ModeFD         uint32 = 1 << 8
)

// Mode commands.
const (
	CANModeReset uint32 = 0
	CANModeStart uint32 = 1
)

// Vendor control request numbers.
const (
	BReqHostFormat    uint8 = 0
	BReqBitTiming     uint8 = 1
	BReqMode          uint8 = 2
	BReqBerr          uint8 = 3
	BReqBTConst       uint8 = 4
	BReqDeviceConfig  uint8 = 5
	BReqTimestamp     uint8 = 6
	BReqIdentify      uint8 = 7
	BReqDataBitTiming uint8 = 13
)

// HostFormat is the byte order probe sent once after opening a device.
const HostFormat uint32 = 0x0000BEEF

// Frame sizes on the bulk endpoints.
const (
	HostFrameSize   = 20 // classic CAN, 8 data bytes
	HostFrameFDSize = 76 // CAN FD, 64 data bytes
	headerSize      = 12
)

// DeviceConfig is the reply to BReqDeviceConfig.
type DeviceConfig struct {
	// ChannelCount is zero indexed: 0 means one channel.
	ChannelCount uint8
	SWVersion    uint32
	HWVersion    uint32
}

// UnmarshalBinary decodes the 12 byte device_config record.
func (dc *DeviceConfig) UnmarshalBinary(b []byte) error {
	if len(b) < 12 {
		return fmt.Errorf("gsusb: device config needs 12 bytes, got %d", len(b))
	}
	// bytes 0..2 are reserved
	dc.ChannelCount = b[3]
	dc.SWVersion = binary.LittleEndian.Uint32(b[4:8])
	dc.HWVersion = binary.LittleEndian.Uint32(b[8:12])
	return nil
}

// BitTimingConsts is the reply to BReqBTConst: the feature bitmask, core
// clock and the timing register limits the hardware accepts.
type BitTimingConsts struct {
	Features uint32
	CANClock uint32
	TSeg1Min uint32
	TSeg1Max uint32
	TSeg2Min uint32
	TSeg2Max uint32
	SJWMax   uint32
	BRPMin   uint32
	BRPMax   uint32
	BRPInc   uint32
}

// UnmarshalBinary decodes the 40 byte bt_const record.
func (bc *BitTimingConsts) UnmarshalBinary(b []byte) error {
	if len(b) < 40 {
		return fmt.Errorf("gsusb: bt consts need 40 bytes, got %d", len(b))
	}
	fields := []*uint32{
		&bc.Features, &bc.CANClock,
		&bc.TSeg1Min, &bc.TSeg1Max, &bc.TSeg2Min, &bc.TSeg2Max,
		&bc.SJWMax, &bc.BRPMin, &bc.BRPMax, &bc.BRPInc,
	}
	for i, f := range fields {
		*f = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return nil
}

// BitTiming holds the timing register values for one channel.
type BitTiming struct {
	PropSeg   uint32
	PhaseSeg1 uint32
	PhaseSeg2 uint32
	SJW       uint32
	BRP       uint32
}

// MarshalBinary encodes the 20 byte bittiming record.
func (bt BitTiming) MarshalBinary() ([]byte, error) {
	b := make([]byte, 20)
	binary.LittleEndian.PutUint32(b[0:4], bt.PropSeg)
	binary.LittleEndian.PutUint32(b[4:8], bt.PhaseSeg1)
	binary.LittleEndian.PutUint32(b[8:12], bt.PhaseSeg2)
	binary.LittleEndian.PutUint32(b[12:16], bt.SJW)
	binary.LittleEndian.PutUint32(b[16:20], bt.BRP)
	return b, nil
}

// Mode is a channel mode command: start or reset plus mode flags.
type Mode struct {
	Mode  uint32
	Flags uint32
}

// MarshalBinary encodes the 8 byte mode record.
func (m Mode) MarshalBinary() ([]byte, error) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], m.Mode)
	binary.LittleEndian.PutUint32(b[4:8], m.Flags)
	return b, nil
}

// HostFrame is the frame record exchanged on the bulk endpoints.
type HostFrame struct {
	EchoID   uint32
	CANID    uint32
	DLC      uint8
	Channel  uint8
	Flags    uint8
	Reserved uint8
	Data     [64]byte
}

// Marshal encodes the frame for transmission. Devices running a channel in
// FD mode exchange 76 byte frames; classic channels use 20 byte frames with
// the data truncated to 8 bytes.
func (hf HostFrame) Marshal(fd bool) []byte {
	size := HostFrameSize
	if fd {
		size = HostFrameFDSize
	}
	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b[0:4], hf.EchoID)
	binary.LittleEndian.PutUint32(b[4:8], hf.CANID)
	b[8] = hf.DLC
	b[9] = hf.Channel
	b[10] = hf.Flags
	b[11] = hf.Reserved
	copy(b[headerSize:], hf.Data[:size-headerSize])
	return b
}

// UnmarshalHostFrame decodes a frame from a bulk transfer. The transfer
// length decides how much data follows the header; unused trailing bytes of
// the data array stay zero.
func UnmarshalHostFrame(b []byte) (HostFrame, error) {
	var hf HostFrame
	if len(b) < HostFrameSize {
		return hf, fmt.Errorf("gsusb: host frame needs at least %d bytes, got %d", HostFrameSize, len(b))
	}
	hf.EchoID = binary.LittleEndian.Uint32(b[0:4])
	hf.CANID = binary.LittleEndian.Uint32(b[4:8])
	hf.DLC = b[8]
	hf.Channel = b[9]
	hf.Flags = b[10]
	hf.Reserved = b[11]
	n := len(b) - headerSize
	if n > len(hf.Data) {
		n = len(hf.Data)
	}
	copy(hf.Data[:n], b[headerSize:headerSize+n])
	return hf, nil
}
