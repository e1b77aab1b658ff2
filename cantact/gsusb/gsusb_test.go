package gsusb

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestModeMarshal(t *testing.T) {
	Convey("a start command with flags encodes little endian", t, func() {
		m := Mode{Mode: CANModeStart, Flags: ModeListenOnly | ModeFD}
		b, err := m.MarshalBinary()

		So(err, ShouldBeNil)
		So(b, ShouldResemble, []byte{1, 0, 0, 0, 0x01, 0x01, 0, 0})
	})
}

func TestBitTimingMarshal(t *testing.T) {
	Convey("register order is prop, seg1, seg2, sjw, brp", t, func() {
		bt := BitTiming{PropSeg: 0, PhaseSeg1: 13, PhaseSeg2: 2, SJW: 1, BRP: 3}
		b, err := bt.MarshalBinary()

		So(err, ShouldBeNil)
		So(len(b), ShouldEqual, 20)
		So(b[4], ShouldEqual, 13)
		So(b[8], ShouldEqual, 2)
		So(b[12], ShouldEqual, 1)
		So(b[16], ShouldEqual, 3)
	})
}

func TestDeviceConfigUnmarshal(t *testing.T) {
	Convey("icount and versions are read past the reserved bytes", t, func() {
		b := []byte{0, 0, 0, 1, 2, 0, 0, 0, 1, 0, 0, 0}
		var dc DeviceConfig

		So(dc.UnmarshalBinary(b), ShouldBeNil)
		So(dc.ChannelCount, ShouldEqual, 1)
		So(dc.SWVersion, ShouldEqual, 2)
		So(dc.HWVersion, ShouldEqual, 1)

		Convey("short buffers are rejected", func() {
			So(dc.UnmarshalBinary(b[:8]), ShouldNotBeNil)
		})
	})
}

func TestHostFrameRoundTrip(t *testing.T) {
	hf := HostFrame{
		EchoID:  RxEchoID,
		CANID:   0x123 | ExtendedFlag,
		DLC:     8,
		Channel: 1,
		Flags:   FlagFD | FlagBRS,
	}
	copy(hf.Data[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	Convey("an FD sized frame survives the wire", t, func() {
		b := hf.Marshal(true)
		So(len(b), ShouldEqual, HostFrameFDSize)

		out, err := UnmarshalHostFrame(b)
		So(err, ShouldBeNil)
		So(out, ShouldResemble, hf)
	})

	Convey("a classic sized frame carries the first 8 data bytes", t, func() {
		b := hf.Marshal(false)
		So(len(b), ShouldEqual, HostFrameSize)

		out, err := UnmarshalHostFrame(b)
		So(err, ShouldBeNil)
		So(out.CANID, ShouldEqual, hf.CANID)
		So(out.Data[:8], ShouldResemble, hf.Data[:8])
	})

	Convey("runt transfers are rejected", t, func() {
		_, err := UnmarshalHostFrame(make([]byte, 10))
		So(err, ShouldNotBeNil)
	})
}
