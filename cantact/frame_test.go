package cantact

import (
	"bytes"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/linklayer/cantact-go/cantact/gsusb"
)

func TestDLCMapping(t *testing.T) {
	Convey("every wire DLC maps to a payload length", t, func() {
		want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}
		for dlc := 0; dlc < 16; dlc++ {
			n, err := DataLength(uint8(dlc))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, want[dlc])
		}
	})

	Convey("a DLC above 15 is an error, not a truncation", t, func() {
		_, err := DataLength(16)
		So(err, ShouldNotBeNil)
		_, err = DataLength(255)
		So(err, ShouldNotBeNil)
	})

	Convey("DLCForLength picks a DLC that holds the payload", t, func() {
		for n := 0; n <= 64; n++ {
			dlc, err := DLCForLength(n)
			So(err, ShouldBeNil)
			l, err := DataLength(dlc)
			So(err, ShouldBeNil)
			So(l, ShouldBeGreaterThanOrEqualTo, n)
		}

		Convey("and 65 bytes do not fit", func() {
			_, err := DLCForLength(65)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNewFrame(t *testing.T) {
	Convey("an 11 bit ID yields a standard classic frame", t, func() {
		f, err := NewFrame(0x123, []byte{1, 2, 3})

		So(err, ShouldBeNil)
		So(f.ID, ShouldEqual, 0x123)
		So(f.DLC, ShouldEqual, 3)
		So(f.Extended, ShouldBeFalse)
		So(f.FD, ShouldBeFalse)
	})

	Convey("a 29 bit ID sets the extended flag", t, func() {
		f, err := NewFrame(0x12345678, nil)

		So(err, ShouldBeNil)
		So(f.ID, ShouldEqual, uint32(0x12345678)&gsusb.IDMask)
		So(f.Extended, ShouldBeTrue)
	})

	Convey("a payload above 8 bytes produces an FD frame", t, func() {
		f, err := NewFrame(0x7FF, make([]byte, 12))

		So(err, ShouldBeNil)
		So(f.FD, ShouldBeTrue)
		So(f.DLC, ShouldEqual, 9)
	})
}

func TestFrameRoundTrip(t *testing.T) {
	Convey("flag combinations survive the wire conversion", t, func() {
		bools := []bool{false, true}
		for _, ext := range bools {
			for _, rtr := range bools {
				for _, errf := range bools {
					id := uint32(0x123)
					if ext {
						id = 0x12345678 & gsusb.IDMask
					}
					in := Frame{
						ID:       id,
						DLC:      8,
						Channel:  2,
						Data:     []byte{0, 1, 2, 3, 4, 5, 6, 7},
						Extended: ext,
						RTR:      rtr,
						Err:      errf,
					}

					hf, err := in.toHost()
					So(err, ShouldBeNil)
					out, err := frameFromHost(hf)
					So(err, ShouldBeNil)

					So(out.ID, ShouldEqual, in.ID)
					So(out.DLC, ShouldEqual, in.DLC)
					So(out.Channel, ShouldEqual, in.Channel)
					So(bytes.Equal(out.Data, in.Data), ShouldBeTrue)
					So(out.Extended, ShouldEqual, ext)
					So(out.RTR, ShouldEqual, rtr)
					So(out.Err, ShouldEqual, errf)
					So(out.FD, ShouldBeFalse)
				}
			}
		}
	})

	Convey("an FD frame keeps its flag and long payload", t, func() {
		payload := make([]byte, 12)
		for i := range payload {
			payload[i] = byte(i)
		}
		in := Frame{ID: 0x456, DLC: 9, Data: payload, FD: true}

		hf, err := in.toHost()
		So(err, ShouldBeNil)
		So(hf.Flags&gsusb.FlagFD, ShouldNotEqual, 0)

		out, err := frameFromHost(hf)
		So(err, ShouldBeNil)
		So(out.FD, ShouldBeTrue)
		So(bytes.Equal(out.Data, payload), ShouldBeTrue)
	})

	Convey("an impossible DLC is rejected on both paths", t, func() {
		_, err := Frame{ID: 1, DLC: 16}.toHost()
		So(err, ShouldNotBeNil)

		_, err = frameFromHost(gsusb.HostFrame{DLC: 200})
		So(err, ShouldNotBeNil)
	})
}

func TestLoopbackDetection(t *testing.T) {
	Convey("the receive echo ID marks genuine bus traffic", t, func() {
		f, err := frameFromHost(gsusb.HostFrame{EchoID: gsusb.RxEchoID, DLC: 0})

		So(err, ShouldBeNil)
		So(f.Loopback, ShouldBeFalse)
	})

	Convey("any other echo ID marks a looped back transmission", t, func() {
		for _, echo := range []uint32{0, 1, 42} {
			f, err := frameFromHost(gsusb.HostFrame{EchoID: echo, DLC: 0})

			So(err, ShouldBeNil)
			So(f.Loopback, ShouldBeTrue)
		}
	})

	Convey("frames we transmit come back flagged as loopback", t, func() {
		in := Frame{ID: 0x100, DLC: 1, Data: []byte{0xAA}}

		hf, err := in.toHost()
		So(err, ShouldBeNil)
		out, err := frameFromHost(hf)

		So(err, ShouldBeNil)
		So(out.Loopback, ShouldBeTrue)
	})
}
