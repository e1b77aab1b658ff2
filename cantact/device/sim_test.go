package device

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/linklayer/cantact-go/cantact/gsusb"
)

func TestSimulatorEcho(t *testing.T) {
	Convey("a loopback channel echoes transmissions", t, func() {
		sim := NewSimulator()
		defer sim.Close()

		So(sim.SetMode(0, gsusb.Mode{
			Mode:  gsusb.CANModeStart,
			Flags: gsusb.ModeLoopback,
		}), ShouldBeNil)
		So(sim.StartTransfers(), ShouldBeNil)

		hf := gsusb.HostFrame{EchoID: 1, CANID: 0x42, DLC: 1}
		So(sim.Send(hf), ShouldBeNil)

		echo := <-sim.Frames()
		So(echo.CANID, ShouldEqual, 0x42)
		So(echo.EchoID, ShouldEqual, 1)
	})

	Convey("without loopback nothing comes back", t, func() {
		sim := NewSimulator()
		defer sim.Close()

		So(sim.SetMode(0, gsusb.Mode{Mode: gsusb.CANModeStart}), ShouldBeNil)
		So(sim.StartTransfers(), ShouldBeNil)
		So(sim.Send(gsusb.HostFrame{EchoID: 1, CANID: 0x42, DLC: 1}), ShouldBeNil)

		select {
		case hf := <-sim.Frames():
			So(hf, ShouldBeZeroValue)
		default:
		}

		So(len(sim.Sent()), ShouldEqual, 1)
	})
}

func TestSimulatorClose(t *testing.T) {
	Convey("close disconnects the transport", t, func() {
		sim := NewSimulator()

		So(sim.Close(), ShouldBeNil)
		So(sim.Close(), ShouldBeNil)

		_, open := <-sim.Frames()
		So(open, ShouldBeFalse)

		So(sim.Send(gsusb.HostFrame{}), ShouldEqual, ErrClosed)
		So(sim.StartTransfers(), ShouldEqual, ErrClosed)

		Convey("injecting after close is a no-op", func() {
			sim.Inject(gsusb.HostFrame{})
		})
	})
}
