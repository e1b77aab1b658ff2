package cantact

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const testClock = 24_000_000

func TestBitTimingSearch(t *testing.T) {
	bitrates := []uint32{
		4_000_000, 3_000_000, 2_400_000, 2_000_000,
		1_000_000, 500_000, 250_000, 125_000, 33_333,
	}

	Convey("common bitrates solve on a 24 MHz core clock", t, func() {
		for _, bitrate := range bitrates {
			bt, err := CalculateBitTiming(testClock, bitrate)
			So(err, ShouldBeNil)

			Convey(("registers are within hardware limits at " + itoa(bitrate)), func() {
				So(bt.BRP, ShouldBeBetweenOrEqual, 1, 32)
				So(bt.PhaseSeg1, ShouldBeBetweenOrEqual, 3, 17)
				So(bt.PhaseSeg2, ShouldBeBetweenOrEqual, 2, 8)
				So(bt.PropSeg, ShouldEqual, 0)
				So(bt.SJW, ShouldEqual, 1)
			})

			Convey("effective bitrate is within 0.5% at "+itoa(bitrate), func() {
				eff := EffectiveBitrate(testClock, bt)
				relErr := math.Abs(float64(eff)/float64(bitrate) - 1)
				So(relErr, ShouldBeLessThan, 0.005)
			})
		}
	})
}

func TestBitTimingExactRates(t *testing.T) {
	Convey("500 kbit/s lands exactly on the clock", t, func() {
		bt, err := CalculateBitTiming(testClock, 500_000)

		So(err, ShouldBeNil)
		So(EffectiveBitrate(testClock, bt), ShouldEqual, 500_000)

		Convey("and the smallest prescaler wins", func() {
			// 48 quanta at brp 1 is over the limit, 24 at brp 2 fits
			So(bt.BRP, ShouldEqual, 2)
			So(bt.PhaseSeg1+bt.PhaseSeg2+1, ShouldEqual, 24)
		})
	})

	Convey("a 2 Mbit/s FD data rate solves exactly", t, func() {
		bt, err := CalculateBitTiming(testClock, 2_000_000)

		So(err, ShouldBeNil)
		So(EffectiveBitrate(testClock, bt), ShouldEqual, 2_000_000)
	})
}

func TestBitTimingInvalid(t *testing.T) {
	Convey("impossible bitrates fail with the requested value", t, func() {
		_, err := CalculateBitTiming(testClock, 7_000_000)

		So(err, ShouldNotBeNil)
		ibr, ok := err.(InvalidBitrateError)
		So(ok, ShouldBeTrue)
		So(ibr.Bitrate, ShouldEqual, 7_000_000)
	})

	Convey("a zero bitrate fails instead of dividing by zero", t, func() {
		_, err := CalculateBitTiming(testClock, 0)
		So(err, ShouldNotBeNil)
	})
}

func itoa(v uint32) string {
	b := [10]byte{}
	i := len(b)
	for {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return string(b[i:])
}
