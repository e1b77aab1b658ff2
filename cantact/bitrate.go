package cantact

import (
	"math"

	"github.com/linklayer/cantact-go/cantact/gsusb"
)

// Hardware limits for the timing search. The propagation segment is folded
// into phase segment 1, the sync segment is a fixed single quantum.
const (
	maxBRP    = 32
	minSeg1   = 3
	maxSeg1   = 18 // exclusive
	minSeg2   = 2
	maxSeg2   = 8
	minQuanta = 4
	maxQuanta = 32
)

// relative error tolerances tried in order, most strict first
var bitrateTolerances = []float64{0, 0.1 / 100, 0.5 / 100}

// CalculateBitTiming searches for timing register values that realize the
// requested bitrate on a core clock. Prescalers are scanned ascending, then
// segment 1 ascending; the first combination whose rounded quanta count
// lands in [4,32] within the current tolerance and whose phase segment 2
// lands in [2,8] wins. SJW is fixed at 1.
func CalculateBitTiming(clock, bitrate uint32) (gsusb.BitTiming, error) {
	if bitrate == 0 {
		return gsusb.BitTiming{}, InvalidBitrateError{Bitrate: bitrate}
	}

	ideal := float64(clock) / float64(bitrate)
	for _, tolerance := range bitrateTolerances {
		for brp := uint32(1); brp <= maxBRP; brp++ {
			quanta := ideal / float64(brp)
			rounded := int(math.Round(quanta))
			if rounded < minQuanta || rounded > maxQuanta {
				continue
			}
			relErr := math.Round((quanta/float64(rounded)-1)*10000) / 10000
			if math.Abs(relErr) > tolerance {
				continue
			}

			for seg1 := minSeg1; seg1 < maxSeg1; seg1++ {
				// one quantum is the fixed sync segment
				seg2 := rounded - seg1 - 1
				if seg2 < minSeg2 || seg2 > maxSeg2 {
					continue
				}
				return gsusb.BitTiming{
					PropSeg:   0,
					PhaseSeg1: uint32(seg1),
					PhaseSeg2: uint32(seg2),
					SJW:       1,
					BRP:       brp,
				}, nil
			}
		}
	}
	return gsusb.BitTiming{}, InvalidBitrateError{Bitrate: bitrate}
}

// EffectiveBitrate returns the bitrate the hardware will actually run at
// for a timing register set.
func EffectiveBitrate(clock uint32, bt gsusb.BitTiming) uint32 {
	quanta := bt.PropSeg + bt.PhaseSeg1 + bt.PhaseSeg2 + 1
	if bt.BRP == 0 || quanta == 0 {
		return 0
	}
	return clock / bt.BRP / quanta
}
