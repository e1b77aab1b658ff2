package cantact

import "github.com/linklayer/cantact-go/cantact/gsusb"

// Feature is a named optional device capability.
type Feature string

const (
	FeatureMonitor  Feature = "Monitor"
	FeatureLoopback Feature = "Loopback"
	FeatureFD       Feature = "FD"
)

// FeatureSet is the closed set of capabilities a device reported at
// construction. Mode requests are checked against it by name rather than by
// raw bit tests.
type FeatureSet map[Feature]bool

func featureSetFromMask(mask uint32) FeatureSet {
	return FeatureSet{
		FeatureMonitor:  mask&gsusb.FeatureListenOnly != 0,
		FeatureLoopback: mask&gsusb.FeatureLoopback != 0,
		FeatureFD:       mask&gsusb.FeatureFD != 0,
	}
}

// Supports reports whether the device advertises the capability.
func (fs FeatureSet) Supports(f Feature) bool {
	return fs[f]
}

// require returns an UnsupportedFeatureError if the capability is absent.
func (fs FeatureSet) require(f Feature) error {
	if !fs[f] {
		return UnsupportedFeatureError{Feature: f}
	}
	return nil
}

// List returns the supported capabilities in a stable order.
func (fs FeatureSet) List() []Feature {
	var out []Feature
	for _, f := range []Feature{FeatureMonitor, FeatureLoopback, FeatureFD} {
		if fs[f] {
			out = append(out, f)
		}
	}
	return out
}
