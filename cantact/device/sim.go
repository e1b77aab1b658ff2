package device

import (
	"math/rand"
	"sync"
	"time"

	"github.com/linklayer/cantact-go/cantact/gsusb"
)

const simTrafficInterval = time.Second / 10

// Simulator is an in-memory Device. It records every command it is given,
// lets tests inject inbound frames, and can optionally echo transmitted
// frames back the way a channel in hardware loopback mode would.
type Simulator struct {
	mu sync.Mutex

	config gsusb.DeviceConfig
	consts gsusb.BitTimingConsts

	modes       map[uint16]gsusb.Mode
	timings     map[uint16]gsusb.BitTiming
	dataTimings map[uint16]gsusb.BitTiming
	sent        []gsusb.HostFrame

	frames      chan gsusb.HostFrame
	transfers   bool
	closed      bool
	trafficStop chan struct{}
}

// NewSimulator builds a single channel device on a 24 MHz core clock with
// listen-only, loopback and FD support.
func NewSimulator() *Simulator {
	return &Simulator{
		config: gsusb.DeviceConfig{
			ChannelCount: 0, // zero indexed: one channel
			SWVersion:    2,
			HWVersion:    1,
		},
		consts: gsusb.BitTimingConsts{
			Features: gsusb.FeatureListenOnly | gsusb.FeatureLoopback | gsusb.FeatureFD,
			CANClock: 24_000_000,
			TSeg1Min: 1, TSeg1Max: 16,
			TSeg2Min: 1, TSeg2Max: 8,
			SJWMax: 4,
			BRPMin: 1, BRPMax: 32, BRPInc: 1,
		},
		modes:       make(map[uint16]gsusb.Mode),
		timings:     make(map[uint16]gsusb.BitTiming),
		dataTimings: make(map[uint16]gsusb.BitTiming),
		frames:      make(chan gsusb.HostFrame, rxBuffer),
	}
}

// SetChannelCount overrides the zero indexed channel count reported to the
// driver.
func (s *Simulator) SetChannelCount(n uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.ChannelCount = n
}

// SetFeatures overrides the feature bitmask reported to the driver.
func (s *Simulator) SetFeatures(mask uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consts.Features = mask
}

// SetSWVersion overrides the firmware version reported to the driver.
func (s *Simulator) SetSWVersion(v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.SWVersion = v
}

func (s *Simulator) Config() (gsusb.DeviceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config, nil
}

func (s *Simulator) BitTimingConsts() (gsusb.BitTimingConsts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consts, nil
}

func (s *Simulator) SetMode(channel uint16, mode gsusb.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[channel] = mode
	return nil
}

func (s *Simulator) SetBitTiming(channel uint16, bt gsusb.BitTiming) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings[channel] = bt
	return nil
}

func (s *Simulator) SetDataBitTiming(channel uint16, bt gsusb.BitTiming) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataTimings[channel] = bt
	return nil
}

func (s *Simulator) StartTransfers() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.transfers = true
	return nil
}

func (s *Simulator) StopTransfers() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = false
	return nil
}

func (s *Simulator) Send(hf gsusb.HostFrame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.sent = append(s.sent, hf)
	echo := s.modes[uint16(hf.Channel)].Flags&gsusb.ModeLoopback != 0 && s.transfers
	s.mu.Unlock()

	if echo {
		// hardware loopback: the frame comes back with its echo ID intact
		s.Inject(hf)
	}
	return nil
}

func (s *Simulator) Frames() <-chan gsusb.HostFrame {
	return s.frames
}

// Inject queues an inbound wire frame as if it had arrived from the bus.
func (s *Simulator) Inject(hf gsusb.HostFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- hf:
	default:
		// receiver is not keeping up, drop like an overflowing device would
	}
}

// Mode returns the last mode command issued for a channel.
func (s *Simulator) Mode(channel uint16) gsusb.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modes[channel]
}

// BitTiming returns the last arbitration timing pushed for a channel.
func (s *Simulator) BitTiming(channel uint16) gsusb.BitTiming {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timings[channel]
}

// DataBitTiming returns the last data phase timing pushed for a channel.
func (s *Simulator) DataBitTiming(channel uint16) gsusb.BitTiming {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataTimings[channel]
}

// Sent returns the frames transmitted through the simulator.
func (s *Simulator) Sent() []gsusb.HostFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gsusb.HostFrame, len(s.sent))
	copy(out, s.sent)
	return out
}

// Transferring reports whether transfers are active.
func (s *Simulator) Transferring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers
}

// GenerateTraffic starts a goroutine producing random bus frames while
// transfers are active, for demo runs without hardware. Stops when the
// simulator is closed.
func (s *Simulator) GenerateTraffic() {
	s.mu.Lock()
	if s.trafficStop != nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.trafficStop = make(chan struct{})
	stop := s.trafficStop
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(simTrafficInterval):
			}
			s.mu.Lock()
			active := s.transfers
			s.mu.Unlock()
			if !active {
				continue
			}

			hf := gsusb.HostFrame{
				EchoID: gsusb.RxEchoID,
				CANID:  uint32(rand.Intn(0x800)),
				DLC:    8,
			}
			for i := 0; i < 8; i++ {
				hf.Data[i] = byte(rand.Intn(256))
			}
			s.Inject(hf)
		}
	}()
}

// Close tears the simulated transport down; the frame channel is closed so
// consumers observe a disconnect.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.transfers = false
	if s.trafficStop != nil {
		close(s.trafficStop)
		s.trafficStop = nil
	}
	close(s.frames)
	return nil
}
