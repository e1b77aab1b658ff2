package cantact

import (
	"fmt"
	"time"

	"github.com/linklayer/cantact-go/cantact/gsusb"
)

// echo ID stamped on frames the host transmits. The device echoes these
// back, which is how the receive path tells our own frames apart from
// genuine bus traffic (whose echo ID is gsusb.RxEchoID).
const txEchoID uint32 = 1

// Frame is a CAN frame as seen by applications.
type Frame struct {
	// ID is the arbitration ID: 11 bits standard, 29 bits extended.
	ID uint32 `json:"id"`

	// DLC is the data length code. For FD frames values 9..15 map to
	// payload lengths above 8 bytes, see DataLength.
	DLC uint8 `json:"dlc"`

	// Channel is the device channel the frame was sent or received on.
	Channel uint8 `json:"channel"`

	// Data is the payload, 0..64 bytes.
	Data []byte `json:"data"`

	// Extended selects the 29 bit arbitration ID format.
	Extended bool `json:"ext"`

	// RTR marks a remote transmission request.
	RTR bool `json:"rtr"`

	// Err marks an error frame.
	Err bool `json:"err"`

	// FD marks a CAN FD frame.
	FD bool `json:"fd"`

	// BRS is the CAN FD bit rate switch flag.
	BRS bool `json:"brs"`

	// ESI is the CAN FD error state indicator flag.
	ESI bool `json:"esi"`

	// Loopback is true when the frame was transmitted by this device and
	// echoed back, false for frames received from the bus.
	Loopback bool `json:"loopback"`

	// Timestamp is the elapsed time since Start when the frame was
	// received. Zero for frames the caller builds; the codec never sets it.
	Timestamp time.Duration `json:"timestamp"`
}

// dlcLengths maps a DLC to the payload byte count. 0..8 are literal, the
// rest are the CAN FD extended lengths.
var dlcLengths = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DataLength returns the payload byte count for a DLC. A DLC above 15 does
// not exist on the wire and is reported as an error rather than truncated.
func DataLength(dlc uint8) (int, error) {
	if int(dlc) >= len(dlcLengths) {
		return 0, fmt.Errorf("cantact: invalid DLC %d", dlc)
	}
	return dlcLengths[dlc], nil
}

// DLCForLength returns the smallest DLC whose payload length holds n bytes.
func DLCForLength(n int) (uint8, error) {
	for dlc, l := range dlcLengths {
		if l >= n {
			return uint8(dlc), nil
		}
	}
	return 0, fmt.Errorf("cantact: payload of %d bytes does not fit a CAN frame", n)
}

// NewFrame builds a data frame for the given ID and payload, picking the
// DLC from the payload length and the extended flag from the ID range.
func NewFrame(id uint32, data []byte) (Frame, error) {
	dlc, err := DLCForLength(len(data))
	if err != nil {
		return Frame{}, err
	}
	f := Frame{
		ID:       id & gsusb.IDMask,
		DLC:      dlc,
		Data:     append([]byte(nil), data...),
		Extended: id > 0x7FF,
	}
	if len(data) > 8 {
		f.FD = true
	}
	return f, nil
}

// DataLength returns the payload byte count encoded by the frame's DLC.
func (f Frame) DataLength() (int, error) {
	return DataLength(f.DLC)
}

// toHost converts the frame to the device wire format.
func (f Frame) toHost() (gsusb.HostFrame, error) {
	if _, err := f.DataLength(); err != nil {
		return gsusb.HostFrame{}, err
	}

	id := f.ID
	if f.Extended {
		id |= gsusb.ExtendedFlag
	}
	if f.RTR {
		id |= gsusb.RTRFlag
	}
	if f.Err {
		id |= gsusb.ErrorFlag
	}

	var flags uint8
	if f.FD {
		flags |= gsusb.FlagFD
	}

	hf := gsusb.HostFrame{
		EchoID:  txEchoID,
		CANID:   id,
		DLC:     f.DLC,
		Channel: f.Channel,
		Flags:   flags,
	}
	copy(hf.Data[:], f.Data)
	return hf, nil
}

// frameFromHost converts a wire frame back to a Frame. The timestamp is
// left for the receive path to fill in.
func frameFromHost(hf gsusb.HostFrame) (Frame, error) {
	n, err := DataLength(hf.DLC)
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		ID:       hf.CANID & gsusb.IDMask,
		DLC:      hf.DLC,
		Channel:  hf.Channel,
		Data:     append([]byte(nil), hf.Data[:n]...),
		Extended: hf.CANID&gsusb.ExtendedFlag != 0,
		RTR:      hf.CANID&gsusb.RTRFlag != 0,
		Err:      hf.CANID&gsusb.ErrorFlag != 0,
		FD:       hf.Flags&gsusb.FlagFD != 0,
		BRS:      hf.Flags&gsusb.FlagBRS != 0,
		ESI:      hf.Flags&gsusb.FlagESI != 0,
		Loopback: hf.EchoID != gsusb.RxEchoID,
	}, nil
}
