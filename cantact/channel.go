package cantact

// Channel is the configuration for one CAN channel on a device. A device
// with N channels has N of these, owned by the Interface and mutable only
// while the interface is idle.
type Channel struct {
	// Bitrate of the channel in bits per second. This is the value the
	// caller requested, not the hardware-realized approximation.
	Bitrate uint32 `yaml:"bitrate" json:"bitrate"`

	// DataBitrate is the CAN FD data phase bitrate in bits per second.
	DataBitrate uint32 `yaml:"data_bitrate,omitempty" json:"data_bitrate"`

	// Enabled channels are placed on bus when the interface starts.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Loopback puts the channel in hardware loopback mode: transmitted
	// frames are received back as if sent by another node. Intended for
	// device testing.
	Loopback bool `yaml:"loopback" json:"loopback"`

	// Monitor puts the channel in listen-only mode: the device never
	// transmits, not even acknowledgements.
	Monitor bool `yaml:"monitor" json:"monitor"`

	// FD enables CAN FD operation on the channel.
	FD bool `yaml:"fd" json:"fd"`
}
