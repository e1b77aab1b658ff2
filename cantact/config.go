package cantact

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the on-disk channel configuration, one record per channel.
type Config struct {
	Channels []Channel `yaml:"channels"`
}

// LoadConfig reads a config file. A missing file yields an empty config so
// first runs work without one.
func LoadConfig(path string) (Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("cantact: parse config %s: %w", path, err)
	}
	return c, nil
}

// Snapshot captures the interface's current channel configuration.
func Snapshot(i *Interface) Config {
	c := Config{Channels: make([]Channel, i.Channels())}
	for ch := range c.Channels {
		c.Channels[ch], _ = i.Channel(ch)
	}
	return c
}

// Write persists the configuration.
func (c Config) Write(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Apply pushes the configuration onto an idle interface. Channels beyond
// what the device has are ignored so a config written for a bigger device
// still loads. Bitrates of zero are left unprogrammed.
func (c Config) Apply(i *Interface) error {
	for ch, conf := range c.Channels {
		if ch >= i.Channels() {
			break
		}
		if err := i.SetEnabled(ch, conf.Enabled); err != nil {
			return err
		}
		if err := i.SetMonitor(ch, conf.Monitor); err != nil {
			return err
		}
		if err := i.SetLoopback(ch, conf.Loopback); err != nil {
			return err
		}
		if err := i.SetFD(ch, conf.FD); err != nil {
			return err
		}
		if conf.Bitrate != 0 {
			if err := i.SetBitrate(ch, conf.Bitrate); err != nil {
				return err
			}
		}
		if conf.FD && conf.DataBitrate != 0 {
			if err := i.SetDataBitrate(ch, conf.DataBitrate); err != nil {
				return err
			}
		}
	}
	return nil
}
