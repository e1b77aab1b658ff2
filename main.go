package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/abiosoft/ishell"
	"github.com/caarlos0/env/v6"

	"github.com/linklayer/cantact-go/cantact"
	"github.com/linklayer/cantact-go/cantact/device"
	"github.com/linklayer/cantact-go/capture"
)

// EnvConfig is the process level configuration, overridable from the
// environment.
type EnvConfig struct {
	CONFIG        string `env:"CANTACT_CONFIG"`
	LISTEN        string `env:"CANTACT_LISTEN" envDefault:"0.0.0.0:8323"`
	CAPTURE       string `env:"CANTACT_CAPTURE"`
	SECRET        string `env:"CANTACT_SECRET"`
	PASSWORD_HASH string `env:"CANTACT_PASSWORD_HASH"`
	DEBUG         bool   `env:"DEBUG" envDefault:"false"`
}

var ENV *EnvConfig

func init() {
	ENV = new(EnvConfig)
	if err := env.Parse(ENV); err != nil {
		panic(err)
	}

	if ENV.CONFIG == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		ENV.CONFIG = filepath.Join(home, ".cantact.yaml")
	}
}

func main() {
	sim := flag.Bool("sim", false, "run against a simulated device instead of hardware")
	serve := flag.Bool("serve", false, "start the HTTP/websocket monitor")
	listen := flag.String("listen", "", "ip:port for the monitor (overrides CANTACT_LISTEN)")
	configPath := flag.String("config", "", "channel config file (overrides CANTACT_CONFIG)")
	capturePath := flag.String("capture", "", "record received frames to this database")
	flag.Parse()

	if *listen != "" {
		ENV.LISTEN = *listen
	}
	if *configPath != "" {
		ENV.CONFIG = *configPath
	}
	if *capturePath != "" {
		ENV.CAPTURE = *capturePath
	}

	var dev device.Device
	if *sim {
		s := device.NewSimulator()
		s.GenerateTraffic()
		dev = s
	} else {
		d, err := device.Open()
		if err != nil {
			log.Fatalf("unable to open device: %v", err)
		}
		dev = d
	}

	intf, err := cantact.NewWithDevice(dev)
	if err != nil {
		log.Fatalf("unable to initialize interface: %v", err)
	}
	defer intf.Close()

	config, err := cantact.LoadConfig(ENV.CONFIG)
	if err != nil {
		log.Fatalf("unable to read config: %v", err)
	}
	if err := config.Apply(intf); err != nil {
		log.Fatalf("unable to apply config: %v", err)
	}

	var store *capture.Store
	if ENV.CAPTURE != "" {
		store, err = capture.Open(ENV.CAPTURE)
		if err != nil {
			log.Fatalf("unable to open capture store: %v", err)
		}
		defer store.Close()
	}

	hub := newHub()
	if *serve {
		go serveHTTP(ENV.LISTEN, intf, hub)
	}

	runShell(intf, hub, store)
}

// deliver is the frame handler given to Start: it feeds the hub and, when
// recording, the capture store.
func deliver(hub *Hub, store *capture.Store) cantact.FrameHandler {
	return func(f cantact.Frame) {
		hub.Publish(f)
		if store != nil {
			if err := store.Append(f); err != nil && ENV.DEBUG {
				log.Printf("capture: %v", err)
			}
		}
	}
}

func runShell(intf *cantact.Interface, hub *Hub, store *capture.Store) {
	shell := ishell.New()
	shell.Println("CANtact shell")
	shell.ShowPrompt(true)

	shell.AddCmd(&ishell.Cmd{
		Name: "info",
		Help: "show device information",
		Func: func(c *ishell.Context) {
			c.Printf("channels:   %d\n", intf.Channels())
			c.Printf("firmware:   %d\n", intf.SoftwareVersion())
			c.Printf("hardware:   %d\n", intf.HardwareVersion())
			c.Printf("can clock:  %d Hz\n", intf.CANClock())
			c.Printf("features:   %v\n", intf.Features())
			c.Printf("running:    %v\n", intf.Running())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "cfg",
		Help: "cfg [channel field value] - show or set channel config (fields: bitrate, dbitrate, enabled, loopback, monitor, fd)",
		Func: func(c *ishell.Context) {
			if len(c.Args) == 0 {
				for ch := 0; ch < intf.Channels(); ch++ {
					conf, _ := intf.Channel(ch)
					c.Printf("ch%d: %+v\n", ch, conf)
				}
				return
			}
			if len(c.Args) != 3 {
				c.Err(fmt.Errorf("usage: cfg <channel> <field> <value>"))
				return
			}

			ch, err := strconv.Atoi(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			if err := setChannelField(intf, ch, c.Args[1], c.Args[2]); err != nil {
				c.Err(err)
				return
			}
			if err := cantact.Snapshot(intf).Write(ENV.CONFIG); err != nil {
				c.Err(err)
				return
			}
			conf, _ := intf.Channel(ch)
			c.Printf("ch%d: %+v\n", ch, conf)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "start",
		Help: "put configured channels on bus",
		Func: func(c *ishell.Context) {
			if err := intf.Start(deliver(hub, store)); err != nil {
				c.Err(err)
				return
			}
			c.Println("started")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stop",
		Help: "take all channels off bus",
		Func: func(c *ishell.Context) {
			if err := intf.Stop(); err != nil {
				c.Err(err)
				return
			}
			c.Println("stopped")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "dump",
		Help: "print received frames until enter is pressed",
		Func: func(c *ishell.Context) {
			if !intf.Running() {
				c.Err(cantact.ErrNotRunning)
				return
			}
			frames, cancel := hub.Subscribe(64)
			defer cancel()

			stop := make(chan struct{})
			go func() {
				for {
					select {
					case <-stop:
						return
					case f, ok := <-frames:
						if !ok {
							return
						}
						c.Println(formatFrame(f))
					}
				}
			}()

			c.ReadLine()
			close(stop)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "send",
		Help: "send <channel> <id> <hexdata>",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("usage: send <channel> <id> <hexdata>"))
				return
			}
			ch, err := strconv.Atoi(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			id, err := strconv.ParseUint(c.Args[1], 16, 32)
			if err != nil {
				c.Err(err)
				return
			}
			var data []byte
			if len(c.Args) > 2 {
				data, err = hex.DecodeString(c.Args[2])
				if err != nil {
					c.Err(err)
					return
				}
			}

			f, err := cantact.NewFrame(uint32(id), data)
			if err != nil {
				c.Err(err)
				return
			}
			f.Channel = uint8(ch)
			if err := intf.Send(f); err != nil {
				c.Err(err)
				return
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "replay",
		Help: "retransmit frames from the capture store",
		Func: func(c *ishell.Context) {
			if store == nil {
				c.Err(fmt.Errorf("no capture store open, run with -capture"))
				return
			}
			n, err := store.Count()
			if err != nil {
				c.Err(err)
				return
			}
			if err := store.Replay(intf.Send); err != nil {
				c.Err(err)
				return
			}
			c.Printf("replayed %d frames\n", n)
		},
	})

	shell.Start()
}

func setChannelField(intf *cantact.Interface, ch int, field, value string) error {
	switch field {
	case "bitrate", "dbitrate":
		bitrate, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid bitrate value %q", value)
		}
		if field == "bitrate" {
			return intf.SetBitrate(ch, uint32(bitrate))
		}
		return intf.SetDataBitrate(ch, uint32(bitrate))

	case "enabled", "loopback", "monitor", "fd":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value %q", value)
		}
		switch field {
		case "enabled":
			return intf.SetEnabled(ch, enabled)
		case "loopback":
			return intf.SetLoopback(ch, enabled)
		case "monitor":
			return intf.SetMonitor(ch, enabled)
		default:
			return intf.SetFD(ch, enabled)
		}

	default:
		return fmt.Errorf("unknown field %q", field)
	}
}

// formatFrame renders a frame candump style.
func formatFrame(f cantact.Frame) string {
	id := fmt.Sprintf("%03X", f.ID)
	if f.Extended {
		id = fmt.Sprintf("%08X", f.ID)
	}
	flags := ""
	if f.RTR {
		flags += " R"
	}
	if f.FD {
		flags += " FD"
	}
	if f.Loopback {
		flags += " LOOP"
	}
	return fmt.Sprintf("ch%d %12.6f %s [%d] % X%s",
		f.Channel, f.Timestamp.Seconds(), id, f.DLC, f.Data, flags)
}
