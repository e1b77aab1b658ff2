package main

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"github.com/linklayer/cantact-go/cantact"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DeviceInfo is the read-only device summary served by the monitor.
type DeviceInfo struct {
	Channels        int               `json:"channels"`
	SoftwareVersion uint32            `json:"sw_version"`
	HardwareVersion uint32            `json:"hw_version"`
	CANClock        uint32            `json:"can_clock"`
	Features        []cantact.Feature `json:"features"`
	Running         bool              `json:"running"`
}

// ChannelUpdate is the mutable subset of a channel configuration accepted
// over the API.
type ChannelUpdate struct {
	Bitrate     uint32 `json:"bitrate"`
	DataBitrate uint32 `json:"data_bitrate"`
	Enabled     *bool  `json:"enabled"`
	Loopback    *bool  `json:"loopback"`
	Monitor     *bool  `json:"monitor"`
	FD          *bool  `json:"fd"`
}

func (u *ChannelUpdate) Bind(r *http.Request) error {
	return nil
}

// SendPayload is an outbound frame request.
type SendPayload struct {
	Channel uint8  `json:"channel"`
	ID      uint32 `json:"id"`
	Data    []byte `json:"data"`
	RTR     bool   `json:"rtr"`
	FD      bool   `json:"fd"`
}

func (p *SendPayload) Bind(r *http.Request) error {
	return nil
}

func serveHTTP(addr string, intf *cantact.Interface, hub *Hub) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer)

	r.Post("/api/login", Login)
	r.Get("/api/device", getDevice(intf))
	r.Get("/api/channels", getChannels(intf))

	r.Group(func(r chi.Router) {
		r.Use(ValidateJWT)
		r.Post("/api/channels/{channel}", updateChannel(intf))
		r.Post("/api/send", sendFrame(intf))
	})

	r.Get("/ws/frames", streamFrames(hub))

	log.Printf("monitor listening on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Printf("monitor: %v", err)
	}
}

func getDevice(intf *cantact.Interface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, DeviceInfo{
			Channels:        intf.Channels(),
			SoftwareVersion: intf.SoftwareVersion(),
			HardwareVersion: intf.HardwareVersion(),
			CANClock:        intf.CANClock(),
			Features:        intf.Features(),
			Running:         intf.Running(),
		})
	}
}

func getChannels(intf *cantact.Interface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels := make([]cantact.Channel, intf.Channels())
		for ch := range channels {
			channels[ch], _ = intf.Channel(ch)
		}
		render.JSON(w, r, channels)
	}
}

func updateChannel(intf *cantact.Interface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := strconv.Atoi(chi.URLParam(r, "channel"))
		if err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}

		data := &ChannelUpdate{}
		if err := render.Bind(r, data); err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}

		apply := func(err error) bool {
			if err != nil {
				render.Render(w, r, ErrInvalidRequest(err))
				return false
			}
			return true
		}
		if data.Enabled != nil && !apply(intf.SetEnabled(ch, *data.Enabled)) {
			return
		}
		if data.Monitor != nil && !apply(intf.SetMonitor(ch, *data.Monitor)) {
			return
		}
		if data.Loopback != nil && !apply(intf.SetLoopback(ch, *data.Loopback)) {
			return
		}
		if data.FD != nil && !apply(intf.SetFD(ch, *data.FD)) {
			return
		}
		if data.Bitrate != 0 && !apply(intf.SetBitrate(ch, data.Bitrate)) {
			return
		}
		if data.DataBitrate != 0 && !apply(intf.SetDataBitrate(ch, data.DataBitrate)) {
			return
		}

		conf, _ := intf.Channel(ch)
		render.JSON(w, r, conf)
	}
}

func sendFrame(intf *cantact.Interface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := &SendPayload{}
		if err := render.Bind(r, data); err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}

		f, err := cantact.NewFrame(data.ID, data.Data)
		if err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}
		f.Channel = data.Channel
		f.RTR = data.RTR
		f.FD = f.FD || data.FD

		if err := intf.Send(f); err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}
		render.NoContent(w, r)
	}
}

func streamFrames(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Print("upgrade:", err)
			return
		}
		defer conn.Close()

		frames, cancel := hub.Subscribe(64)
		defer cancel()

		closed := make(chan struct{})
		go func() {
			// consume control frames, notice the peer going away
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				if err := conn.WriteJSON(f); err != nil {
					return
				}
			}
		}
	}
}
