package api

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smazurov/camkit/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// wsMessage is one event frame on the WebSocket stream.
type wsMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func eventName(e any) string {
	switch e.(type) {
	case events.CameraAddedEvent:
		return "camera-added"
	case events.CameraRemovedEvent:
		return "camera-removed"
	case events.CameraStateChangedEvent:
		return "camera-state-changed"
	case events.RequestCompletedEvent:
		return "request-completed"
	case events.DeviceHotplugEvent:
		return "device-hotplug"
	}
	return "unknown"
}

// registerWebSocketRoute mounts the event stream for clients that cannot
// use server-sent events. It carries the same events as /api/events.
func (s *Server) registerWebSocketRoute() {
	if s.options.EventBus == nil {
		return
	}
	bus := s.options.EventBus
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	s.mux.HandleFunc("GET /api/ws", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="camkit API"`)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("WebSocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		eventCh := make(chan any, 64)
		unsubscribers := []func(){
			forward[events.CameraAddedEvent](bus, eventCh),
			forward[events.CameraRemovedEvent](bus, eventCh),
			forward[events.CameraStateChangedEvent](bus, eventCh),
			forward[events.RequestCompletedEvent](bus, eventCh),
			forward[events.DeviceHotplugEvent](bus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// The reader only handles control frames and notices the close.
		closed := make(chan struct{})
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		s.logger.Debug("WebSocket client connected", "remote_addr", r.RemoteAddr)
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-closed:
				s.logger.Debug("WebSocket client disconnected", "remote_addr", r.RemoteAddr)
				return
			case <-r.Context().Done():
				return
			case ev := <-eventCh:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(wsMessage{Event: eventName(ev), Data: ev}); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}

// authorized checks basic credentials from the Authorization header or the
// auth query parameter on routes outside Huma.
func (s *Server) authorized(r *http.Request) bool {
	if s.options.AuthUsername == "" || s.options.AuthPassword == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		decoded, err := base64.StdEncoding.DecodeString(r.URL.Query().Get("auth"))
		if err != nil {
			return false
		}
		user, pass, ok = strings.Cut(string(decoded), ":")
		if !ok {
			return false
		}
	}
	return subtle.ConstantTimeCompare([]byte(user), []byte(s.options.AuthUsername)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(s.options.AuthPassword)) == 1
}
