package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"botsim-core/internal/events"
	"botsim-core/internal/monitor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
	wsBuffer     = 256
)

type wsEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// handleWebsocket streams delta batches and engine lifecycle events to one
// client. A slow client loses intermediate deltas (the bus drops on a full
// buffer) but never blocks the engine.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	monitor.WSClientConnected()

	topics := []events.Event{
		events.EventDelta,
		events.EventSnapshot,
		events.EventReady,
		events.EventStarted,
		events.EventStopped,
		events.EventTock,
		events.EventProfile,
		events.EventActivationAdded,
		events.EventActivationCanceled,
		events.EventTakeProfitAck,
		events.EventReset,
	}

	merged := make(chan wsEnvelope, wsBuffer)
	var unsubs []func()
	for _, topic := range topics {
		ch, unsub := s.bus.Subscribe(topic, wsBuffer)
		unsubs = append(unsubs, unsub)
		go func(topic events.Event, ch <-chan any) {
			for payload := range ch {
				select {
				case merged <- wsEnvelope{Event: string(topic), Payload: payload}:
				default:
					// slow client; drop
				}
			}
		}(topic, ch)
	}

	done := make(chan struct{})

	// reader: we only care about close/pong
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			for _, unsub := range unsubs {
				unsub()
			}
			conn.Close()
			monitor.WSClientDisconnected()
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-done:
				return
			case env := <-merged:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}
