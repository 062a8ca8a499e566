package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // permissive: local tooling only (spec.md §4.7)
}

const pingInterval = 30 * time.Second

// handleWebSocket is the spec.md §4.7 WebSocket /mcp/ws adapter: a
// per-connection message loop where each text frame is an envelope
// routed through the same dispatcher as the HTTP adapter. Session
// state is process-wide and single-entry (spec.md §3), so this
// connection shares s.sess with the HTTP adapter rather than starting
// its own handshake state.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := s.sess
	done := make(chan struct{})
	go s.pingLoop(conn, done)
	defer close(done)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket connection closed unexpectedly")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		resp := s.dispatcher.Handle(r.Context(), sess, data)
		if resp == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
			log.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}

func (s *Server) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
