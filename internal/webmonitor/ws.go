package webmonitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 512
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsCommand is a message sent by the page over the socket.
type wsCommand struct {
	Command string `json:"command"`
}

type wsReply struct {
	Error string `json:"error"`
}

// handleWebSocket pushes status views to the client and accepts toggle
// commands. Only the writer goroutine writes to the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	s.metrics.WebSocketClients.Add(1)
	defer s.metrics.WebSocketClients.Add(-1)

	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	replies := make(chan wsReply, 1)
	readDone := make(chan struct{})
	go s.readCommands(conn, replies, readDone)

	log.Info("WebSocket client connected from %s", r.RemoteAddr)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-readDone:
			return

		case event, ok := <-eventCh:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, event.JSONData); err != nil {
				log.Debug("WebSocket write failed: %v", err)
				return
			}

		case reply := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(reply); err != nil {
				log.Debug("WebSocket write failed: %v", err)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				log.Debug("WebSocket ping failed: %v", err)
				return
			}
		}
	}
}

func (s *Server) readCommands(conn *websocket.Conn, replies chan<- wsReply, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("WebSocket client disconnected normally")
			} else {
				log.Debug("WebSocket client disconnected: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var cmd wsCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			sendReply(replies, wsReply{Error: "invalid command"})
			continue
		}
		switch cmd.Command {
		case "toggle":
			state, applied := s.session.Toggle()
			if !applied {
				sendReply(replies, wsReply{Error: "toggle unavailable while " + state.String()})
				continue
			}
			// The resulting state reaches the client as a status event.
			log.Debug("WebSocket toggle -> %s", state)
		default:
			sendReply(replies, wsReply{Error: "unknown command: " + cmd.Command})
		}
	}
}

// sendReply drops the reply if one is already pending.
func sendReply(replies chan<- wsReply, reply wsReply) {
	select {
	case replies <- reply:
	default:
	}
}
