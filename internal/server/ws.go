package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sjawhar/caption-relay/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerAgentWSRoute mounts the capture-agent endpoint. Each connection
// gets its own read loop; replies go back over the same connection.
func registerAgentWSRoute(mux *http.ServeMux, coord *Coordinator, hub *Hub) {
	mux.HandleFunc("GET /ws/agent", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("agent ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		clientID := ""
		reply := func(m protocol.ServerMessage) {
			data, err := protocol.EncodeServer(m)
			if err != nil {
				log.Printf("agent ws encode error: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("agent ws write error: %v", err)
			}
		}

		handler := protocol.ClientHandler{
			OnRegister: func(m protocol.Register) {
				clientID = uuid.NewString()
				log.Printf("agent registered: %s (%s %s)", clientID, m.ClientType, m.Version)
				reply(protocol.Registered{ClientID: clientID})
				hub.BroadcastAgentStatus(clientID, true)
			},
			OnCreateSession: func(m protocol.CreateSession) {
				info, err := coord.CreateSession(m)
				if err != nil {
					log.Printf("agent ws create session %s: %v", m.SessionID, err)
					reply(protocol.ErrorMessage{Error: err.Error()})
					return
				}
				reply(protocol.SessionCreated{SessionID: info.SessionID, Session: info})
			},
			OnCaptionData: func(m protocol.WireCaptionData) {
				coord.IngestCaptions(m)
			},
			OnEndSession: func(m protocol.EndSession) {
				if err := coord.EndSession(m); err != nil {
					log.Printf("agent ws end session %s: %v", m.SessionID, err)
					reply(protocol.ErrorMessage{Error: err.Error()})
					return
				}
				reply(protocol.CaptureStatus{Status: "session_ended"})
			},
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if clientID != "" {
					hub.BroadcastAgentStatus(clientID, false)
				}
				return
			}

			msg, err := protocol.ParseClient(data)
			if err != nil {
				log.Printf("agent ws dropping inbound message: %v", err)
				reply(protocol.ErrorMessage{Error: err.Error()})
				continue
			}
			if err := handler.Handle(msg); err != nil {
				log.Printf("agent ws handler error: %v", err)
			}
		}
	})
}

// registerUIWSRoute mounts the read-only event feed for UI clients.
func registerUIWSRoute(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		connectionEvent := ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}
		payload, err := json.Marshal(connectionEvent)
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	})
}
