package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/caption-relay/internal/caption"
	"github.com/sjawhar/caption-relay/internal/registry"
)

// uiHub fans agent notifications out to popup UI websocket clients. Slow
// clients lose events rather than blocking the agent.
type uiHub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func newUIHub() *uiHub {
	return &uiHub{clients: make(map[chan []byte]struct{})}
}

func (h *uiHub) subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *uiHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *uiHub) emit(eventType string, fields map[string]any) {
	payload := map[string]any{
		"type":      eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ui event marshal error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *uiHub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ui ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		ch := h.subscribe()
		defer h.unsubscribe(ch)

		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	})
}

// uiNotifier adapts agent notifications to UI events.
type uiNotifier struct {
	hub *uiHub
}

func (n *uiNotifier) ConnectionChanged(connected bool, attempts int) {
	n.hub.emit("connection_changed", map[string]any{
		"connected":         connected,
		"reconnectAttempts": attempts,
	})
}

func (n *uiNotifier) Registered(clientID string) {
	n.hub.emit("registered", map[string]any{"clientId": clientID})
}

func (n *uiNotifier) StatusUpdate(status string) {
	n.hub.emit("capture_status", map[string]any{"status": status})
}

func (n *uiNotifier) CoordinatorError(message string) {
	log.Printf("coordinator error: %s", message)
	n.hub.emit("coordinator_error", map[string]any{"error": message})
}

func (n *uiNotifier) MeetingDetected(platform caption.Platform, url string) {
	log.Printf("meeting detected: %s (%s)", url, platform)
	n.hub.emit("meeting_detected", map[string]any{
		"platform": string(platform),
		"url":      url,
	})
}

func (n *uiNotifier) SessionConfirmed(sessionID string) {
	n.hub.emit("session_confirmed", map[string]any{"sessionId": sessionID})
}

func (n *uiNotifier) CaptureChanged(sessionID string, platform caption.Platform, capturing bool) {
	n.hub.emit("capture_changed", map[string]any{
		"sessionId": sessionID,
		"platform":  string(platform),
		"capturing": capturing,
	})
}

func (n *uiNotifier) CaptionCount(sessionID string, count int) {
	n.hub.emit("caption_count", map[string]any{
		"sessionId": sessionID,
		"count":     count,
	})
}

func (n *uiNotifier) SessionEnded(sess registry.Session) {
	n.hub.emit("session_ended", map[string]any{
		"sessionId":    sess.ID,
		"captionCount": sess.CaptionCount,
	})
}
