package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/sjawhar/caption-relay/internal/caption"
	"github.com/sjawhar/caption-relay/internal/storage"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastSessionStarted(sess storage.Session) {
	h.broadcastEvent(SessionStartedEvent{
		Event:     newEvent("session_started", sess.StartedAt),
		SessionID: sess.ID,
		Title:     sess.Title,
		Platform:  sess.Platform,
	})
}

func (h *Hub) BroadcastCaptionBatch(sessionID string, captions []caption.Event, total int) {
	h.broadcastEvent(CaptionBatchEvent{
		Event:     newEvent("caption_batch", time.Now().UTC()),
		SessionID: sessionID,
		Captions:  captions,
		Total:     total,
	})
}

func (h *Hub) BroadcastSessionEnded(sessionID string, duration time.Duration, captionCount int) {
	h.broadcastEvent(SessionEndedEvent{
		Event:        newEvent("session_ended", time.Now().UTC()),
		SessionID:    sessionID,
		Duration:     duration.Seconds(),
		CaptionCount: captionCount,
	})
}

func (h *Hub) BroadcastSummaryReady(sessionID, summary, status string) {
	h.broadcastEvent(SummaryReadyEvent{
		Event:     newEvent("summary_ready", time.Now().UTC()),
		SessionID: sessionID,
		Summary:   summary,
		Status:    status,
	})
}

func (h *Hub) BroadcastAgentStatus(clientID string, connected bool) {
	h.broadcastEvent(AgentStatusEvent{
		Event:     newEvent("agent_status", time.Now().UTC()),
		ClientID:  clientID,
		Connected: connected,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
