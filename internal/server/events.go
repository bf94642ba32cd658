package server

import (
	"time"

	"github.com/sjawhar/caption-relay/internal/caption"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type SessionStartedEvent struct {
	Event
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Platform  string `json:"platform"`
}

type CaptionBatchEvent struct {
	Event
	SessionID string          `json:"session_id"`
	Captions  []caption.Event `json:"captions"`
	Total     int             `json:"total"`
}

type SessionEndedEvent struct {
	Event
	SessionID    string  `json:"session_id"`
	Duration     float64 `json:"duration"`
	CaptionCount int     `json:"caption_count"`
}

type SummaryReadyEvent struct {
	Event
	SessionID string `json:"session_id"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
}

type AgentStatusEvent struct {
	Event
	ClientID  string `json:"client_id"`
	Connected bool   `json:"connected"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
