package server

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sjawhar/caption-relay/internal/caption"
	"github.com/sjawhar/caption-relay/internal/protocol"
	"github.com/sjawhar/caption-relay/internal/storage"
)

// DefaultPersistInterval is how often buffered caption batches are written
// through to storage.
const DefaultPersistInterval = 10 * time.Second

// maxPersistRetries bounds how many ticks a failing batch is retried
// before it is dropped. Without a bound, captions for a session the store
// refuses (an unknown session id, say) would pile up forever.
const maxPersistRetries = 3

type SessionStore interface {
	CreateSession(id, title, platform string, tabID int, startedAt time.Time) (bool, error)
	EndSession(id string, endedAt time.Time) error
	AppendCaptions(sessionID string, captions []caption.Event) error
	GetSession(id string) (storage.Session, error)
	GetSessionsByDate(date string) ([]storage.Session, error)
	GetCaptions(sessionID string) ([]caption.Event, error)
	GetDates() ([]string, error)
}

type liveSession struct {
	startedAt time.Time
	count     int
}

// Coordinator owns the server side of the session protocol: session
// creation, caption buffering with periodic persistence, and session
// teardown. Inbound captions are held in memory and written through on a
// timer or when the session ends.
type Coordinator struct {
	store           SessionStore
	hub             *Hub
	summarize       func(sessionID string)
	persistInterval time.Duration

	mu       sync.Mutex
	pending  map[string][]caption.Event
	failures map[string]int
	live     map[string]*liveSession
}

func NewCoordinator(store SessionStore, hub *Hub, persistInterval time.Duration, summarize func(sessionID string)) *Coordinator {
	if persistInterval <= 0 {
		persistInterval = DefaultPersistInterval
	}
	return &Coordinator{
		store:           store,
		hub:             hub,
		summarize:       summarize,
		persistInterval: persistInterval,
		pending:         make(map[string][]caption.Event),
		failures:        make(map[string]int),
		live:            make(map[string]*liveSession),
	}
}

// Run drives the periodic persist tick until stop is closed. Remaining
// buffered captions are written through on the way out.
func (c *Coordinator) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(c.persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			c.FlushPending()
			return
		case <-ticker.C:
			c.FlushPending()
		}
	}
}

// CreateSession inserts the session, or replays the prior result when the
// same id is announced again after a reconnect.
func (c *Coordinator) CreateSession(m protocol.CreateSession) (protocol.SessionInfo, error) {
	startedAt := time.Now().UTC()

	created, err := c.store.CreateSession(m.SessionID, m.Title, string(m.Platform), m.TabID, startedAt)
	if err != nil {
		return protocol.SessionInfo{}, fmt.Errorf("create session: %w", err)
	}

	sess, err := c.store.GetSession(m.SessionID)
	if err != nil {
		return protocol.SessionInfo{}, fmt.Errorf("load session: %w", err)
	}

	c.mu.Lock()
	if _, ok := c.live[m.SessionID]; !ok {
		c.live[m.SessionID] = &liveSession{startedAt: sess.StartedAt, count: sess.CaptionCount}
	}
	c.mu.Unlock()

	if created {
		c.hub.BroadcastSessionStarted(sess)
	} else {
		log.Printf("coordinator: replayed create for session %s", m.SessionID)
	}

	return sessionInfo(sess), nil
}

// IngestCaptions buffers one caption batch for the periodic persist tick.
func (c *Coordinator) IngestCaptions(m protocol.WireCaptionData) {
	if len(m.Captions) == 0 {
		return
	}

	c.mu.Lock()
	c.pending[m.SessionID] = append(c.pending[m.SessionID], m.Captions...)
	total := len(m.Captions)
	if live, ok := c.live[m.SessionID]; ok {
		live.count += len(m.Captions)
		total = live.count
	}
	c.mu.Unlock()

	c.hub.BroadcastCaptionBatch(m.SessionID, m.Captions, total)
}

// EndSession flushes any buffered captions for the session, marks it ended,
// and kicks off summarization.
func (c *Coordinator) EndSession(m protocol.EndSession) error {
	if err := c.flushSession(m.SessionID); err != nil {
		return err
	}

	endedAt := time.Now().UTC()
	if err := c.store.EndSession(m.SessionID, endedAt); err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	c.mu.Lock()
	live := c.live[m.SessionID]
	delete(c.live, m.SessionID)
	c.mu.Unlock()

	duration := time.Duration(0)
	count := 0
	if live != nil {
		duration = endedAt.Sub(live.startedAt)
		count = live.count
	}
	c.hub.BroadcastSessionEnded(m.SessionID, duration, count)

	if c.summarize != nil {
		go c.summarize(m.SessionID)
	}
	return nil
}

// FlushPending writes all buffered caption batches through to storage.
// A failed write puts the batch back so the next tick retries it, up to
// maxPersistRetries, after which the batch is dropped.
func (c *Coordinator) FlushPending() {
	c.mu.Lock()
	batches := c.pending
	c.pending = make(map[string][]caption.Event)
	c.mu.Unlock()

	for sessionID, captions := range batches {
		err := c.store.AppendCaptions(sessionID, captions)
		c.mu.Lock()
		if err == nil {
			delete(c.failures, sessionID)
			c.mu.Unlock()
			continue
		}
		c.failures[sessionID]++
		failures := c.failures[sessionID]
		if failures >= maxPersistRetries {
			delete(c.failures, sessionID)
			c.mu.Unlock()
			log.Printf("coordinator: dropping %d captions for %s after %d failed persists: %v", len(captions), sessionID, failures, err)
			continue
		}
		c.pending[sessionID] = append(captions, c.pending[sessionID]...)
		c.mu.Unlock()
		log.Printf("coordinator: persist %d captions for %s failed (attempt %d/%d), retrying next tick: %v", len(captions), sessionID, failures, maxPersistRetries, err)
	}
}

func (c *Coordinator) flushSession(sessionID string) error {
	c.mu.Lock()
	captions := c.pending[sessionID]
	delete(c.pending, sessionID)
	delete(c.failures, sessionID)
	c.mu.Unlock()

	if len(captions) == 0 {
		return nil
	}
	if err := c.store.AppendCaptions(sessionID, captions); err != nil {
		return fmt.Errorf("flush captions: %w", err)
	}
	return nil
}

func sessionInfo(sess storage.Session) protocol.SessionInfo {
	return protocol.SessionInfo{
		SessionID:    sess.ID,
		Title:        sess.Title,
		Platform:     caption.Platform(sess.Platform),
		TabID:        sess.TabID,
		StartedAt:    sess.StartedAt,
		CaptionCount: sess.CaptionCount,
		State:        sess.Status,
	}
}
