// Package agent owns the persistent connection to the session coordinator.
// It translates local commands into wire messages, routes inbound messages
// to the UI layer, and keeps a local session registry consistent with the
// remote side. An Agent is an explicitly constructed service with a
// Start/Stop lifecycle; multiple instances do not interfere.
package agent

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sjawhar/caption-relay/internal/caption"
	"github.com/sjawhar/caption-relay/internal/protocol"
	"github.com/sjawhar/caption-relay/internal/registry"
)

const (
	DefaultReconnectDelay       = 5 * time.Second
	DefaultMaxReconnectAttempts = 10

	clientType      = "caption-relay"
	protocolVersion = "1.0"
)

// ErrNotConnected is returned by sends attempted while the connection is
// down. The message is dropped, not queued; delivery during an outage is
// an accepted loss at this layer.
var ErrNotConnected = errors.New("not connected to coordinator")

// ConnState is the agent's position in the connection state machine.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateExhausted
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Notifier receives the agent's UI-bound notifications. Each inbound wire
// kind and local capture event maps to its own method.
type Notifier interface {
	ConnectionChanged(connected bool, attempts int)
	Registered(clientID string)
	StatusUpdate(status string)
	CoordinatorError(message string)
	MeetingDetected(platform caption.Platform, url string)
	SessionConfirmed(sessionID string)
	CaptureChanged(sessionID string, platform caption.Platform, capturing bool)
	CaptionCount(sessionID string, count int)
	SessionEnded(sess registry.Session)
}

// CommandDispatcher delivers capture commands to the extractor hosting the
// given tab.
type CommandDispatcher interface {
	Dispatch(tabID int, cmd protocol.Command) error
}

type Config struct {
	URL                  string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// Status is a point-in-time snapshot of the agent.
type Status struct {
	State             ConnState          `json:"state"`
	Connected         bool               `json:"isConnected"`
	ReconnectAttempts int                `json:"reconnectAttempts"`
	ActiveSessions    []registry.Session `json:"activeSessions"`
}

type Agent struct {
	cfg        Config
	dialer     Dialer
	registry   *registry.Store
	notifier   Notifier
	dispatcher CommandDispatcher

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     Conn
	state    ConnState
	attempts int
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

func New(cfg Config, dialer Dialer, reg *registry.Store, notifier Notifier, dispatcher CommandDispatcher) *Agent {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return &Agent{
		cfg:        cfg,
		dialer:     dialer,
		registry:   reg,
		notifier:   notifier,
		dispatcher: dispatcher,
		state:      StateDisconnected,
	}
}

// Start launches the connection loop. Calling Start on a running agent is
// a no-op. Restarting after the reconnect budget is exhausted requires a
// Stop/Start cycle — that explicit trigger is the only way out of the
// terminal state.
func (a *Agent) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		log.Printf("agent: already running, ignoring start")
		return
	}
	a.running = true
	a.attempts = 0
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(a.stop, a.done)
}

// Stop closes the connection and halts reconnection.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stop)
	conn := a.conn
	a.conn = nil
	done := a.done
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	<-done

	a.mu.Lock()
	a.state = StateDisconnected
	a.mu.Unlock()
}

func (a *Agent) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		a.setState(StateConnecting)
		conn, err := a.dialer.Dial(a.cfg.URL)
		if err != nil {
			a.mu.Lock()
			a.attempts++
			attempts := a.attempts
			a.mu.Unlock()

			if attempts >= a.cfg.MaxReconnectAttempts {
				log.Printf("agent: giving up after %d failed connection attempts", attempts)
				a.setState(StateExhausted)
				a.notifier.ConnectionChanged(false, attempts)
				return
			}

			log.Printf("agent: connect failed (attempt %d/%d): %v", attempts, a.cfg.MaxReconnectAttempts, err)
			a.setState(StateReconnecting)
			select {
			case <-stop:
				return
			case <-time.After(a.cfg.ReconnectDelay):
			}
			continue
		}

		a.mu.Lock()
		select {
		case <-stop:
			// Stop was called while the dial was in flight. It has
			// already snapshotted a nil conn, so close this one here.
			a.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		a.conn = conn
		a.state = StateConnected
		a.attempts = 0
		a.mu.Unlock()

		if err := a.send(protocol.Register{ClientType: clientType, Version: protocolVersion}); err != nil {
			log.Printf("agent: register handshake failed: %v", err)
		}
		a.notifier.ConnectionChanged(true, 0)

		a.readLoop(conn)

		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
		_ = conn.Close()

		select {
		case <-stop:
			return
		default:
		}

		log.Printf("agent: connection to coordinator lost")
		a.notifier.ConnectionChanged(false, 0)
		a.setState(StateReconnecting)
		select {
		case <-stop:
			return
		case <-time.After(a.cfg.ReconnectDelay):
		}
	}
}

func (a *Agent) readLoop(conn Conn) {
	handler := protocol.ServerHandler{
		OnRegistered: func(m protocol.Registered) {
			a.notifier.Registered(m.ClientID)
		},
		OnSessionCreated: func(m protocol.SessionCreated) {
			a.registry.Activate(m.SessionID)
			a.notifier.SessionConfirmed(m.SessionID)
		},
		OnCaptureStatus: func(m protocol.CaptureStatus) {
			a.notifier.StatusUpdate(m.Status)
		},
		OnError: func(m protocol.ErrorMessage) {
			a.notifier.CoordinatorError(m.Error)
		},
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseServer(data)
		if err != nil {
			log.Printf("agent: dropping inbound message: %v", err)
			continue
		}
		if err := handler.Handle(msg); err != nil {
			log.Printf("agent: %v", err)
		}
	}
}

// send encodes and writes one message. It requires a live connection;
// otherwise the message is lost and ErrNotConnected returned.
func (a *Agent) send(m protocol.ClientMessage) error {
	a.mu.Lock()
	conn := a.conn
	state := a.state
	a.mu.Unlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.EncodeClient(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteMessage(data)
}

// RequestStartCapture allocates a session, announces it to the coordinator,
// registers it locally, and dispatches a start command to the extractor.
// If the coordinator cannot be reached the request is abandoned: no local
// session is created.
func (a *Agent) RequestStartCapture(tabID int, title string, platform caption.Platform) (string, error) {
	if existing, ok := a.registry.ActiveByTab(tabID); ok {
		return "", fmt.Errorf("tab %d already capturing session %s", tabID, existing.ID)
	}

	sessionID := caption.NewSessionID()
	err := a.send(protocol.CreateSession{
		SessionID: sessionID,
		Title:     title,
		Platform:  platform,
		TabID:     tabID,
	})
	if err != nil {
		log.Printf("agent: create session not sent, abandoning request: %v", err)
		return "", err
	}

	sess := registry.Session{
		ID:        sessionID,
		Title:     title,
		Platform:  platform,
		TabID:     tabID,
		StartedAt: time.Now().UTC(),
		State:     registry.StateCreated,
	}
	if err := a.registry.Insert(sess); err != nil {
		return "", fmt.Errorf("register session: %w", err)
	}

	if err := a.dispatcher.Dispatch(tabID, protocol.StartCapture{SessionID: sessionID}); err != nil {
		log.Printf("agent: start command not delivered to tab %d: %v", tabID, err)
	}
	return sessionID, nil
}

// RequestStopCapture stops extraction and ends the session. Local cleanup
// is unconditional; the END_SESSION message is best-effort.
func (a *Agent) RequestStopCapture(sessionID string, tabID int) {
	// The stop command flushes the extractor synchronously, so the final
	// caption batch is sent before END_SESSION.
	if err := a.dispatcher.Dispatch(tabID, protocol.StopCapture{}); err != nil {
		log.Printf("agent: stop command not delivered to tab %d: %v", tabID, err)
	}

	if err := a.send(protocol.EndSession{SessionID: sessionID}); err != nil {
		log.Printf("agent: end session %s not delivered: %v", sessionID, err)
	}

	if sess, ok := a.registry.End(sessionID); ok {
		a.notifier.SessionEnded(sess)
	}
}

// IngestCaptionBatch forwards one flushed batch to the coordinator and
// updates the local caption count.
func (a *Agent) IngestCaptionBatch(sessionID string, platform caption.Platform, captions []caption.Event) {
	if len(captions) == 0 {
		return
	}

	count, known := a.registry.AddCaptions(sessionID, len(captions))

	err := a.send(protocol.WireCaptionData{
		SessionID: sessionID,
		Platform:  platform,
		Captions:  captions,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("agent: caption batch for %s dropped (%d events): %v", sessionID, len(captions), err)
	}

	if known {
		a.notifier.CaptionCount(sessionID, count)
	}
}

// NotificationHandler returns the handler table the extractor's
// notifications are routed through.
func (a *Agent) NotificationHandler() protocol.NotificationHandler {
	return protocol.NotificationHandler{
		OnMeetingDetected: func(n protocol.MeetingDetected) {
			a.notifier.MeetingDetected(n.Platform, n.URL)
		},
		OnCaptureStarted: func(n protocol.CaptureStarted) {
			// Observation has begun; the session is live even before the
			// coordinator confirms it.
			a.registry.Activate(n.SessionID)
			a.notifier.CaptureChanged(n.SessionID, n.Platform, true)
		},
		OnCaptureStopped: func(n protocol.CaptureStopped) {
			a.notifier.CaptureChanged(n.SessionID, n.Platform, false)
		},
		OnCaptionData: func(n protocol.CaptionData) {
			a.IngestCaptionBatch(n.SessionID, n.Platform, n.Captions)
		},
	}
}

// Status reports connection state and the local session mirror.
func (a *Agent) Status() Status {
	a.mu.Lock()
	state := a.state
	attempts := a.attempts
	a.mu.Unlock()

	var active []registry.Session
	for _, sess := range a.registry.All() {
		if sess.State != registry.StateEnded {
			active = append(active, sess)
		}
	}

	return Status{
		State:             state,
		Connected:         state == StateConnected,
		ReconnectAttempts: attempts,
		ActiveSessions:    active,
	}
}

func (a *Agent) setState(s ConnState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}
