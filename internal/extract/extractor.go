// Package extract converts raw mutations of a watched element subtree into
// a deduplicated, batched stream of caption events.
package extract

import (
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sjawhar/caption-relay/internal/caption"
	"github.com/sjawhar/caption-relay/internal/page"
	"github.com/sjawhar/caption-relay/internal/protocol"
)

const (
	// DefaultFlushThreshold is the buffer size that forces a flush.
	DefaultFlushThreshold = 10
	// DefaultFlushInterval is the periodic flush cadence for a non-empty
	// buffer.
	DefaultFlushInterval = 5 * time.Second
	// minCaptionRunes rejects fragments of two characters or fewer.
	minCaptionRunes = 3
)

// Config describes where captions live on a given platform. The selector
// lists are configuration data, not behavior.
type Config struct {
	Platform           caption.Platform
	ContainerSelectors []page.Selector
	TextSelector       page.Selector
	SpeakerSelector    page.Selector
	FlushThreshold     int
	FlushInterval      time.Duration
}

// Publisher receives the extractor's outbound notifications
// (CAPTURE_STARTED, CAPTURE_STOPPED, CAPTION_DATA).
type Publisher interface {
	Publish(protocol.Notification)
}

type pendingCommand struct {
	cmd  protocol.Command
	done chan struct{}
}

// Extractor watches a mirrored page document and extracts caption events.
// All state is owned by the Run loop; commands arrive over a channel and
// are processed one at a time, so no locking is needed.
type Extractor struct {
	cfg  Config
	doc  *page.Document
	pub  Publisher
	cmds chan pendingCommand

	// loop-owned state
	capturing      bool
	sessionID      string
	container      *page.Node
	containerBound bool
	sub            *page.Subscription
	buf            *Buffer
	lastText       string
}

func New(cfg Config, doc *page.Document, pub Publisher) *Extractor {
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	return &Extractor{
		cfg:  cfg,
		doc:  doc,
		pub:  pub,
		cmds: make(chan pendingCommand),
		buf:  NewBuffer(),
	}
}

// Run processes commands, mutation batches, and the flush timer on a
// single goroutine until stop is closed. Capture is torn down (with a
// final flush) on exit.
func (e *Extractor) Run(stop <-chan struct{}) {
	handler := protocol.CommandHandler{
		OnStartCapture: e.handleStart,
		OnStopCapture:  func(protocol.StopCapture) { e.handleStop() },
		OnGetStatus:    e.handleStatus,
	}

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		var batches <-chan []page.Mutation
		if e.sub != nil {
			batches = e.sub.Batches()
		}

		select {
		case <-stop:
			if e.capturing {
				e.handleStop()
			}
			return
		case pc := <-e.cmds:
			if err := handler.Handle(pc.cmd); err != nil {
				log.Printf("extractor: %v", err)
			}
			close(pc.done)
		case batch, ok := <-batches:
			if ok {
				e.handleBatch(batch)
			}
		case <-ticker.C:
			if e.capturing && e.buf.Len() > 0 {
				e.flush()
			}
		}
	}
}

// Dispatch posts a command to the run loop and waits until it has been
// processed. StopCapture therefore returns only after the final flush.
func (e *Extractor) Dispatch(cmd protocol.Command) {
	done := make(chan struct{})
	e.cmds <- pendingCommand{cmd: cmd, done: done}
	<-done
}

// StartCapture begins observing the page for the given session.
func (e *Extractor) StartCapture(sessionID string) {
	e.Dispatch(protocol.StartCapture{SessionID: sessionID})
}

// StopCapture halts observation, flushing any buffered events first.
func (e *Extractor) StopCapture() {
	e.Dispatch(protocol.StopCapture{})
}

// Status reports the extractor's current capture state.
func (e *Extractor) Status() protocol.Status {
	reply := make(chan protocol.Status, 1)
	e.Dispatch(protocol.GetStatus{Reply: reply})
	return <-reply
}

func (e *Extractor) handleStart(cmd protocol.StartCapture) {
	if e.capturing {
		log.Printf("extractor: already capturing session %s, ignoring start", e.sessionID)
		return
	}

	e.sessionID = cmd.SessionID
	e.lastText = ""
	e.capturing = true

	if container, ok := page.FindFirst(e.doc.Root(), e.cfg.ContainerSelectors); ok {
		e.container = container
		e.containerBound = true
		e.sub = e.doc.Observe(container)
	} else {
		// No caption container yet. Watch the whole page so captions
		// appearing later are still caught; discovery re-runs on new nodes.
		log.Printf("extractor: caption container not found, observing page root")
		e.container = nil
		e.containerBound = false
		e.sub = e.doc.Observe(nil)
	}

	e.publish(protocol.CaptureStarted{SessionID: e.sessionID, Platform: e.cfg.Platform})
}

func (e *Extractor) handleStop() {
	if !e.capturing {
		log.Printf("extractor: not capturing, ignoring stop")
		return
	}

	// Flush before the stop notification so the final batch is never
	// reordered behind END_SESSION.
	e.flush()

	e.sub.Close()
	e.sub = nil
	e.container = nil
	e.containerBound = false
	e.lastText = ""
	e.capturing = false

	e.publish(protocol.CaptureStopped{SessionID: e.sessionID, Platform: e.cfg.Platform})
	e.sessionID = ""
}

func (e *Extractor) handleStatus(cmd protocol.GetStatus) {
	cmd.Reply <- protocol.Status{
		IsCapturing: e.capturing,
		Platform:    e.cfg.Platform,
		SessionID:   e.sessionID,
		BufferSize:  e.buf.Len(),
	}
}

func (e *Extractor) handleBatch(batch []page.Mutation) {
	if !e.capturing {
		return
	}

	for _, m := range batch {
		if !e.containerBound && m.Kind == page.MutationChildList && len(m.Added) > 0 {
			if container, ok := page.FindFirst(e.doc.Root(), e.cfg.ContainerSelectors); ok {
				e.container = container
				e.containerBound = true
				e.sub.Rebind(container)
				log.Printf("extractor: caption container found, narrowing observation")
			}
		}

		for _, node := range candidateNodes(m) {
			text, speaker := e.extractCandidate(node)
			accepted, ok := e.acceptText(text)
			if !ok {
				continue
			}
			e.lastText = accepted
			e.buf.Add(caption.Event{
				Timestamp: time.Now().UTC(),
				Speaker:   speaker,
				Text:      accepted,
				Platform:  e.cfg.Platform,
				SessionID: e.sessionID,
			})
			if e.buf.Len() >= e.cfg.FlushThreshold {
				e.flush()
			}
		}
	}
}

func candidateNodes(m page.Mutation) []*page.Node {
	if m.Kind == page.MutationChildList {
		return m.Added
	}
	if m.Target == nil {
		return nil
	}
	return []*page.Node{m.Target}
}

// extractCandidate pulls caption text and an optional speaker label from a
// mutated node, preferring a nested caption-text element over the node's
// raw text. Anomalies yield an empty candidate, never an error.
func (e *Extractor) extractCandidate(node *page.Node) (text, speaker string) {
	if node == nil {
		return "", ""
	}

	if e.cfg.TextSelector != "" {
		if t := node.Query(e.cfg.TextSelector); t != nil {
			text = t.TextContent()
		}
	}
	if text == "" {
		text = node.TextContent()
	}

	if e.cfg.SpeakerSelector != "" {
		if s := node.Query(e.cfg.SpeakerSelector); s != nil {
			speaker = strings.TrimSpace(s.Text)
			if speaker != "" {
				// Speaker labels render inside the caption line on some
				// platforms; strip the label so it is not counted as text.
				text = strings.TrimSpace(strings.TrimPrefix(text, s.Text))
			}
		}
	}

	return text, speaker
}

// acceptText validates and dedups a candidate: trimmed, longer than two
// characters, and not identical to the immediately preceding accepted
// text. Repeated partial renders of the same line are suppressed; a
// genuinely new but identical back-to-back line is indistinguishable and
// is dropped too.
func (e *Extractor) acceptText(raw string) (string, bool) {
	t := strings.TrimSpace(raw)
	if utf8.RuneCountInString(t) < minCaptionRunes {
		return "", false
	}
	if t == e.lastText {
		return "", false
	}
	return t, true
}

func (e *Extractor) flush() {
	events := e.buf.Flush()
	if len(events) == 0 {
		return
	}
	e.publish(protocol.CaptionData{
		SessionID: e.sessionID,
		Platform:  e.cfg.Platform,
		Captions:  events,
	})
}

func (e *Extractor) publish(n protocol.Notification) {
	if e.pub != nil {
		e.pub.Publish(n)
	}
}
