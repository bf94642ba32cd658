package feed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/caption-relay/internal/caption"
	"github.com/sjawhar/caption-relay/internal/page"
	"github.com/sjawhar/caption-relay/internal/protocol"
)

type publisherMock struct {
	notes chan protocol.Notification
}

func newPublisherMock() *publisherMock {
	return &publisherMock{notes: make(chan protocol.Notification, 16)}
}

func (p *publisherMock) Publish(n protocol.Notification) { p.notes <- n }

func (p *publisherMock) next(t *testing.T) protocol.Notification {
	t.Helper()
	select {
	case n := <-p.notes:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
		return nil
	}
}

func (p *publisherMock) expectNone(t *testing.T) {
	t.Helper()
	select {
	case n := <-p.notes:
		t.Fatalf("expected no notification, got %#v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestApplyBuildsMirroredTree(t *testing.T) {
	doc := page.NewDocument()
	applier := NewApplier(doc, nil)

	sub := doc.Observe(nil)
	defer sub.Close()

	batch := Batch{TabID: 1, Ops: []Op{
		{Op: OpAppend, Node: &NodeSpec{
			Ref: "n1", Tag: "div", ID: "captions",
			Children: []NodeSpec{
				{Ref: "n2", Tag: "span", Classes: []string{"caption-text"}, Text: "hello"},
			},
		}},
	}}
	if err := applier.Apply(batch); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	container := doc.Root().Query("#captions")
	if container == nil {
		t.Fatal("expected mirrored container node")
	}
	if got := container.TextContent(); got != "hello" {
		t.Fatalf("expected text content hello, got %q", got)
	}

	select {
	case muts := <-sub.Batches():
		if len(muts) == 0 {
			t.Fatal("expected mutations in flushed batch")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for mutation batch")
	}
}

func TestTextAndRemoveOpsAddressEarlierAppends(t *testing.T) {
	doc := page.NewDocument()
	applier := NewApplier(doc, nil)

	if err := applier.Apply(Batch{Ops: []Op{
		{Op: OpAppend, Node: &NodeSpec{Ref: "line", Tag: "div", Text: "first"}},
	}}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := applier.Apply(Batch{Ops: []Op{{Op: OpText, Ref: "line", Text: "updated"}}}); err != nil {
		t.Fatalf("text op failed: %v", err)
	}
	if got := doc.Root().TextContent(); got != "updated" {
		t.Fatalf("expected updated text, got %q", got)
	}

	if err := applier.Apply(Batch{Ops: []Op{{Op: OpRemove, Ref: "line"}}}); err != nil {
		t.Fatalf("remove op failed: %v", err)
	}
	if len(doc.Root().Children) != 0 {
		t.Fatal("expected node removed from tree")
	}

	// The ref died with the node.
	if err := applier.Apply(Batch{Ops: []Op{{Op: OpText, Ref: "line", Text: "ghost"}}}); err == nil {
		t.Fatal("expected error for ref to removed node")
	}
}

func TestUnknownOpAndRefAreRejected(t *testing.T) {
	applier := NewApplier(page.NewDocument(), nil)

	if err := applier.Apply(Batch{Ops: []Op{{Op: "teleport"}}}); err == nil {
		t.Fatal("expected error for unknown op")
	}
	if err := applier.Apply(Batch{Ops: []Op{{Op: OpText, Ref: "nope"}}}); err == nil {
		t.Fatal("expected error for unknown ref")
	}
}

func TestPageOpDetectsMeetingOncePerURL(t *testing.T) {
	doc := page.NewDocument()
	publisher := newPublisherMock()
	applier := NewApplier(doc, publisher)

	url := "https://meet.google.com/abc-defg-hij"
	if err := applier.Apply(Batch{Ops: []Op{{Op: OpPage, URL: url}}}); err != nil {
		t.Fatalf("page op failed: %v", err)
	}

	detected, ok := publisher.next(t).(protocol.MeetingDetected)
	if !ok || detected.Platform != caption.PlatformMeet || detected.URL != url {
		t.Fatalf("unexpected notification %#v", detected)
	}

	// Re-announcing the same URL is not a new meeting.
	if err := applier.Apply(Batch{Ops: []Op{{Op: OpPage, URL: url}}}); err != nil {
		t.Fatalf("repeated page op failed: %v", err)
	}
	publisher.expectNone(t)

	// Navigation away from a meeting platform raises nothing.
	if err := applier.Apply(Batch{Ops: []Op{{Op: OpPage, URL: "https://example.com"}}}); err != nil {
		t.Fatalf("page op failed: %v", err)
	}
	publisher.expectNone(t)
}

func TestPageOpClearsMirroredTree(t *testing.T) {
	doc := page.NewDocument()
	applier := NewApplier(doc, nil)

	if err := applier.Apply(Batch{Ops: []Op{
		{Op: OpAppend, Node: &NodeSpec{Ref: "n1", Tag: "div", Text: "stale"}},
		{Op: OpPage, URL: "https://teams.microsoft.com/meeting"},
	}}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(doc.Root().Children) != 0 {
		t.Fatal("expected navigation to clear the mirrored tree")
	}
}

func TestHandlerAppliesStreamedBatches(t *testing.T) {
	doc := page.NewDocument()
	publisher := newPublisherMock()

	srv := httptest.NewServer(Handler(doc, publisher))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial feed ws failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	batch := Batch{TabID: 1, Ops: []Op{
		{Op: OpPage, URL: "https://meet.google.com/abc-defg-hij"},
		{Op: OpAppend, Node: &NodeSpec{Ref: "n1", Tag: "div", ID: "captions"}},
	}}
	data, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("marshal batch failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write batch failed: %v", err)
	}

	if _, ok := publisher.next(t).(protocol.MeetingDetected); !ok {
		t.Fatal("expected meeting detection from streamed batch")
	}

	deadline := time.Now().Add(2 * time.Second)
	for doc.Root().Query("#captions") == nil {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for mirrored container")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
