package extract

import "github.com/sjawhar/caption-relay/internal/caption"

// Buffer accumulates caption events between flushes, preserving extraction
// order. It is owned by the extractor loop and is not safe for concurrent
// use.
type Buffer struct {
	events []caption.Event
}

// NewBuffer creates an empty caption buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends one event to the buffer.
func (b *Buffer) Add(ev caption.Event) {
	b.events = append(b.events, ev)
}

// Flush returns all buffered events and resets the buffer.
// Returns nil if the buffer is empty.
func (b *Buffer) Flush() []caption.Event {
	if len(b.events) == 0 {
		return nil
	}
	out := b.events
	b.events = nil
	return out
}

// Len returns the number of events currently buffered.
func (b *Buffer) Len() int {
	return len(b.events)
}
