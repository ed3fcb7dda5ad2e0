package serial

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind distinguishes received data from lifecycle messages.
type EventKind int

const (
	DataEvent EventKind = iota
	StatusEvent
	ErrorEvent
)

func (k EventKind) String() string {
	switch k {
	case StatusEvent:
		return "status"
	case ErrorEvent:
		return "error"
	}
	return "data"
}

// Event is what a session hands to its sinks.
type Event struct {
	Kind   EventKind
	Device string
	Text   string
	Time   time.Time
}

// Sink receives session events. Deliver is called from the session's read
// goroutine and must not block or call back into the session.
type Sink interface {
	Deliver(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Deliver(e Event) { f(e) }

// ChanSink forwards events to a buffered channel. Events are dropped when
// the channel is full.
type ChanSink struct {
	ch      chan Event
	dropped atomic.Int64
}

func NewChanSink(size int) *ChanSink {
	return &ChanSink{ch: make(chan Event, size)}
}

func (c *ChanSink) Deliver(e Event) {
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the receive side of the sink.
func (c *ChanSink) Events() <-chan Event {
	return c.ch
}

// Dropped returns how many events were discarded.
func (c *ChanSink) Dropped() int64 {
	return c.dropped.Load()
}

// WriterSink appends data events to w, typically a capture file. The first
// write error is kept and later events are ignored.
type WriterSink struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Deliver(e Event) {
	if e.Kind != DataEvent {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	_, s.err = io.WriteString(s.w, e.Text)
}

// Err returns the first write error.
func (s *WriterSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type sinkEntry struct {
	id   int
	sink Sink
}
