package serial

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	bugst "go.bug.st/serial"
)

var errFakeClosed = errors.New("fake port closed")

type fakePort struct {
	mu      sync.Mutex
	chunks  [][]byte
	readErr error
	closed  bool
	timeout time.Duration
	written bytes.Buffer
	onClose func()
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errFakeClosed
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.chunks) == 0 {
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errFakeClosed
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed && p.onClose != nil {
		p.onClose()
	}
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
	return nil
}

func (p *fakePort) push(b ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, b)
}

func (p *fakePort) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePort) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// fakeOpener records opens per device and the highest number of ports
// that were open for one device at the same time.
type fakeOpener struct {
	mu      sync.Mutex
	openNow map[string]int
	maxOpen map[string]int
	opens   int
	last    map[string]*fakePort
	fail    map[string]error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		openNow: make(map[string]int),
		maxOpen: make(map[string]int),
		last:    make(map[string]*fakePort),
		fail:    make(map[string]error),
	}
}

func (o *fakeOpener) Open(device string, mode *bugst.Mode) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.fail[device]; err != nil {
		return nil, err
	}
	o.opens++
	o.openNow[device]++
	if o.openNow[device] > o.maxOpen[device] {
		o.maxOpen[device] = o.openNow[device]
	}
	p := &fakePort{}
	p.onClose = func() {
		o.mu.Lock()
		o.openNow[device]--
		o.mu.Unlock()
	}
	o.last[device] = p
	return p, nil
}

func (o *fakeOpener) port(device string) *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last[device]
}

func (o *fakeOpener) openCount(device string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.openNow[device]
}

func (o *fakeOpener) totalOpens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func newTestSession(t *testing.T, name string, reg *Registry, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithRegistry(reg), WithPollInterval(time.Millisecond)}, opts...)
	s := NewSession(name, opts...)
	t.Cleanup(func() { s.Stop() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nextEvent(t *testing.T, sink *ChanSink, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-sink.Events():
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}
