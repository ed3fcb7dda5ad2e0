package serial

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/farmrobo-dev/fruploader/internal/metrics"
)

// DefaultPollInterval is the read loop cadence.
const DefaultPollInterval = 10 * time.Millisecond

const readBufferSize = 4096

// Session is one monitor panel: a device, its display settings and at most
// one open Handle. Sessions share a Registry, which keeps two sessions from
// holding the same device.
type Session struct {
	name     string
	reg      *Registry
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	device    string
	baud      int
	handle    *Handle
	stop      chan struct{}
	done      chan struct{}
	desired   bool // operator wants the session running
	suspended bool // closed by an upload, to be resumed

	viewMu  sync.Mutex
	display Display
	dec     textDecoder

	sinkMu   sync.Mutex
	sinks    []sinkEntry
	nextSink int

	rendering atomic.Bool
	buf       []byte
}

// Option configures a Session.
type Option func(*Session)

func WithRegistry(r *Registry) Option {
	return func(s *Session) { s.reg = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession creates a stopped session. name identifies it in logs and in
// PortBusy errors.
func NewSession(name string, opts ...Option) *Session {
	s := &Session{
		name:     name,
		reg:      DefaultRegistry(),
		log:      zap.NewNop(),
		interval: DefaultPollInterval,
		now:      time.Now,
		baud:     DefaultBaudRate,
		display:  DefaultDisplay(),
		buf:      make([]byte, readBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("session", name))
	return s
}

func (s *Session) Name() string { return s.name }

// Device returns the last device the session was started on.
func (s *Session) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

func (s *Session) BaudRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baud
}

// Active reports whether the session holds an open port.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Suspended reports whether an upload has paused the session.
func (s *Session) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

func (s *Session) Display() Display {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	return s.display
}

// Reconfigure replaces the display settings. The next received chunk uses
// them; the port is not touched.
func (s *Session) Reconfigure(d Display) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	if d.View != s.display.View {
		s.dec.reset()
	}
	s.display = d
}

// Start opens device and begins polling it. Starting the device the session
// already monitors is a no-op; starting another one closes the current port
// first.
func (s *Session) Start(device string, baud int) error {
	if device == "" {
		return ErrNoDeviceSelected
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		if s.device == device && s.baud == baud {
			s.desired = true
			return nil
		}
		s.closeLocked()
		s.desired = false
	}

	h, err := s.reg.acquire(device, baud, s)
	if err != nil {
		s.log.Warn("start monitor", zap.String("device", device), zap.Error(err))
		return err
	}
	s.device, s.baud = device, baud
	s.desired, s.suspended = true, false
	s.runLocked(h)
	return nil
}

// Stop closes the port. It always succeeds; close errors are logged and
// published to the sinks. Stopping a stopped session does nothing.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.desired = false
	s.suspended = false
	if s.handle == nil {
		return nil
	}
	device := s.handle.Device
	s.closeLocked()
	s.log.Info("monitor stopped", zap.String("device", device))
	s.publish(StatusEvent, "Monitoring stopped")
	return nil
}

// Suspend closes the port on behalf of an upload while remembering that the
// operator still wants it open. The port is fully released on return. It
// reports whether the session was active.
func (s *Session) Suspend() bool {
	hold, ok := s.SuspendFor("suspended " + s.name)
	if ok {
		hold.Release()
	}
	return ok
}

// SuspendFor is Suspend for an owner that needs the device next: the
// session's claim becomes a reservation for owner without the device ever
// being free. The caller releases hold before the session is resumed. ok is
// false, and hold nil, when the session was not active.
func (s *Session) SuspendFor(owner string) (hold *Handle, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return nil, false
	}
	h := s.stopLoopLocked()
	hold, err := h.handOver(owner)
	if hold == nil {
		return nil, false
	}
	if err != nil {
		s.log.Warn("close port", zap.String("device", h.Device), zap.Error(err))
		s.publish(ErrorEvent, fmt.Sprintf("Error closing %s: %v", h.Device, err))
	}
	s.suspended = true
	s.log.Info("monitor suspended", zap.String("device", s.device), zap.String("for", owner))
	s.publish(StatusEvent, fmt.Sprintf("Monitoring paused: %s is in use by an upload", s.device))
	return hold, true
}

// Resume reopens a suspended session with its previous device and baud
// rate. If the operator stopped the session in the meantime it stays
// stopped. On failure the session remains suspended so a retry can follow.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.suspended || !s.desired || s.handle != nil {
		s.suspended = false
		return nil
	}

	h, err := s.reg.acquire(s.device, s.baud, s)
	if err != nil {
		return err
	}
	s.suspended = false
	s.runLocked(h)
	return nil
}

// Send writes text followed by the configured line ending.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return ErrNotActive
	}
	le := s.Display().LineEnding
	_, err := io.WriteString(s.handle.port, text+le.Suffix())
	return err
}

// AddSink registers k and returns a function that removes it.
func (s *Session) AddSink(k Sink) (remove func()) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()

	s.nextSink++
	id := s.nextSink
	s.sinks = append(s.sinks, sinkEntry{id: id, sink: k})

	return func() {
		s.sinkMu.Lock()
		defer s.sinkMu.Unlock()
		for i, e := range s.sinks {
			if e.id == id {
				s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) runLocked(h *Handle) {
	s.handle = h
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	s.viewMu.Lock()
	s.dec.reset()
	s.viewMu.Unlock()

	metrics.SessionsActive.Inc()
	go s.readLoop(h, s.stop, s.done)

	s.log.Info("monitor started", zap.String("device", h.Device), zap.Int("baud", h.BaudRate))
	s.publish(StatusEvent, fmt.Sprintf("Monitoring %s @ %d", h.Device, h.BaudRate))
}

// closeLocked stops the read loop, waits for it to exit, then releases the
// handle. The loop never takes s.mu, so waiting here cannot deadlock.
func (s *Session) closeLocked() {
	h := s.stopLoopLocked()
	if err := h.Release(); err != nil {
		s.log.Warn("close port", zap.String("device", h.Device), zap.Error(err))
		s.publish(ErrorEvent, fmt.Sprintf("Error closing %s: %v", h.Device, err))
	}
}

// stopLoopLocked ends the read loop and detaches the handle without
// releasing it.
func (s *Session) stopLoopLocked() *Handle {
	h := s.handle
	close(s.stop)
	<-s.done
	s.handle = nil
	metrics.SessionsActive.Dec()
	return h
}

func (s *Session) readLoop(h *Handle, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.poll(h); err != nil {
				go s.fail(h, err)
				return
			}
		}
	}
}

// poll performs one non-blocking read. A tick that arrives while the
// previous chunk is still being rendered is skipped.
func (s *Session) poll(h *Handle) error {
	if !s.rendering.CompareAndSwap(false, true) {
		return nil
	}
	defer s.rendering.Store(false)

	n, err := h.port.Read(s.buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	metrics.SerialBytes.Add(float64(n))
	s.deliver(h.Device, s.buf[:n])
	return nil
}

// fail force-stops the session after a read error on h.
func (s *Session) fail(h *Handle, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != h {
		return
	}
	s.log.Error("serial read failed, monitor stopped", zap.String("device", h.Device), zap.Error(err))
	s.closeLocked()
	s.desired, s.suspended = false, false
	s.publish(ErrorEvent, fmt.Sprintf("Error reading from %s: %v", h.Device, err))
}

func (s *Session) deliver(device string, b []byte) {
	now := s.now()

	s.viewMu.Lock()
	text := s.display.render(&s.dec, b, now)
	s.viewMu.Unlock()

	if text == "" {
		return
	}
	s.emit(Event{Kind: DataEvent, Device: device, Text: text, Time: now})
}

func (s *Session) publish(kind EventKind, text string) {
	s.emit(Event{Kind: kind, Device: s.device, Text: text, Time: s.now()})
}

// emit hands e to every sink. Holding sinkMu serializes deliveries, so a
// sink shared between sessions never sees interleaved writes from one of
// them.
func (s *Session) emit(e Event) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	for _, entry := range s.sinks {
		entry.sink.Deliver(e)
	}
}
