package serial

import (
	"io"
	"sort"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the part of go.bug.st/serial.Port a session needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a serial device. Tests replace it with a fake.
type Opener func(device string, mode *serial.Mode) (Port, error)

// pollReadTimeout makes Read return immediately with n == 0 when nothing
// is buffered, so each poll tick never blocks.
const pollReadTimeout = 0

func openOS(device string, mode *serial.Mode) (Port, error) {
	return serial.Open(device, mode)
}

// Registry is the process-wide table of claimed serial devices. At most one
// Handle exists per device; acquire and release share a single lock.
type Registry struct {
	mu      sync.Mutex
	open    Opener
	handles map[string]*Handle
}

var defaultRegistry = NewRegistry(nil)

// DefaultRegistry returns the registry shared by the whole process.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewRegistry creates a registry that opens ports with open, or with
// go.bug.st/serial when open is nil.
func NewRegistry(open Opener) *Registry {
	if open == nil {
		open = openOS
	}
	return &Registry{
		open:    open,
		handles: make(map[string]*Handle),
	}
}

// Handle is an exclusive claim on one device. A handle created by Reserve
// has no OS port behind it; it only keeps everyone else out.
type Handle struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
	Owner       string

	port    Port
	session *Session
	reg     *Registry
	closed  bool
}

func (r *Registry) acquire(device string, baud int, s *Session) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[device]; ok {
		return nil, &PortError{Kind: PortBusy, Device: device, Owner: h.Owner}
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := r.open(device, mode)
	if err != nil {
		return nil, &PortError{Kind: PortUnavailable, Device: device, Err: err}
	}
	if err := port.SetReadTimeout(pollReadTimeout); err != nil {
		port.Close()
		return nil, &PortError{Kind: PortUnavailable, Device: device, Err: err}
	}

	h := &Handle{
		Device:      device,
		BaudRate:    baud,
		ReadTimeout: pollReadTimeout,
		Owner:       s.Name(),
		port:        port,
		session:     s,
		reg:         r,
	}
	r.handles[device] = h
	return h, nil
}

// Reserve claims device for owner without opening it, so an external tool
// can use the port while no session is able to grab it.
func (r *Registry) Reserve(device, owner string) (*Handle, error) {
	if device == "" {
		return nil, ErrNoDeviceSelected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[device]; ok {
		return nil, &PortError{Kind: PortBusy, Device: device, Owner: h.Owner}
	}
	h := &Handle{Device: device, Owner: owner, reg: r}
	r.handles[device] = h
	return h, nil
}

// Release closes the OS port (if any) and removes the claim. The claim is
// dropped even when close fails. Releasing twice is a no-op.
func (h *Handle) Release() error {
	r := h.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if r.handles[h.Device] == h {
		delete(r.handles, h.Device)
	}
	if h.port != nil {
		return h.port.Close()
	}
	return nil
}

// handOver closes h's OS port and replaces its claim with a reservation
// for owner under one lock, so no other session can open the device in
// between. The reservation is returned even when closing the port fails.
func (h *Handle) handOver(owner string) (*Handle, error) {
	r := h.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.closed {
		return nil, ErrNotActive
	}
	h.closed = true
	hold := &Handle{Device: h.Device, Owner: owner, reg: r}
	r.handles[h.Device] = hold
	if h.port != nil {
		return hold, h.port.Close()
	}
	return hold, nil
}

// Open reports whether the handle still holds its claim.
func (h *Handle) Open() bool {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	return !h.closed
}

// Owner returns the session holding device open, or nil when the device is
// free or only reserved.
func (r *Registry) Owner(device string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[device]; ok {
		return h.session
	}
	return nil
}

// Busy reports whether device is claimed.
func (r *Registry) Busy(device string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[device]
	return ok
}

// Devices lists claimed devices in sorted order.
func (r *Registry) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	devices := make([]string, 0, len(r.handles))
	for d := range r.handles {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	return devices
}
