package flash

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bugst "go.bug.st/serial"

	"github.com/farmrobo-dev/fruploader/internal/serial"
)

// fakeRunner records invocations and delegates to hook when set.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	hook  func(ctx context.Context, name string, args []string) Result
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) Result {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		return hook(ctx, name, args)
	}
	return Result{Stdout: "copied", Duration: 5 * time.Millisecond}
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type idlePort struct {
	mu     sync.Mutex
	closed bool
}

func (p *idlePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("closed")
	}
	return 0, nil
}

func (p *idlePort) Write(b []byte) (int, error) { return len(b), nil }

func (p *idlePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *idlePort) SetReadTimeout(time.Duration) error { return nil }

// portSet opens idle fake ports and can be told to refuse the next opens.
type portSet struct {
	mu      sync.Mutex
	refuse  int
	opens   int
	openNow map[string]int
	maxOpen int
}

func newPortSet() *portSet {
	return &portSet{openNow: make(map[string]int)}
}

func (s *portSet) open(device string, mode *bugst.Mode) (serial.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse != 0 {
		if s.refuse > 0 {
			s.refuse--
		}
		return nil, errors.New("device disappeared")
	}
	s.opens++
	s.openNow[device]++
	if s.openNow[device] > s.maxOpen {
		s.maxOpen = s.openNow[device]
	}
	return &closingPort{idlePort: &idlePort{}, release: func() {
		s.mu.Lock()
		s.openNow[device]--
		s.mu.Unlock()
	}}, nil
}

// refuseOpens makes the next n opens fail; -1 refuses forever.
func (s *portSet) refuseOpens(n int) {
	s.mu.Lock()
	s.refuse = n
	s.mu.Unlock()
}

func (s *portSet) peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxOpen
}

func (s *portSet) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

type closingPort struct {
	*idlePort
	once    sync.Once
	release func()
}

func (p *closingPort) Close() error {
	p.once.Do(p.release)
	return p.idlePort.Close()
}

type fixture struct {
	reg      *serial.Registry
	ports    *portSet
	runner   *fakeRunner
	firmware string
	tool     Tool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	firmware := filepath.Join(dir, "R1-IT-CAN-BTS.bin")
	if err := os.WriteFile(firmware, []byte{0x7f, 0x45}, 0o644); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(dir, "massStorageCopy.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	ports := newPortSet()
	return &fixture{
		reg:      serial.NewRegistry(ports.open),
		ports:    ports,
		runner:   &fakeRunner{},
		firmware: firmware,
		tool: Tool{
			Path:   script,
			Target: "NODE_F446ZE",
			Args:   []string{"-I", "{firmware}", "-O", "{target}"},
		},
	}
}

func (f *fixture) coordinator(opts ...Option) *Coordinator {
	base := []Option{
		WithRegistry(f.reg),
		WithRunner(f.runner),
		WithRestoreDelay(time.Millisecond),
	}
	return NewCoordinator(f.tool, append(base, opts...)...)
}

func (f *fixture) session(t *testing.T, name, device string, baud int) *serial.Session {
	t.Helper()
	s := serial.NewSession(name, serial.WithRegistry(f.reg), serial.WithPollInterval(time.Millisecond))
	if err := s.Start(device, baud); err != nil {
		t.Fatalf("start %s: %v", device, err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}
