package pages

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bugst "go.bug.st/serial"

	"github.com/farmrobo-dev/fruploader/internal/flash"
	"github.com/farmrobo-dev/fruploader/internal/release"
	"github.com/farmrobo-dev/fruploader/internal/serial"
)

// loopPort hands back whatever the test feeds it and records writes.
type loopPort struct {
	mu      sync.Mutex
	in      bytes.Buffer
	written bytes.Buffer
	closed  bool
}

func (p *loopPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("closed")
	}
	if p.in.Len() == 0 {
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *loopPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *loopPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *loopPort) SetReadTimeout(time.Duration) error { return nil }

func (p *loopPort) feed(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.WriteString(s)
}

func (p *loopPort) sent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// newTestSession returns a session whose ports are loopPorts, its registry
// and a function returning the port last opened.
func newTestSession(t *testing.T) (*serial.Session, *serial.Registry, func() *loopPort) {
	t.Helper()
	var (
		mu   sync.Mutex
		last *loopPort
	)
	reg := serial.NewRegistry(func(device string, mode *bugst.Mode) (serial.Port, error) {
		mu.Lock()
		defer mu.Unlock()
		last = &loopPort{}
		return last, nil
	})
	s := serial.NewSession("monitor", serial.WithRegistry(reg), serial.WithPollInterval(time.Millisecond))
	t.Cleanup(func() { s.Stop() })
	return s, reg, func() *loopPort {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

// fakeUploader records requests and returns a canned outcome.
type fakeUploader struct {
	mu       sync.Mutex
	requests []flash.Request
	task     *flash.Task
	err      error
}

func (u *fakeUploader) Upload(ctx context.Context, req flash.Request) (*flash.Task, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, req)
	return u.task, u.err
}

type fakeVersions struct {
	version string
	err     error
}

func (v fakeVersions) LatestVersion(ctx context.Context) (string, error) {
	return v.version, v.err
}

type fakeInstaller struct {
	rel   release.Release
	err   error
	calls int
}

func (i *fakeInstaller) Install(ctx context.Context) (release.Release, error) {
	i.calls++
	return i.rel, i.err
}

type okRunner struct{}

func (okRunner) Run(ctx context.Context, name string, args ...string) flash.Result {
	return flash.Result{Stdout: "copied", Duration: 20 * time.Millisecond}
}

// newCoordinator returns a coordinator whose tool always succeeds. It shares
// the registry of the session, if one is given.
func newCoordinator(t *testing.T, reg *serial.Registry) *flash.Coordinator {
	t.Helper()
	script := filepath.Join(t.TempDir(), "massStorageCopy.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	opts := []flash.Option{flash.WithRunner(okRunner{}), flash.WithRestoreDelay(time.Millisecond)}
	if reg != nil {
		opts = append(opts, flash.WithRegistry(reg))
	}
	return flash.NewCoordinator(flash.Tool{Path: script, Target: "NODE_F446ZE", Args: []string{"-I", "{firmware}", "-O", "{target}"}}, opts...)
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F'}, 0o644); err != nil {
		t.Fatal(err)
	}
}
