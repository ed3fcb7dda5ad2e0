package flash

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/farmrobo-dev/fruploader/internal/metrics"
	"github.com/farmrobo-dev/fruploader/internal/serial"
	"github.com/farmrobo-dev/fruploader/internal/store"
)

const defaultRestoreDelay = 250 * time.Millisecond

// Recorder persists finished uploads. *store.Store implements it.
type Recorder interface {
	AddFlash(store.FlashRecord) error
}

// Request describes one upload.
type Request struct {
	ID       string // optional; generated when empty
	Firmware string
	Device   string
	// Session is the monitor to pause. When nil, whichever session holds
	// Device in the registry is used.
	Session *serial.Session
}

// Coordinator runs uploads. It pauses the monitor session bound to the
// target port, runs the flashing tool and then restores monitoring, whatever
// the outcome. Uploads to the same device run one at a time.
type Coordinator struct {
	reg          *serial.Registry
	tool         Tool
	runner       Runner
	log          *zap.Logger
	timeout      time.Duration
	lister       serial.Lister
	recorder     Recorder
	restoreDelay time.Duration

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithRegistry(r *serial.Registry) Option {
	return func(c *Coordinator) { c.reg = r }
}

func WithRunner(r Runner) Option {
	return func(c *Coordinator) { c.runner = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithTimeout bounds the tool's run time. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithPortCheck makes uploads fail with TargetNotFound when the device is
// not enumerated by list.
func WithPortCheck(list serial.Lister) Option {
	return func(c *Coordinator) { c.lister = list }
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

func WithRestoreDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.restoreDelay = d }
}

func NewCoordinator(tool Tool, opts ...Option) *Coordinator {
	c := &Coordinator{
		reg:          serial.DefaultRegistry(),
		tool:         tool,
		runner:       ExecRunner{},
		log:          zap.NewNop(),
		restoreDelay: defaultRestoreDelay,
		locks:        make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tool returns the configured flashing tool.
func (c *Coordinator) Tool() Tool { return c.tool }

// Upload flashes req.Firmware onto req.Device and blocks until done.
//
// Precondition failures (ErrFirmwareNotFound, ErrToolNotFound,
// serial.ErrNoDeviceSelected) return a nil Task and have no side effects.
// Otherwise the returned Task carries the outcome and err is its reason:
// a *FlashError for a non-zero exit, ErrTargetNotFound, or a launch error.
// A monitor that could not be reopened is reported in Task.RestoreErr only.
func (c *Coordinator) Upload(ctx context.Context, req Request) (*Task, error) {
	toolPath, err := c.check(req)
	if err != nil {
		return nil, err
	}

	unlock, err := c.lockDevice(ctx, req.Device)
	if err != nil {
		return nil, err
	}
	defer unlock()

	task := newTask(req, toolPath, c.tool.Command(req.Firmware, req.Device))
	log := c.log.With(zap.String("task", task.ID), zap.String("device", req.Device))
	log.Info("upload started", zap.String("firmware", req.Firmware), zap.Strings("args", task.Args))

	if c.lister != nil {
		ports, err := c.lister()
		if err != nil {
			log.Warn("list ports", zap.Error(err))
		} else if !serial.Present(ports, req.Device) {
			task.targetMissing(fmt.Errorf("%w: %s", ErrTargetNotFound, req.Device))
			c.finish(task, log)
			return task, task.Err()
		}
	}

	c.run(ctx, task, c.sessionFor(req), log)
	c.finish(task, log)
	return task, task.Err()
}

func (c *Coordinator) check(req Request) (string, error) {
	if req.Firmware == "" {
		return "", fmt.Errorf("%w: no file selected", ErrFirmwareNotFound)
	}
	if info, err := os.Stat(req.Firmware); err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrFirmwareNotFound, req.Firmware)
	}
	toolPath, err := c.tool.Locate()
	if err != nil {
		return "", err
	}
	if req.Device == "" {
		return "", serial.ErrNoDeviceSelected
	}
	return toolPath, nil
}

// sessionFor picks the session to pause: the requested one when it is
// running or paused on the device, otherwise whoever holds the device.
func (c *Coordinator) sessionFor(req Request) *serial.Session {
	if s := req.Session; s != nil && s.Device() == req.Device && (s.Active() || s.Suspended()) {
		return s
	}
	return c.reg.Owner(req.Device)
}

// run is the suspend / flash / restore sequence. A running session hands
// its claim straight to the upload so the device is never free in between.
// Deferred calls run in reverse order: the reservation is released before
// the session resumes.
func (c *Coordinator) run(ctx context.Context, task *Task, sess *serial.Session, log *zap.Logger) {
	owner := "upload " + task.ID
	var (
		hold      *serial.Handle
		suspended bool
	)
	if sess != nil {
		hold, suspended = sess.SuspendFor(owner)
	}
	defer func() {
		if suspended {
			task.RestoreErr = c.restore(sess, log)
		}
	}()

	if hold == nil {
		var err error
		if hold, err = c.reg.Reserve(task.Device, owner); err != nil {
			task.fail(err)
			return
		}
	}
	defer hold.Release()

	// A flash write must not be interrupted, so only the timeout can stop it.
	runCtx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, c.timeout)
		defer cancel()
	}

	res := c.runner.Run(runCtx, task.Tool, task.Args...)
	task.apply(res)

	switch {
	case errors.Is(res.Err, context.DeadlineExceeded):
		task.fail(fmt.Errorf("flash tool timed out after %s", c.timeout))
	case res.Err != nil:
		task.fail(fmt.Errorf("launch %s: %w", task.Tool, res.Err))
	case res.ExitCode != 0:
		task.fail(&FlashError{ExitCode: res.ExitCode, Stderr: res.Stderr})
	default:
		task.succeed()
	}
}

// restore reopens sess, retrying once. A session that still cannot be
// reopened is stopped so it is not left half suspended.
func (c *Coordinator) restore(sess *serial.Session, log *zap.Logger) error {
	err := sess.Resume()
	if err == nil {
		return nil
	}
	log.Warn("resume monitor failed, retrying", zap.Error(err))

	time.Sleep(c.restoreDelay)
	if err = sess.Resume(); err == nil {
		return nil
	}

	sess.Stop()
	metrics.RestoreFailures.Inc()
	rerr := &RestoreError{Device: sess.Device(), Err: err}
	log.Warn("monitor not restored after upload", zap.Error(rerr))
	return rerr
}

func (c *Coordinator) finish(task *Task, log *zap.Logger) {
	outcome := task.Outcome()
	metrics.UploadsTotal.WithLabelValues(string(outcome)).Inc()
	if task.Duration > 0 {
		metrics.UploadDuration.Observe(task.Duration.Seconds())
	}

	if outcome == Succeeded {
		log.Info("upload succeeded", zap.Duration("duration", task.Duration))
	} else {
		log.Error("upload failed",
			zap.String("outcome", string(outcome)),
			zap.Int("exit_code", task.ExitCode),
			zap.Error(task.Reason),
		)
	}

	if c.recorder != nil {
		if err := c.recorder.AddFlash(task.Record()); err != nil {
			log.Warn("record flash", zap.Error(err))
		}
	}
}

// lockDevice serializes uploads per device. Waiting honours ctx.
func (c *Coordinator) lockDevice(ctx context.Context, device string) (func(), error) {
	c.mu.Lock()
	sem, ok := c.locks[device]
	if !ok {
		sem = make(chan struct{}, 1)
		c.locks[device] = sem
	}
	c.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
