package flash

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/farmrobo-dev/fruploader/internal/store"
)

// Outcome is the state of an upload task.
type Outcome string

const (
	Pending        Outcome = "pending"
	Succeeded      Outcome = "succeeded"
	Failed         Outcome = "failed"
	TargetNotFound Outcome = "target_not_found"
)

const (
	eventSucceed       = "succeed"
	eventFail          = "fail"
	eventTargetMissing = "target_missing"
)

// Task is one flash operation. It starts Pending and moves exactly once to
// Succeeded, Failed or TargetNotFound.
type Task struct {
	ID       string
	Firmware string
	Device   string
	Tool     string
	Args     []string
	Started  time.Time

	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration

	// Reason explains Failed and TargetNotFound.
	Reason error
	// RestoreErr is a *RestoreError when the monitor could not be reopened.
	// It never changes the outcome.
	RestoreErr error

	fsm *fsm.FSM
}

func newTask(req Request, tool string, args []string) *Task {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	t := &Task{
		ID:       id,
		Firmware: req.Firmware,
		Device:   req.Device,
		Tool:     tool,
		Args:     args,
		Started:  time.Now(),
	}

	setReason := func(_ context.Context, e *fsm.Event) {
		if len(e.Args) > 0 {
			if err, ok := e.Args[0].(error); ok {
				t.Reason = err
			}
		}
	}

	t.fsm = fsm.NewFSM(
		string(Pending),
		fsm.Events{
			{Name: eventSucceed, Src: []string{string(Pending)}, Dst: string(Succeeded)},
			{Name: eventFail, Src: []string{string(Pending)}, Dst: string(Failed)},
			{Name: eventTargetMissing, Src: []string{string(Pending)}, Dst: string(TargetNotFound)},
		},
		fsm.Callbacks{
			"enter_" + string(Failed):         setReason,
			"enter_" + string(TargetNotFound): setReason,
		},
	)
	return t
}

// Outcome returns the current state.
func (t *Task) Outcome() Outcome {
	return Outcome(t.fsm.Current())
}

// Err returns the reason for a failed task, or nil.
func (t *Task) Err() error {
	switch t.Outcome() {
	case Failed, TargetNotFound:
		return t.Reason
	}
	return nil
}

// Task transitions are not cancellable, so they run on a background context.

func (t *Task) succeed() {
	t.fsm.Event(context.Background(), eventSucceed)
}

func (t *Task) fail(err error) {
	t.fsm.Event(context.Background(), eventFail, err)
}

func (t *Task) targetMissing(err error) {
	t.fsm.Event(context.Background(), eventTargetMissing, err)
}

func (t *Task) apply(res Result) {
	t.ExitCode = res.ExitCode
	t.Stdout = res.Stdout
	t.Stderr = res.Stderr
	t.Duration = res.Duration
}

// Record converts the task into a history entry.
func (t *Task) Record() store.FlashRecord {
	r := store.FlashRecord{
		ID:        t.ID,
		Firmware:  t.Firmware,
		Port:      t.Device,
		Timestamp: t.Started,
		Outcome:   string(t.Outcome()),
		Success:   t.Outcome() == Succeeded,
		ExitCode:  t.ExitCode,
		Duration:  t.Duration.Round(time.Millisecond).String(),
	}
	if err := t.Err(); err != nil {
		r.Error = err.Error()
	}
	if t.RestoreErr != nil {
		r.Restore = t.RestoreErr.Error()
	}
	return r
}
