package flash

import (
	"context"

	"github.com/google/uuid"
)

// Job is an upload running on its own goroutine.
type Job struct {
	ID      string
	Request Request

	cancel context.CancelFunc
	done   chan struct{}
	task   *Task
	err    error
}

// Submit starts req in the background and returns immediately.
func (c *Coordinator) Submit(ctx context.Context, req Request) *Job {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{
		ID:      req.ID,
		Request: req,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(j.done)
		defer cancel()
		j.task, j.err = c.Upload(ctx, req)
	}()
	return j
}

// Done is closed when the upload has finished, restore step included.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the upload finishes and returns its result.
func (j *Job) Wait() (*Task, error) {
	<-j.done
	return j.task, j.err
}

// Finished reports whether Done is closed.
func (j *Job) Finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Cancel abandons a job that is still waiting for its device. A flash that
// has already started runs to completion.
func (j *Job) Cancel() {
	j.cancel()
}
