package pages

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/farmrobo-dev/fruploader/internal/flash"
	"github.com/farmrobo-dev/fruploader/internal/serial"
)

// Uploader runs one upload to completion. *flash.Coordinator implements it.
type Uploader interface {
	Upload(ctx context.Context, req flash.Request) (*flash.Task, error)
}

// uploadDoneMsg is broadcast when an upload started by a page finishes.
// Pages match it against the id they started.
type uploadDoneMsg struct {
	id   string
	task *flash.Task
	err  error
}

// startUpload returns the request id and the command that runs it. The
// monitor session bound to the port, if any, is paused for the duration.
func startUpload(u Uploader, firmware, port string, monitor *serial.Session) (string, tea.Cmd) {
	id := uuid.NewString()
	req := flash.Request{ID: id, Firmware: firmware, Device: port, Session: monitor}
	return id, func() tea.Msg {
		task, err := u.Upload(context.Background(), req)
		return uploadDoneMsg{id: id, task: task, err: err}
	}
}

// describeUpload renders the outcome of an upload as one status line.
func describeUpload(msg uploadDoneMsg) (string, bool) {
	if msg.task == nil {
		switch {
		case errors.Is(msg.err, flash.ErrFirmwareNotFound):
			return fmt.Sprintf("Firmware not found: %v", msg.err), false
		case errors.Is(msg.err, flash.ErrToolNotFound):
			return fmt.Sprintf("Flash tool missing: %v", msg.err), false
		case errors.Is(msg.err, serial.ErrNoDeviceSelected):
			return "Select a port first (p from the sidebar)", false
		}
		return fmt.Sprintf("Upload not started: %v", msg.err), false
	}

	var line string
	ok := msg.task.Outcome() == flash.Succeeded
	switch msg.task.Outcome() {
	case flash.Succeeded:
		line = fmt.Sprintf("Firmware uploaded in %s", msg.task.Duration.Round(time.Millisecond))
	case flash.TargetNotFound:
		line = fmt.Sprintf("Target not found: %s", msg.task.Device)
	default:
		line = fmt.Sprintf("Upload failed: %v", msg.err)
	}
	if msg.task.RestoreErr != nil {
		line += fmt.Sprintf(" (warning: %v)", msg.task.RestoreErr)
	}
	return line, ok
}
