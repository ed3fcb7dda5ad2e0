package flash

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFirmwareNotFound = errors.New("firmware file not found")
	ErrToolNotFound     = errors.New("flash tool not found")
	ErrTargetNotFound   = errors.New("target device not found")
)

// FlashError is returned when the flashing tool exits non-zero.
type FlashError struct {
	ExitCode int
	Stderr   string
}

func (e *FlashError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("flash tool exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("flash tool exited with code %d: %s", e.ExitCode, msg)
}

// RestoreError reports a monitor session that could not be reopened after
// an upload. It is attached to the Task and never returned as the upload's
// error.
type RestoreError struct {
	Device string
	Err    error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("monitor on %s not restored: %v", e.Device, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }
