package serial

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDeviceSelected is returned when an operation needs a port and
	// none was chosen.
	ErrNoDeviceSelected = errors.New("no serial device selected")

	// ErrPortBusy and ErrPortUnavailable match *PortError values of the
	// corresponding kind with errors.Is.
	ErrPortBusy        = errors.New("port busy")
	ErrPortUnavailable = errors.New("port unavailable")

	ErrNotActive = errors.New("monitor is not running")
)

// PortErrorKind classifies why a port could not be acquired.
type PortErrorKind int

const (
	PortBusy PortErrorKind = iota + 1
	PortUnavailable
)

// PortError reports a failed acquisition of a serial device.
type PortError struct {
	Kind   PortErrorKind
	Device string
	Owner  string // current holder, for PortBusy
	Err    error  // cause from the OS, for PortUnavailable
}

func (e *PortError) Error() string {
	if e.Kind == PortBusy {
		if e.Owner != "" {
			return fmt.Sprintf("%s is busy (held by %s)", e.Device, e.Owner)
		}
		return fmt.Sprintf("%s is busy", e.Device)
	}
	return fmt.Sprintf("cannot open %s: %v", e.Device, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

func (e *PortError) Is(target error) bool {
	switch target {
	case ErrPortBusy:
		return e.Kind == PortBusy
	case ErrPortUnavailable:
		return e.Kind == PortUnavailable
	}
	return false
}
