//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/farmrobo-dev/fruploader/internal/flash"
	"github.com/farmrobo-dev/fruploader/internal/serial"
)

// boardPort returns the serial port of an attached R1 board from the
// environment, or skips the test if it is not set.
func boardPort(t *testing.T) string {
	t.Helper()
	port := os.Getenv("FRUP_TEST_PORT")
	if port == "" {
		t.Skip("FRUP_TEST_PORT not set; skipping integration tests")
	}
	return port
}

// TestIntegrationPortListed asserts the board shows up in the enumeration.
func TestIntegrationPortListed(t *testing.T) {
	port := boardPort(t)

	ports, err := serial.ListPorts()
	if err != nil {
		t.Fatalf("ListPorts: %v", err)
	}
	if !serial.Present(ports, port) {
		t.Fatalf("%s not in %+v", port, ports)
	}
}

// TestIntegrationMonitorStartStop opens the real port and closes it again.
func TestIntegrationMonitorStartStop(t *testing.T) {
	port := boardPort(t)

	reg := serial.NewRegistry(nil)
	sess := serial.NewSession("integration", serial.WithRegistry(reg))
	sink := serial.NewChanSink(64)
	defer sess.AddSink(sink)()

	if err := sess.Start(port, serial.DefaultBaudRate); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !reg.Busy(port) {
		t.Fatal("port should be held while monitoring")
	}
	// Give the board a moment to print something; silence is not a failure.
	select {
	case ev := <-sink.Events():
		t.Logf("first event: %s %q", ev.Kind, ev.Text)
	case <-time.After(2 * time.Second):
	}
	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if reg.Busy(port) {
		t.Fatal("port still held after Stop")
	}
}

// TestIntegrationUpload flashes FRUP_TEST_FIRMWARE with FRUP_TEST_TOOL while
// a monitor is running and checks that the monitor comes back.
func TestIntegrationUpload(t *testing.T) {
	port := boardPort(t)
	firmware := os.Getenv("FRUP_TEST_FIRMWARE")
	tool := os.Getenv("FRUP_TEST_TOOL")
	if firmware == "" || tool == "" {
		t.Skip("FRUP_TEST_FIRMWARE or FRUP_TEST_TOOL not set")
	}

	reg := serial.NewRegistry(nil)
	sess := serial.NewSession("integration", serial.WithRegistry(reg))
	if err := sess.Start(port, serial.DefaultBaudRate); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Stop()

	coord := flash.NewCoordinator(
		flash.Tool{Path: tool, Target: "NODE_F446ZE"},
		flash.WithRegistry(reg),
		flash.WithTimeout(2*time.Minute),
		flash.WithPortCheck(serial.ListPorts),
		flash.WithRestoreDelay(2*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	task, err := coord.Upload(ctx, flash.Request{Firmware: firmware, Device: port, Session: sess})
	if task != nil {
		t.Logf("tool output:\n%s%s", task.Stdout, task.Stderr)
	}
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if task.RestoreErr != nil {
		t.Fatalf("monitor not restored: %v", task.RestoreErr)
	}
	if !sess.Active() {
		t.Fatal("monitor should be active after the upload")
	}
}
