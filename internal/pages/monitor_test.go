package pages

import (
	"os"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/farmrobo-dev/fruploader/internal/app"
	"github.com/farmrobo-dev/fruploader/internal/config"
	"github.com/farmrobo-dev/fruploader/internal/serial"
	"github.com/farmrobo-dev/fruploader/internal/store"
)

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func newMonitorFixture(t *testing.T) (*MonitorPage, *serial.Session, func() *loopPort) {
	t.Helper()
	isolateHome(t)
	cfg := config.Defaults()
	cfg.SerialPort = "COM7"
	s, _, port := newTestSession(t)
	p := NewMonitorPage(&cfg, t.TempDir(), s, store.New(t.TempDir()))
	p.SetSize(80, 24)
	return p, s, port
}

// pump applies session events to the page until its output contains want.
func pump(t *testing.T, p *MonitorPage, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !strings.Contains(p.output.String(), want) {
		select {
		case ev := <-p.events.Events():
			p.Update(monitorEventMsg{ev: ev})
		case <-deadline:
			t.Fatalf("output never contained %q, got %q", want, p.output.String())
		}
	}
}

func startMonitor(t *testing.T, p *MonitorPage) {
	t.Helper()
	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected start command")
	}
	p.Update(cmd())
}

func TestMonitorStartReceiveStop(t *testing.T) {
	p, s, port := newMonitorFixture(t)

	startMonitor(t, p)
	if !s.Active() {
		t.Fatalf("session not active, message %q", p.message)
	}
	if p.message != "Monitoring COM7 @ 115200" {
		t.Fatalf("unexpected message %q", p.message)
	}

	port().feed("boot ok\n")
	pump(t, p, "boot ok\n")

	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	p.Update(cmd())
	if s.Active() {
		t.Fatal("expected session stopped")
	}
	pump(t, p, "Monitoring stopped")
}

func TestMonitorStartWithoutPort(t *testing.T) {
	p, s, _ := newMonitorFixture(t)
	p.Update(app.PortSelectedMsg{Port: ""})

	startMonitor(t, p)
	if s.Active() {
		t.Fatal("session should not start without a port")
	}
	if !strings.Contains(p.message, "Select a port") {
		t.Fatalf("unexpected message %q", p.message)
	}
}

func TestMonitorDisplayToggles(t *testing.T) {
	p, s, _ := newMonitorFixture(t)

	p.Update(keyRune('h'))
	if s.Display().View != serial.Hex {
		t.Fatal("expected hex view")
	}
	p.Update(keyRune('h'))
	if s.Display().View != serial.Text {
		t.Fatal("expected text view")
	}

	p.Update(keyRune('t'))
	if !s.Display().Timestamp {
		t.Fatal("expected timestamps on")
	}

	p.Update(keyRune('a'))
	if s.Display().Autoscroll {
		t.Fatal("expected autoscroll off")
	}

	want := []serial.LineEnding{serial.LF, serial.CR, serial.CRLF, serial.NoLineEnding}
	for _, le := range want {
		p.Update(keyRune('l'))
		if got := s.Display().LineEnding; got != le {
			t.Fatalf("line ending = %s, want %s", got, le)
		}
	}
}

func TestMonitorHexViewRendersBytes(t *testing.T) {
	p, _, port := newMonitorFixture(t)
	p.Update(keyRune('h'))
	startMonitor(t, p)

	port().feed("AB")
	pump(t, p, "41 42")
}

func TestMonitorSendUsesLineEnding(t *testing.T) {
	p, _, port := newMonitorFixture(t)
	startMonitor(t, p)
	p.Update(keyRune('l')) // LF

	p.Update(keyRune('i'))
	if !p.InputCaptured() {
		t.Fatal("expected input captured")
	}
	for _, r := range "status" {
		p.Update(keyRune(r))
	}
	p.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if got := port().sent(); got != "status\n" {
		t.Fatalf("sent %q", got)
	}
	if p.input.Value() != "" {
		t.Fatal("input not cleared after send")
	}

	p.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if p.InputCaptured() {
		t.Fatal("expected input released after esc")
	}
}

func TestMonitorSendWhileStopped(t *testing.T) {
	p, _, _ := newMonitorFixture(t)
	p.Update(keyRune('i'))
	p.Update(keyRune('x'))
	p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !strings.Contains(p.message, "Send failed") {
		t.Fatalf("unexpected message %q", p.message)
	}
}

func TestMonitorBaudCycleRestartsSession(t *testing.T) {
	p, s, _ := newMonitorFixture(t)
	startMonitor(t, p)

	_, cmd := p.Update(keyRune('b'))
	if p.baud == 115200 {
		t.Fatal("baud did not change")
	}
	if p.cfg.SerialBaudRate != p.baud {
		t.Fatal("baud not stored in config")
	}
	if cmd == nil {
		t.Fatal("expected restart command while active")
	}
	p.Update(cmd())
	if s.BaudRate() != p.baud || !s.Active() {
		t.Fatalf("session baud = %d active = %v", s.BaudRate(), s.Active())
	}
}

func TestMonitorCaptureWritesLogFile(t *testing.T) {
	isolateHome(t)
	cfg := config.Defaults()
	cfg.SerialPort = "/dev/ttyACM0"
	s, _, port := newTestSession(t)
	st := store.New(t.TempDir())
	p := NewMonitorPage(&cfg, t.TempDir(), s, st)

	p.Update(keyRune('w'))
	if p.capture == nil {
		t.Fatalf("capture not started: %q", p.message)
	}
	path := p.capture.file.Name()
	if !strings.Contains(path, "serial_ttyACM0_") {
		t.Fatalf("unexpected capture name %s", path)
	}

	startMonitor(t, p)
	port().feed("temp=21\n")
	pump(t, p, "temp=21\n")

	p.Update(keyRune('w'))
	if p.capture != nil {
		t.Fatal("capture still open")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "temp=21\n" {
		t.Fatalf("capture contains %q", data)
	}

	logs, err := st.SerialLogs()
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].LogFile != path || logs[0].Port != "/dev/ttyACM0" {
		t.Fatalf("unexpected serial logs %+v", logs)
	}
}

func TestMonitorClearAndTrim(t *testing.T) {
	p, _, _ := newMonitorFixture(t)

	line := strings.Repeat("x", 1023) + "\n"
	for i := 0; i < maxMonitorBytes/len(line)+10; i++ {
		p.appendEvent(serial.Event{Kind: serial.DataEvent, Text: line})
	}
	if p.output.Len() > maxMonitorBytes {
		t.Fatalf("output not trimmed: %d bytes", p.output.Len())
	}
	if !strings.HasPrefix(p.output.String(), "x") {
		t.Fatal("trim should cut at a line boundary")
	}

	p.Update(keyRune('c'))
	if p.output.Len() != 0 {
		t.Fatal("expected output cleared")
	}
}

func TestMonitorStatusEventsOnOwnLine(t *testing.T) {
	p, _, _ := newMonitorFixture(t)

	p.appendEvent(serial.Event{Kind: serial.DataEvent, Text: "partial"})
	p.appendEvent(serial.Event{Kind: serial.StatusEvent, Text: "Monitoring paused"})

	out := p.output.String()
	if !strings.HasPrefix(out, "partial\n") || !strings.Contains(out, "Monitoring paused") {
		t.Fatalf("unexpected output %q", out)
	}
}
