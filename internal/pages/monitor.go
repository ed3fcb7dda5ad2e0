package pages

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wrap"

	"github.com/farmrobo-dev/fruploader/internal/app"
	"github.com/farmrobo-dev/fruploader/internal/config"
	"github.com/farmrobo-dev/fruploader/internal/serial"
	"github.com/farmrobo-dev/fruploader/internal/store"
	"github.com/farmrobo-dev/fruploader/internal/ui"
)

const (
	monitorSinkSize = 256
	maxMonitorBytes = 256 << 10
)

type monitorEventMsg struct {
	ev serial.Event
}

type monitorStartedMsg struct {
	port string
	baud int
	err  error
}

type monitorStoppedMsg struct{}

// SerialLogRecorder records capture files. *store.Store implements it.
type SerialLogRecorder interface {
	LogsDir() (string, error)
	AddSerialLog(store.SerialLog) error
}

// capture is an open log file fed by a WriterSink.
type capture struct {
	file   *os.File
	sink   *serial.WriterSink
	remove func()
}

// MonitorPage shows the shared serial session. The session keeps running
// while other pages are active and is paused by uploads to its port.
type MonitorPage struct {
	cfg      *config.Config
	root     string
	session  *serial.Session
	recorder SerialLogRecorder

	events   *serial.ChanSink
	output   strings.Builder
	viewport viewport.Model
	input    textinput.Model
	sending  bool
	capture  *capture

	port    string
	baud    int
	message string

	width, height int
}

func NewMonitorPage(cfg *config.Config, root string, session *serial.Session, recorder SerialLogRecorder) *MonitorPage {
	ti := textinput.New()
	ti.Placeholder = "text to send"
	ti.CharLimit = 512

	events := serial.NewChanSink(monitorSinkSize)
	session.AddSink(events)

	return &MonitorPage{
		cfg:      cfg,
		root:     root,
		session:  session,
		recorder: recorder,
		events:   events,
		viewport: viewport.New(0, 0),
		input:    ti,
		port:     cfg.SerialPort,
		baud:     cfg.SerialBaudRate,
	}
}

func (p *MonitorPage) Init() tea.Cmd {
	return waitForEvent(p.events)
}

func waitForEvent(events *serial.ChanSink) tea.Cmd {
	return func() tea.Msg {
		return monitorEventMsg{ev: <-events.Events()}
	}
}

func (p *MonitorPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.PortSelectedMsg:
		p.port = msg.Port
		return p, nil

	case monitorEventMsg:
		p.appendEvent(msg.ev)
		return p, waitForEvent(p.events)

	case monitorStartedMsg:
		switch {
		case errors.Is(msg.err, serial.ErrNoDeviceSelected):
			p.message = "Select a port first (p from the sidebar)"
		case msg.err != nil:
			p.message = fmt.Sprintf("Failed to start: %v", msg.err)
		default:
			p.message = fmt.Sprintf("Monitoring %s @ %d", msg.port, msg.baud)
		}
		return p, nil

	case monitorStoppedMsg:
		p.message = "Stopped"
		return p, nil

	case tea.KeyMsg:
		if p.sending {
			return p.handleInputKey(msg)
		}
		return p.handleKey(msg)
	}
	return p, nil
}

func (p *MonitorPage) handleInputKey(msg tea.KeyMsg) (app.Page, tea.Cmd) {
	switch msg.String() {
	case "enter":
		text := p.input.Value()
		p.input.SetValue("")
		if err := p.session.Send(text); err != nil {
			p.message = fmt.Sprintf("Send failed: %v", err)
		}
		return p, nil
	case "esc":
		p.sending = false
		p.input.Blur()
		return p, nil
	}
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p *MonitorPage) handleKey(msg tea.KeyMsg) (app.Page, tea.Cmd) {
	d := p.session.Display()
	switch msg.String() {
	case "enter":
		if p.session.Active() || p.session.Suspended() {
			return p, p.stop()
		}
		return p, p.start(p.port, p.baud)
	case "h":
		if d.View == serial.Text {
			d.View = serial.Hex
		} else {
			d.View = serial.Text
		}
		p.session.Reconfigure(d)
		p.message = "View: " + d.View.String()
	case "t":
		d.Timestamp = !d.Timestamp
		p.session.Reconfigure(d)
		p.message = fmt.Sprintf("Timestamp: %s", onOff(d.Timestamp))
	case "l":
		d.LineEnding = serial.LineEndings[(int(d.LineEnding)+1)%len(serial.LineEndings)]
		p.session.Reconfigure(d)
		p.message = "Line ending: " + d.LineEnding.String()
	case "a":
		d.Autoscroll = !d.Autoscroll
		p.session.Reconfigure(d)
		p.message = fmt.Sprintf("Autoscroll: %s", onOff(d.Autoscroll))
		if d.Autoscroll {
			p.viewport.GotoBottom()
		}
	case "b":
		p.baud = serial.NextBaudRate(p.baud)
		p.cfg.SerialBaudRate = p.baud
		config.Save(*p.cfg, p.root, false)
		p.message = fmt.Sprintf("Baud rate: %d", p.baud)
		if p.session.Active() {
			return p, p.start(p.session.Device(), p.baud)
		}
	case "i":
		p.sending = true
		return p, p.input.Focus()
	case "w":
		p.toggleCapture()
	case "c":
		p.output.Reset()
		p.viewport.SetContent("")
		p.viewport.GotoTop()
	default:
		var cmd tea.Cmd
		p.viewport, cmd = p.viewport.Update(msg)
		return p, cmd
	}
	return p, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (p *MonitorPage) start(port string, baud int) tea.Cmd {
	s := p.session
	return func() tea.Msg {
		return monitorStartedMsg{port: port, baud: baud, err: s.Start(port, baud)}
	}
}

func (p *MonitorPage) stop() tea.Cmd {
	s := p.session
	return func() tea.Msg {
		s.Stop()
		return monitorStoppedMsg{}
	}
}

func (p *MonitorPage) toggleCapture() {
	if p.capture != nil {
		p.capture.remove()
		err := p.capture.sink.Err()
		if cerr := p.capture.file.Close(); err == nil {
			err = cerr
		}
		name := filepath.Base(p.capture.file.Name())
		p.capture = nil
		if err != nil {
			p.message = fmt.Sprintf("Capture %s ended with error: %v", name, err)
			return
		}
		p.message = "Capture saved to " + name
		return
	}

	if p.recorder == nil {
		p.message = "Capture unavailable"
		return
	}
	dir, err := p.recorder.LogsDir()
	if err != nil {
		p.message = fmt.Sprintf("Capture failed: %v", err)
		return
	}
	now := time.Now()
	name := fmt.Sprintf("serial_%s_%s.log", sanitizePort(p.port), now.Format("20060102_150405"))
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		p.message = fmt.Sprintf("Capture failed: %v", err)
		return
	}
	sink := serial.NewWriterSink(f)
	p.capture = &capture{file: f, sink: sink, remove: p.session.AddSink(sink)}
	p.recorder.AddSerialLog(store.SerialLog{
		Port:      p.port,
		BaudRate:  p.baud,
		Timestamp: now,
		LogFile:   f.Name(),
	})
	p.message = "Capturing to " + name
}

// sanitizePort turns a device path into something usable in a file name.
func sanitizePort(port string) string {
	if port == "" {
		return "none"
	}
	port = filepath.Base(port)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, port)
}

func (p *MonitorPage) appendEvent(ev serial.Event) {
	switch ev.Kind {
	case serial.DataEvent:
		p.output.WriteString(ev.Text)
	case serial.StatusEvent:
		p.writeLine(ui.DimStyle.Render("-- " + ev.Text + " --"))
	case serial.ErrorEvent:
		p.writeLine(lipgloss.NewStyle().Foreground(ui.Error).Render("!! " + ev.Text))
	}
	p.trimOutput()
	p.updateViewportContent()
	if p.session.Display().Autoscroll {
		p.viewport.GotoBottom()
	}
}

// writeLine puts a lifecycle line on its own row.
func (p *MonitorPage) writeLine(line string) {
	if s := p.output.String(); s != "" && !strings.HasSuffix(s, "\n") {
		p.output.WriteString("\n")
	}
	p.output.WriteString(line + "\n")
}

// trimOutput drops whole lines from the front once the buffer is too large.
func (p *MonitorPage) trimOutput() {
	if p.output.Len() <= maxMonitorBytes {
		return
	}
	s := p.output.String()
	cut := len(s) - maxMonitorBytes
	if i := strings.IndexByte(s[cut:], '\n'); i >= 0 {
		cut += i + 1
	}
	p.output.Reset()
	p.output.WriteString(s[cut:])
}

func (p *MonitorPage) updateViewportContent() {
	if p.viewport.Width <= 0 {
		p.viewport.SetContent(p.output.String())
		return
	}
	wrapped := wrap.String(p.output.String(), p.viewport.Width)
	lines := strings.Split(wrapped, "\n")
	for i, line := range lines {
		if ansi.PrintableRuneWidth(line) > p.viewport.Width {
			lines[i] = truncate.String(line, uint(p.viewport.Width))
		}
	}
	p.viewport.SetContent(strings.Join(lines, "\n"))
}

func (p *MonitorPage) View() string {
	d := p.session.Display()

	state := ui.DimStyle.Render("stopped")
	switch {
	case p.session.Suspended():
		state = ui.WarnStyle.Render("paused")
	case p.session.Active():
		state = ui.SuccessBadge("LIVE")
	}
	port := p.port
	if port == "" {
		port = ui.DimStyle.Render("(no port)")
	}
	header := fmt.Sprintf("%s @ %d  %s  view:%s  ts:%s  eol:%s  scroll:%s",
		port, p.baud, state, d.View, onOff(d.Timestamp), d.LineEnding, onOff(d.Autoscroll))
	if p.capture != nil {
		header += "  " + ui.ErrorBadge("REC")
	}

	footer := p.message
	if p.sending {
		footer = "> " + p.input.View()
	}

	outHeight := max(3, p.height-6)
	outWidth := max(10, p.width-3)
	if p.viewport.Width != outWidth || p.viewport.Height != outHeight {
		p.viewport.Width = outWidth
		p.viewport.Height = outHeight
		p.updateViewportContent()
	}

	body := p.viewport.View()
	if p.output.Len() == 0 {
		body = ui.DimStyle.Render("Serial output will appear here...")
	}
	box := lipgloss.NewStyle().
		Width(p.width).
		Height(outHeight).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderTop(true).
		BorderForeground(ui.Surface).
		PaddingLeft(1).
		Render(body)

	return strings.Join([]string{header, box, footer}, "\n")
}

func (p *MonitorPage) Name() string { return "Monitor" }

func (p *MonitorPage) ShortHelp() []key.Binding {
	if p.sending {
		return []key.Binding{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
			key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "done")),
		}
	}
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "start/stop")),
		key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "hex")),
		key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "timestamp")),
		key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "line ending")),
		key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "autoscroll")),
		key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "baud")),
		key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "send")),
		key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "capture")),
		key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
	}
}

func (p *MonitorPage) InputCaptured() bool {
	return p.sending
}

func (p *MonitorPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
