package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/farmrobo-dev/fruploader/internal/serial"
	"github.com/farmrobo-dev/fruploader/internal/ui"
)

// PortChosenMsg is sent when the operator picks a port from the overlay.
type PortChosenMsg struct {
	Port string
}

// PickerClosedMsg is sent when the overlay is dismissed without a choice.
type PickerClosedMsg struct{}

const maxPickerRows = 12

// PortPicker is the port selection overlay. It lists USB adapters first and
// narrows the list as the operator types a device name, VID:PID or product.
type PortPicker struct {
	current string
	busy    func(device string) bool

	scanning bool
	scanErr  error
	ports    []serial.PortInfo
	shown    []serial.PortInfo

	query  textinput.Model
	cursor int
	width  int
	height int
}

// NewPortPicker opens the overlay in the scanning state. current is the
// configured port; busy reports ports held by a monitor or an upload and
// may be nil.
func NewPortPicker(current string, busy func(string) bool) *PortPicker {
	q := textinput.New()
	q.Placeholder = "name, vid:pid or product"
	q.Prompt = "/ "
	q.CharLimit = 64
	q.Focus()
	return &PortPicker{current: current, busy: busy, query: q, scanning: true}
}

// SetPorts ends the scan. The cursor starts on the configured port when it
// is still attached.
func (p *PortPicker) SetPorts(ports []serial.PortInfo, err error) {
	p.scanning = false
	p.scanErr = err
	p.ports = append([]serial.PortInfo(nil), ports...)
	sort.SliceStable(p.ports, func(i, j int) bool {
		if p.ports[i].IsUSB != p.ports[j].IsUSB {
			return p.ports[i].IsUSB
		}
		return p.ports[i].Name < p.ports[j].Name
	})
	p.refilter()
	for i, port := range p.shown {
		if port.Name == p.current {
			p.cursor = i
		}
	}
}

func (p *PortPicker) SetSize(w, h int) {
	p.width = w
	p.height = h
}

func (p *PortPicker) Update(msg tea.Msg) (*PortPicker, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			return p, func() tea.Msg { return PickerClosedMsg{} }
		case "enter":
			if p.cursor >= len(p.shown) {
				return p, nil
			}
			port := p.shown[p.cursor].Name
			return p, func() tea.Msg { return PortChosenMsg{Port: port} }
		case "up", "ctrl+p":
			p.cursor = max(0, p.cursor-1)
			return p, nil
		case "down", "ctrl+n":
			p.cursor = min(max(0, len(p.shown)-1), p.cursor+1)
			return p, nil
		}
	}

	var cmd tea.Cmd
	p.query, cmd = p.query.Update(msg)
	p.refilter()
	return p, cmd
}

func (p *PortPicker) View() string {
	width := min(64, max(36, p.width-4))
	inner := width - 4
	p.query.Width = inner - 3

	var b strings.Builder
	b.WriteString(p.query.View())
	b.WriteString("\n\n")

	switch {
	case p.scanning:
		b.WriteString(ui.DimStyle.Render("  Scanning serial ports..."))
		b.WriteString("\n")
	case p.scanErr != nil:
		b.WriteString(ui.WarnStyle.Render(truncateCells("  Scan failed: "+p.scanErr.Error(), inner)))
		b.WriteString("\n")
	case len(p.ports) == 0:
		b.WriteString(ui.DimStyle.Render("  No serial ports found. Is the board plugged in?"))
		b.WriteString("\n")
	case len(p.shown) == 0:
		b.WriteString(ui.DimStyle.Render("  No port matches " + fmt.Sprintf("%q", p.query.Value())))
		b.WriteString("\n")
	}

	first, last := p.window()
	chosen := lipgloss.NewStyle().Foreground(ui.Primary).Bold(true)
	for i := first; i < last; i++ {
		row := truncateCells(p.describe(p.shown[i]), inner-2)
		if i == p.cursor {
			b.WriteString(chosen.Render("▸ " + row))
		} else {
			b.WriteString("  " + row)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(ui.DimStyle.Render(fmt.Sprintf("%d of %d ports  enter:use  esc:cancel", len(p.shown), len(p.ports))))

	return ui.Panel(ui.BoldStyle.Render("Select Port"), b.String(), width, 0, true)
}

// describe renders one row: device, USB identity and markers for the
// configured port and ports that are in use.
func (p *PortPicker) describe(port serial.PortInfo) string {
	parts := []string{port.Name}
	if port.VID != "" {
		parts = append(parts, port.VID+":"+port.PID)
	}
	if port.Product != "" {
		parts = append(parts, port.Product)
	}
	if port.Name == p.current {
		parts = append(parts, "(current)")
	}
	if p.busy != nil && p.busy(port.Name) {
		parts = append(parts, "(in use)")
	}
	return strings.Join(parts, "  ")
}

// window returns the visible slice of shown, keeping the cursor in view.
func (p *PortPicker) window() (int, int) {
	rows := min(maxPickerRows, len(p.shown))
	first := max(0, p.cursor-rows+1)
	return first, min(len(p.shown), first+rows)
}

func (p *PortPicker) refilter() {
	terms := strings.Fields(strings.ToLower(p.query.Value()))
	p.shown = p.shown[:0]
	for _, port := range p.ports {
		if matchesPort(port, terms) {
			p.shown = append(p.shown, port)
		}
	}
	p.cursor = min(p.cursor, max(0, len(p.shown)-1))
}

// matchesPort reports whether every term occurs in the port's name, VID:PID,
// serial number or product.
func matchesPort(port serial.PortInfo, terms []string) bool {
	hay := strings.ToLower(strings.Join([]string{port.Name, port.VID + ":" + port.PID, port.SerialNumber, port.Product}, " "))
	for _, t := range terms {
		if !strings.Contains(hay, t) {
			return false
		}
	}
	return true
}

func truncateCells(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
