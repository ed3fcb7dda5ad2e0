package pages

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/farmrobo-dev/fruploader/internal/app"
	"github.com/farmrobo-dev/fruploader/internal/store"
	"github.com/farmrobo-dev/fruploader/internal/ui"
)

// HistorySource is the read side of the store.
type HistorySource interface {
	Flashes() ([]store.FlashRecord, error)
	Downloads() ([]store.DownloadRecord, error)
	SerialLogs() ([]store.SerialLog, error)
}

type historyTab int

const (
	tabFlashes historyTab = iota
	tabDownloads
	tabSerialLogs
)

var tabNames = []string{"Flashes", "Downloads", "Serial logs"}

const historyTimeLayout = "2006-01-02 15:04:05"

type historyLoadedMsg struct {
	flashes   []store.FlashRecord
	downloads []store.DownloadRecord
	logs      []store.SerialLog
	err       error
}

// HistoryPage lists past uploads, downloads and serial captures, newest
// first.
type HistoryPage struct {
	source    HistorySource
	activeTab historyTab
	cursor    int
	offset    int

	flashes   []store.FlashRecord
	downloads []store.DownloadRecord
	logs      []store.SerialLog
	err       error

	width, height int
}

func NewHistoryPage(source HistorySource) *HistoryPage {
	p := &HistoryPage{source: source}
	p.apply(loadHistory(source))
	return p
}

func (p *HistoryPage) Init() tea.Cmd { return p.reload() }

func (p *HistoryPage) reload() tea.Cmd {
	src := p.source
	return func() tea.Msg { return loadHistory(src) }
}

func loadHistory(src HistorySource) historyLoadedMsg {
	var msg historyLoadedMsg
	var err error
	if msg.flashes, err = src.Flashes(); err != nil {
		msg.err = err
	}
	if msg.downloads, err = src.Downloads(); err != nil {
		msg.err = err
	}
	if msg.logs, err = src.SerialLogs(); err != nil {
		msg.err = err
	}
	slices.Reverse(msg.flashes)
	slices.Reverse(msg.downloads)
	slices.Reverse(msg.logs)
	return msg
}

func (p *HistoryPage) apply(msg historyLoadedMsg) {
	p.flashes, p.downloads, p.logs, p.err = msg.flashes, msg.downloads, msg.logs, msg.err
	p.clampCursor()
}

func (p *HistoryPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case historyLoadedMsg:
		p.apply(msg)
		return p, nil

	case uploadDoneMsg, downloadDoneMsg:
		return p, p.reload()

	case tea.KeyMsg:
		switch msg.String() {
		case "right", "tab", "l":
			p.switchTab(1)
		case "left", "shift+tab", "h":
			p.switchTab(-1)
		case "down":
			p.cursor++
			p.clampCursor()
		case "up":
			p.cursor--
			p.clampCursor()
		case "r":
			return p, p.reload()
		}
	}
	return p, nil
}

func (p *HistoryPage) switchTab(delta int) {
	n := len(tabNames)
	p.activeTab = historyTab((int(p.activeTab) + delta + n) % n)
	p.cursor, p.offset = 0, 0
}

func (p *HistoryPage) rows() int {
	switch p.activeTab {
	case tabDownloads:
		return len(p.downloads)
	case tabSerialLogs:
		return len(p.logs)
	}
	return len(p.flashes)
}

func (p *HistoryPage) clampCursor() {
	if p.cursor >= p.rows() {
		p.cursor = p.rows() - 1
	}
	if p.cursor < 0 {
		p.cursor = 0
	}
}

func (p *HistoryPage) visibleRows() int {
	return max(3, p.height-8)
}

func (p *HistoryPage) View() string {
	var tabs []string
	for i, name := range tabNames {
		if historyTab(i) == p.activeTab {
			tabs = append(tabs, ui.SidebarActiveStyle.Render("["+name+"]"))
		} else {
			tabs = append(tabs, ui.DimStyle.Render(" "+name+" "))
		}
	}
	header := strings.Join(tabs, " ")

	var lines []string
	switch p.activeTab {
	case tabFlashes:
		lines = p.flashLines()
	case tabDownloads:
		lines = p.downloadLines()
	case tabSerialLogs:
		lines = p.logLines()
	}

	var body string
	if len(lines) == 0 {
		body = ui.DimStyle.Render("No records yet.")
	} else {
		n := p.visibleRows()
		if p.cursor < p.offset {
			p.offset = p.cursor
		}
		if p.cursor >= p.offset+n {
			p.offset = p.cursor - n + 1
		}
		end := min(len(lines), p.offset+n)
		var b strings.Builder
		for i := p.offset; i < end; i++ {
			cursor := "  "
			if i == p.cursor {
				cursor = ui.BoldStyle.Render("> ")
			}
			b.WriteString(cursor + lines[i] + "\n")
		}
		if detail := p.detail(); detail != "" {
			b.WriteString("\n" + detail)
		}
		body = b.String()
	}
	if p.err != nil {
		body += "\n" + ui.ErrorBadge("ERR") + " " + p.err.Error()
	}

	return header + "\n" + ui.Panel(tabNames[p.activeTab], body, p.width, 0, true)
}

func (p *HistoryPage) flashLines() []string {
	lines := make([]string, len(p.flashes))
	for i, r := range p.flashes {
		lines[i] = fmt.Sprintf("%s  %s  %-12s %-28s %s",
			r.Timestamp.Local().Format(historyTimeLayout), ui.Outcome(r.Success), r.Port, filepath.Base(r.Firmware), r.Duration)
	}
	return lines
}

func (p *HistoryPage) downloadLines() []string {
	lines := make([]string, len(p.downloads))
	for i, r := range p.downloads {
		lines[i] = fmt.Sprintf("%s  %s  %-10s %d assets",
			r.Timestamp.Local().Format(historyTimeLayout), ui.Outcome(r.Success), r.Version, len(r.Assets))
	}
	return lines
}

func (p *HistoryPage) logLines() []string {
	lines := make([]string, len(p.logs))
	for i, r := range p.logs {
		lines[i] = fmt.Sprintf("%s  %-12s %-7d %s",
			r.Timestamp.Local().Format(historyTimeLayout), r.Port, r.BaudRate, r.LogFile)
	}
	return lines
}

// detail expands the selected record where the row leaves something out.
func (p *HistoryPage) detail() string {
	switch p.activeTab {
	case tabFlashes:
		if p.cursor >= len(p.flashes) {
			return ""
		}
		r := p.flashes[p.cursor]
		var parts []string
		parts = append(parts, fmt.Sprintf("outcome: %s  exit: %d", r.Outcome, r.ExitCode))
		if r.Error != "" {
			parts = append(parts, "error: "+r.Error)
		}
		if r.Restore != "" {
			parts = append(parts, "monitor: "+r.Restore)
		}
		return ui.DimStyle.Render(strings.Join(parts, "\n"))
	case tabDownloads:
		if p.cursor >= len(p.downloads) {
			return ""
		}
		r := p.downloads[p.cursor]
		s := strings.Join(r.Assets, ", ")
		if r.Error != "" {
			s += "\nerror: " + r.Error
		}
		return ui.DimStyle.Render(s)
	}
	return ""
}

func (p *HistoryPage) Name() string { return "History" }

func (p *HistoryPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("tab", "right"), key.WithHelp("tab", "next tab")),
		key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev tab")),
		key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "select")),
		key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	}
}

func (p *HistoryPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
