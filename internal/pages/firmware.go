package pages

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/farmrobo-dev/fruploader/internal/app"
	"github.com/farmrobo-dev/fruploader/internal/config"
	"github.com/farmrobo-dev/fruploader/internal/release"
	"github.com/farmrobo-dev/fruploader/internal/serial"
	"github.com/farmrobo-dev/fruploader/internal/ui"
)

// Installer downloads the latest release. *release.Installer implements it.
type Installer interface {
	Install(ctx context.Context) (release.Release, error)
}

type firmwareState int

const (
	firmwareIdle firmwareState = iota
	firmwareChecking
	firmwareDownloading
	firmwareUploading
)

const maxActivityLines = 200

type variantField struct {
	label   string
	options []string
}

var variantFields = []variantField{
	{"Temperature", release.TempOptions},
	{"Tools", release.ToolOptions},
	{"Actuator", release.ActuatorOptions},
}

type updateCheckedMsg struct {
	update release.Update
}

type downloadDoneMsg struct {
	rel release.Release
	err error
}

type firmwareChangedMsg struct{}

// FirmwarePage selects, updates and uploads the prebuilt release images.
type FirmwarePage struct {
	cfg       *config.Config
	root      string
	uploader  Uploader
	versions  release.VersionSource
	installer Installer
	monitor   *serial.Session

	choice  [3]int
	cursor  int
	state   firmwareState
	spinner spinner.Model

	local    string
	changes  <-chan string
	update   *release.Update
	port     string
	uploadID string
	activity []string
	message  string

	width, height int
}

func NewFirmwarePage(cfg *config.Config, root string, u Uploader, versions release.VersionSource, inst Installer, monitor *serial.Session) *FirmwarePage {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	p := &FirmwarePage{
		cfg:       cfg,
		root:      root,
		uploader:  u,
		versions:  versions,
		installer: inst,
		monitor:   monitor,
		spinner:   sp,
		port:      cfg.SerialPort,
	}
	p.choice[0] = max(0, slices.Index(release.TempOptions, cfg.Variant.Temp))
	p.choice[1] = max(0, slices.Index(release.ToolOptions, cfg.Variant.Tools))
	p.choice[2] = max(0, slices.Index(release.ActuatorOptions, cfg.Variant.Actuator))
	p.local = release.ReadMarker(p.markerPath())
	return p
}

func (p *FirmwarePage) Init() tea.Cmd {
	return tea.Batch(p.watchFirmwareDir(), p.check())
}

func (p *FirmwarePage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.PortSelectedMsg:
		p.port = msg.Port
		return p, nil

	case firmwareChangedMsg:
		p.local = release.ReadMarker(p.markerPath())
		return p, waitForChange(p.changes)

	case updateCheckedMsg:
		if p.state != firmwareChecking {
			return p, nil
		}
		p.state = firmwareIdle
		u := msg.update
		p.update = &u
		switch {
		case u.Offline:
			p.log("No internet connection. Cannot check for updates.")
		case u.Err != nil:
			p.log(fmt.Sprintf("Update check failed: %v", u.Err))
		case u.Available:
			p.log(fmt.Sprintf("New firmware available: %s.", u.Remote))
		default:
			p.log("Firmware is up to date.")
		}
		return p, nil

	case downloadDoneMsg:
		if p.state != firmwareDownloading {
			return p, nil
		}
		p.state = firmwareIdle
		switch {
		case errors.Is(msg.err, release.ErrNetworkUnavailable):
			p.log("No internet connection. Cannot download firmware.")
		case msg.err != nil:
			p.log(fmt.Sprintf("Download failed: %v", msg.err))
		default:
			p.local = release.ReadMarker(p.markerPath())
			p.update = nil
			p.log(fmt.Sprintf("Downloaded %s (%d files).", msg.rel.Tag, len(msg.rel.Assets)))
			if p.changes == nil {
				return p, p.watchFirmwareDir()
			}
		}
		return p, nil

	case uploadDoneMsg:
		if p.state != firmwareUploading || msg.id != p.uploadID {
			return p, nil
		}
		p.state = firmwareIdle
		line, _ := describeUpload(msg)
		p.log(line)
		return p, nil

	case spinner.TickMsg:
		if p.state == firmwareIdle {
			return p, nil
		}
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd

	case tea.KeyMsg:
		return p.handleKey(msg)
	}
	return p, nil
}

func (p *FirmwarePage) handleKey(msg tea.KeyMsg) (app.Page, tea.Cmd) {
	switch msg.String() {
	case "up":
		if p.cursor > 0 {
			p.cursor--
		}
	case "down":
		if p.cursor < len(variantFields)-1 {
			p.cursor++
		}
	case "enter", " ":
		n := len(variantFields[p.cursor].options)
		p.choice[p.cursor] = (p.choice[p.cursor] + 1) % n
	case "c":
		return p, p.check()
	case "d":
		return p, p.download()
	case "u":
		return p, p.upload()
	case "r":
		p.local = release.ReadMarker(p.markerPath())
		p.message = "Local data refreshed"
	}
	return p, nil
}

func (p *FirmwarePage) variant() release.Variant {
	return release.Variant{
		Temp:     release.TempOptions[p.choice[0]],
		Tools:    release.ToolOptions[p.choice[1]],
		Actuator: release.ActuatorOptions[p.choice[2]],
	}
}

func (p *FirmwarePage) markerPath() string {
	return config.Resolve(p.root, p.cfg.VersionFile)
}

func (p *FirmwarePage) busy() tea.Cmd {
	return p.spinner.Tick
}

func (p *FirmwarePage) check() tea.Cmd {
	if p.state != firmwareIdle || p.versions == nil {
		return nil
	}
	p.state = firmwareChecking
	local := p.local
	src := p.versions
	return tea.Batch(p.busy(), func() tea.Msg {
		return updateCheckedMsg{update: release.CheckUpdate(context.Background(), src, local)}
	})
}

func (p *FirmwarePage) download() tea.Cmd {
	if p.state != firmwareIdle || p.installer == nil {
		return nil
	}
	p.state = firmwareDownloading
	p.log("Downloading latest release...")
	inst := p.installer
	return tea.Batch(p.busy(), func() tea.Msg {
		rel, err := inst.Install(context.Background())
		return downloadDoneMsg{rel: rel, err: err}
	})
}

func (p *FirmwarePage) upload() tea.Cmd {
	if p.state != firmwareIdle || p.uploader == nil {
		return nil
	}
	v := p.variant()
	p.cfg.Variant = config.VariantConfig{Temp: v.Temp, Tools: v.Tools, Actuator: v.Actuator}
	config.Save(*p.cfg, p.root, false)

	firmware := v.Path(config.Resolve(p.root, p.cfg.FirmwareDir))
	p.state = firmwareUploading
	p.log(fmt.Sprintf("Selected firmware: %s", v.FileName()))

	var cmd tea.Cmd
	p.uploadID, cmd = startUpload(p.uploader, firmware, p.port, p.monitor)
	return tea.Batch(p.busy(), cmd)
}

func (p *FirmwarePage) log(line string) {
	stamp := time.Now().Format("15:04:05")
	p.activity = append(p.activity, stamp+"  "+line)
	if len(p.activity) > maxActivityLines {
		p.activity = p.activity[len(p.activity)-maxActivityLines:]
	}
}

// watchFirmwareDir reports changes in the firmware directory so the local
// version follows downloads made by another process. A watch that cannot
// be set up is retried after the next successful download.
func (p *FirmwarePage) watchFirmwareDir() tea.Cmd {
	if p.changes == nil {
		dir := config.Resolve(p.root, p.cfg.FirmwareDir)
		changes, err := release.Watch(context.Background(), dir, nil)
		if err != nil {
			p.log(fmt.Sprintf("Not watching %s: %v", dir, err))
			return nil
		}
		p.changes = changes
	}
	return waitForChange(p.changes)
}

func waitForChange(changes <-chan string) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return firmwareChangedMsg{}
	}
}

func (p *FirmwarePage) View() string {
	var info strings.Builder
	info.WriteString(fmt.Sprintf("Installed   %s\n", p.local))
	latest := ui.DimStyle.Render("unknown")
	if p.update != nil {
		switch {
		case p.update.Offline:
			latest = ui.DimStyle.Render("offline")
		case p.update.Available:
			latest = p.update.Remote + " " + ui.SuccessBadge("update")
		default:
			latest = p.update.Remote
		}
	}
	info.WriteString(fmt.Sprintf("Latest      %s\n", latest))
	port := p.port
	if port == "" {
		port = ui.DimStyle.Render("(none)")
	}
	info.WriteString(fmt.Sprintf("Port        %s\n", port))

	var sel strings.Builder
	for i, f := range variantFields {
		cursor := "  "
		if i == p.cursor {
			cursor = ui.BoldStyle.Render("> ")
		}
		var opts []string
		for j, o := range f.options {
			if j == p.choice[i] {
				opts = append(opts, ui.AccentStyle.Render("["+o+"]"))
			} else {
				opts = append(opts, ui.DimStyle.Render(" "+o+" "))
			}
		}
		sel.WriteString(fmt.Sprintf("%s%-12s %s\n", cursor, f.label, strings.Join(opts, " ")))
	}
	sel.WriteString("\n  " + ui.BoldStyle.Render(p.variant().FileName()))

	status := ""
	switch p.state {
	case firmwareChecking:
		status = p.spinner.View() + " Checking for updates..."
	case firmwareDownloading:
		status = p.spinner.View() + " Downloading..."
	case firmwareUploading:
		status = p.spinner.View() + " Uploading..."
	default:
		status = p.message
	}

	logHeight := p.height - 16
	if logHeight < 3 {
		logHeight = 3
	}
	lines := p.activity
	if len(lines) > logHeight {
		lines = lines[len(lines)-logHeight:]
	}

	return strings.Join([]string{
		ui.Panel("Release", info.String(), p.width, 0, false),
		ui.Panel("Variant", sel.String(), p.width, 0, true),
		status,
		ui.Panel("Activity", strings.Join(lines, "\n"), p.width, logHeight+2, false),
	}, "\n")
}

func (p *FirmwarePage) Name() string { return "Firmware" }

func (p *FirmwarePage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "field")),
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "cycle")),
		key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "check")),
		key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "download")),
		key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "upload")),
		key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	}
}

func (p *FirmwarePage) SetSize(w, h int) {
	p.width = w
	p.height = h
}
