package pages

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/farmrobo-dev/fruploader/internal/app"
	"github.com/farmrobo-dev/fruploader/internal/config"
	"github.com/farmrobo-dev/fruploader/internal/release"
	"github.com/farmrobo-dev/fruploader/internal/serial"
	"github.com/farmrobo-dev/fruploader/internal/ui"
)

// CustomPage uploads a firmware file picked from disk.
type CustomPage struct {
	cfg      *config.Config
	root     string
	uploader Uploader
	monitor  *serial.Session

	picker    filepicker.Model
	spinner   spinner.Model
	selected  string
	port      string
	uploading bool
	uploadID  string
	message   string
	ok        bool

	width, height int
}

func NewCustomPage(cfg *config.Config, root string, u Uploader, monitor *serial.Session) *CustomPage {
	fp := filepicker.New()
	fp.AllowedTypes = release.AllowedExtensions
	fp.ShowPermissions = false
	fp.AutoHeight = false
	fp.CurrentDirectory = startDir(root, cfg.CustomDir)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &CustomPage{
		cfg:      cfg,
		root:     root,
		uploader: u,
		monitor:  monitor,
		picker:   fp,
		spinner:  sp,
		port:     cfg.SerialPort,
	}
}

// startDir is the configured custom directory, else the working directory.
func startDir(root, dir string) string {
	if dir != "" {
		if p := config.Resolve(root, dir); isDir(p) {
			return p
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func (p *CustomPage) Init() tea.Cmd {
	return p.picker.Init()
}

func (p *CustomPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.PortSelectedMsg:
		p.port = msg.Port
		return p, nil

	case uploadDoneMsg:
		if !p.uploading || msg.id != p.uploadID {
			return p, nil
		}
		p.uploading = false
		p.message, p.ok = describeUpload(msg)
		return p, nil

	case spinner.TickMsg:
		if !p.uploading {
			return p, nil
		}
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd

	case tea.KeyMsg:
		if msg.String() == "u" {
			return p, p.upload()
		}
	}

	var cmd tea.Cmd
	p.picker, cmd = p.picker.Update(msg)

	if ok, path := p.picker.DidSelectFile(msg); ok {
		p.selected = path
		p.message = ""
		p.cfg.CustomDir = filepath.Dir(path)
	}
	if ok, path := p.picker.DidSelectDisabledFile(msg); ok {
		p.message = fmt.Sprintf("%s is not a firmware file (%s)", filepath.Base(path), strings.Join(release.AllowedExtensions, ", "))
		p.ok = false
	}
	return p, cmd
}

func (p *CustomPage) upload() tea.Cmd {
	if p.uploading || p.uploader == nil {
		return nil
	}
	if p.selected == "" {
		p.message = "Select a firmware file first"
		p.ok = false
		return nil
	}
	config.Save(*p.cfg, p.root, false)

	p.uploading = true
	p.message = ""
	var cmd tea.Cmd
	p.uploadID, cmd = startUpload(p.uploader, p.selected, p.port, p.monitor)
	return tea.Batch(p.spinner.Tick, cmd)
}

func (p *CustomPage) View() string {
	var head strings.Builder
	sel := p.selected
	if sel == "" {
		sel = ui.DimStyle.Render("(none)")
	}
	port := p.port
	if port == "" {
		port = ui.DimStyle.Render("(none)")
	}
	head.WriteString(fmt.Sprintf("File   %s\n", sel))
	head.WriteString(fmt.Sprintf("Port   %s", port))

	status := p.message
	switch {
	case p.uploading:
		status = p.spinner.View() + " Uploading..."
	case p.message != "" && p.ok:
		status = ui.SuccessBadge("OK") + " " + p.message
	case p.message != "":
		status = ui.ErrorBadge("ERR") + " " + p.message
	}

	return strings.Join([]string{
		ui.Panel("Custom firmware", head.String(), p.width, 0, false),
		ui.DimStyle.Render(p.picker.CurrentDirectory),
		p.picker.View(),
		status,
	}, "\n")
}

func (p *CustomPage) Name() string { return "Custom" }

func (p *CustomPage) ShortHelp() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open/select")),
		key.NewBinding(key.WithKeys("h", "backspace"), key.WithHelp("h", "parent dir")),
		key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "upload")),
	}
}

func (p *CustomPage) SetSize(w, h int) {
	p.width = w
	p.height = h
	p.picker.Height = max(3, h-9)
}
