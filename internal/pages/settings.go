package pages

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/farmrobo-dev/fruploader/internal/app"
	"github.com/farmrobo-dev/fruploader/internal/config"
	"github.com/farmrobo-dev/fruploader/internal/ui"
)

type settingField struct {
	label string
	key   string
}

var settingFields = []settingField{
	{"Serial Port", "serial_port"},
	{"Serial Baud Rate", "serial_baud_rate"},
	{"Firmware Directory", "firmware_dir"},
	{"Custom Directory", "custom_dir"},
	{"Release Repo", "repo"},
	{"Flash Tool", "flash.tool"},
	{"Flash Target", "flash.target"},
	{"Flash Arguments", "flash.args"},
	{"Flash Timeout", "flash.timeout"},
	{"Check Port", "flash.check_port"},
	{"Log Level", "log.level"},
}

type SettingsPage struct {
	cfg           *config.Config
	root          string
	cursor        int
	editing       bool
	input         textinput.Model
	width, height int
	message       string
}

func NewSettingsPage(cfg *config.Config, root string) *SettingsPage {
	ti := textinput.New()
	ti.CharLimit = 256
	return &SettingsPage{
		cfg:   cfg,
		root:  root,
		input: ti,
	}
}

func (p *SettingsPage) Init() tea.Cmd { return nil }

func (p *SettingsPage) Update(msg tea.Msg) (app.Page, tea.Cmd) {
	switch msg := msg.(type) {
	case app.PortSelectedMsg:
		p.cfg.SerialPort = msg.Port
		return p, nil

	case tea.KeyMsg:
		if p.editing {
			switch msg.String() {
			case "enter":
				p.applyValue(p.input.Value())
				p.editing = false
				p.input.Blur()
				return p, nil
			case "esc":
				p.editing = false
				p.input.Blur()
				return p, nil
			}
			var cmd tea.Cmd
			p.input, cmd = p.input.Update(msg)
			return p, cmd
		}

		switch msg.String() {
		case "down":
			if p.cursor < len(settingFields)-1 {
				p.cursor++
			}
		case "up":
			if p.cursor > 0 {
				p.cursor--
			}
		case "enter", "e":
			p.editing = true
			p.input.SetValue(p.getValue(p.cursor))
			return p, p.input.Focus()
		case "s":
			if err := config.Save(*p.cfg, p.root, false); err != nil {
				p.message = fmt.Sprintf("Error saving: %v", err)
			} else {
				p.message = "Settings saved"
			}
		}
	}
	return p, nil
}

func (p *SettingsPage) View() string {
	var inner strings.Builder

	for i, f := range settingFields {
		cursor := "  "
		if i == p.cursor {
			cursor = ui.BoldStyle.Render("> ")
		}

		val := p.getValue(i)
		if val == "" {
			val = ui.DimStyle.Render("(not set)")
		}

		inner.WriteString(fmt.Sprintf("%s%-20s %s\n", cursor, f.label, val))
	}

	if p.editing {
		inner.WriteString("\n")
		inner.WriteString(fmt.Sprintf("  Edit %s:\n", settingFields[p.cursor].label))
		inner.WriteString("  " + p.input.View())
		inner.WriteString("\n")
	}

	if p.message != "" {
		inner.WriteString("\n  " + p.message)
	}

	return ui.Panel("Settings", inner.String(), p.width, 0, false)
}

func (p *SettingsPage) Name() string { return "Settings" }

func (p *SettingsPage) ShortHelp() []key.Binding {
	if p.editing {
		return []key.Binding{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "apply")),
			key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		}
	}
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "edit")),
		key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save to disk")),
	}
}

func (p *SettingsPage) InputCaptured() bool {
	return p.editing
}

func (p *SettingsPage) SetSize(w, h int) {
	p.width = w
	p.height = h
}

func (p *SettingsPage) getValue(idx int) string {
	switch settingFields[idx].key {
	case "serial_port":
		return p.cfg.SerialPort
	case "serial_baud_rate":
		return strconv.Itoa(p.cfg.SerialBaudRate)
	case "firmware_dir":
		return p.cfg.FirmwareDir
	case "custom_dir":
		return p.cfg.CustomDir
	case "repo":
		return p.cfg.Repo
	case "flash.tool":
		return p.cfg.Flash.Tool
	case "flash.target":
		return p.cfg.Flash.Target
	case "flash.args":
		return strings.Join(p.cfg.Flash.Args, " ")
	case "flash.timeout":
		return p.cfg.Flash.Timeout.String()
	case "flash.check_port":
		return strconv.FormatBool(p.cfg.Flash.CheckPort)
	case "log.level":
		return p.cfg.Log.Level
	}
	return ""
}

func (p *SettingsPage) applyValue(val string) {
	f := settingFields[p.cursor]
	val = strings.TrimSpace(val)
	switch f.key {
	case "serial_port":
		p.cfg.SerialPort = val
	case "serial_baud_rate":
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			p.message = fmt.Sprintf("Invalid baud rate %q", val)
			return
		}
		p.cfg.SerialBaudRate = n
	case "firmware_dir":
		p.cfg.FirmwareDir = val
	case "custom_dir":
		p.cfg.CustomDir = val
	case "repo":
		p.cfg.Repo = val
	case "flash.tool":
		p.cfg.Flash.Tool = val
	case "flash.target":
		p.cfg.Flash.Target = val
	case "flash.args":
		p.cfg.Flash.Args = strings.Fields(val)
	case "flash.timeout":
		d, err := time.ParseDuration(val)
		if err != nil || d <= 0 {
			p.message = fmt.Sprintf("Invalid timeout %q", val)
			return
		}
		p.cfg.Flash.Timeout = d
	case "flash.check_port":
		b, err := strconv.ParseBool(val)
		if err != nil {
			p.message = fmt.Sprintf("Invalid value %q, use true or false", val)
			return
		}
		p.cfg.Flash.CheckPort = b
	case "log.level":
		p.cfg.Log.Level = val
	}
	p.message = fmt.Sprintf("%s updated", f.label)
	if strings.HasPrefix(f.key, "flash.") || f.key == "log.level" {
		p.message += " (applies after restart)"
	}
}
