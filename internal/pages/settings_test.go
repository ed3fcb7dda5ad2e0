package pages

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/farmrobo-dev/fruploader/internal/app"
	"github.com/farmrobo-dev/fruploader/internal/config"
)

func isolateHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func cursorTo(t *testing.T, p *SettingsPage, key string) {
	t.Helper()
	for i, f := range settingFields {
		if f.key == key {
			p.cursor = i
			return
		}
	}
	t.Fatalf("no setting %q", key)
}

func edit(p *SettingsPage, val string) {
	p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	p.input.SetValue(val)
	p.Update(tea.KeyMsg{Type: tea.KeyEnter})
}

func TestSettingsArrowKeyNavigation(t *testing.T) {
	cfg := config.Defaults()
	p := NewSettingsPage(&cfg, t.TempDir())

	p.Update(tea.KeyMsg{Type: tea.KeyDown})
	if p.cursor != 1 {
		t.Fatalf("expected cursor=1 after down, got %d", p.cursor)
	}

	for i := 0; i < len(settingFields)+3; i++ {
		p.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	if p.cursor != len(settingFields)-1 {
		t.Fatalf("expected cursor to clamp at %d, got %d", len(settingFields)-1, p.cursor)
	}

	p.cursor = 0
	p.Update(tea.KeyMsg{Type: tea.KeyUp})
	if p.cursor != 0 {
		t.Fatalf("expected cursor to clamp at 0, got %d", p.cursor)
	}
}

func TestSettingsEditModeCapturesInput(t *testing.T) {
	cfg := config.Defaults()
	p := NewSettingsPage(&cfg, t.TempDir())

	p.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !p.InputCaptured() {
		t.Fatal("expected input captured while editing")
	}
	p.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if p.InputCaptured() {
		t.Fatal("expected editing=false after Esc")
	}
}

func TestSettingsApplyValues(t *testing.T) {
	cfg := config.Defaults()
	p := NewSettingsPage(&cfg, t.TempDir())

	cursorTo(t, p, "serial_baud_rate")
	edit(p, "9600")
	if cfg.SerialBaudRate != 9600 {
		t.Fatalf("expected SerialBaudRate=9600, got %d", cfg.SerialBaudRate)
	}

	cursorTo(t, p, "flash.args")
	edit(p, "-I {firmware}  --port={port}")
	if got := strings.Join(cfg.Flash.Args, "|"); got != "-I|{firmware}|--port={port}" {
		t.Fatalf("flash args = %q", got)
	}

	cursorTo(t, p, "flash.timeout")
	edit(p, "45s")
	if cfg.Flash.Timeout != 45*time.Second {
		t.Fatalf("flash timeout = %s", cfg.Flash.Timeout)
	}
	if !strings.Contains(p.message, "restart") {
		t.Fatalf("expected restart hint, got %q", p.message)
	}

	cursorTo(t, p, "flash.check_port")
	edit(p, "true")
	if !cfg.Flash.CheckPort {
		t.Fatal("check_port not applied")
	}
}

func TestSettingsRejectsInvalidValues(t *testing.T) {
	cfg := config.Defaults()
	want := cfg
	p := NewSettingsPage(&cfg, t.TempDir())

	for _, tt := range []struct{ key, val string }{
		{"serial_baud_rate", "not-a-number"},
		{"serial_baud_rate", "-5"},
		{"flash.timeout", "soon"},
		{"flash.check_port", "maybe"},
	} {
		cursorTo(t, p, tt.key)
		edit(p, tt.val)
		if !strings.HasPrefix(p.message, "Invalid") {
			t.Fatalf("%s=%q: message %q", tt.key, tt.val, p.message)
		}
		if p.editing {
			t.Fatal("expected editing=false after enter")
		}
	}
	if cfg.SerialBaudRate != want.SerialBaudRate || cfg.Flash.Timeout != want.Flash.Timeout || cfg.Flash.CheckPort {
		t.Fatalf("config changed by invalid input: %+v", cfg)
	}
}

func TestSettingsFollowsPortSelection(t *testing.T) {
	cfg := config.Defaults()
	p := NewSettingsPage(&cfg, t.TempDir())

	p.Update(app.PortSelectedMsg{Port: "/dev/ttyACM0"})
	if cfg.SerialPort != "/dev/ttyACM0" {
		t.Fatalf("serial port = %q", cfg.SerialPort)
	}
}

func TestSettingsSave(t *testing.T) {
	isolateHome(t)
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.Repo = "farmrobo/R1-firmware"
	p := NewSettingsPage(&cfg, root)

	p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	if p.message != "Settings saved" {
		t.Fatalf("unexpected message %q", p.message)
	}

	path := filepath.Join(root, config.DirName, "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file at %s: %v", path, err)
	}
	if loaded := config.Load(root); loaded.Repo != "farmrobo/R1-firmware" {
		t.Fatalf("expected repo to persist, got %q", loaded.Repo)
	}
}
