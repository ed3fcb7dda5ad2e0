package pages

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/farmrobo-dev/fruploader/internal/app"
	"github.com/farmrobo-dev/fruploader/internal/config"
	"github.com/farmrobo-dev/fruploader/internal/release"
	"github.com/farmrobo-dev/fruploader/internal/serial"
)

// run executes cmd and any batched commands, returning every message except
// spinner ticks.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	switch msg := msg.(type) {
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			out = append(out, run(c)...)
		}
		return out
	case spinner.TickMsg, nil:
		return nil
	}
	return []tea.Msg{msg}
}

// deliver runs cmd and feeds the results back into p.
func deliver(p app.Page, cmd tea.Cmd) {
	for _, msg := range run(cmd) {
		p.Update(msg)
	}
}

func lastActivity(p *FirmwarePage) string {
	if len(p.activity) == 0 {
		return ""
	}
	return p.activity[len(p.activity)-1]
}

type firmwareFixture struct {
	root string
	cfg  *config.Config
	page *FirmwarePage
	inst *fakeInstaller
}

func newFirmwareFixture(t *testing.T, up Uploader, versions release.VersionSource) *firmwareFixture {
	t.Helper()
	isolateHome(t)
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.FirmwareDir = "firmware"
	cfg.VersionFile = filepath.Join("firmware", "version.txt")
	inst := &fakeInstaller{}
	return &firmwareFixture{
		root: root,
		cfg:  &cfg,
		page: NewFirmwarePage(&cfg, root, up, versions, inst, nil),
		inst: inst,
	}
}

func TestFirmwareVariantSelection(t *testing.T) {
	f := newFirmwareFixture(t, nil, nil)
	p := f.page

	if got := p.variant().FileName(); got != "R1-IT-CAN-BTS.bin" {
		t.Fatalf("default variant = %s", got)
	}

	p.Update(tea.KeyMsg{Type: tea.KeyEnter}) // IT -> ET
	p.Update(tea.KeyMsg{Type: tea.KeyDown})
	p.Update(tea.KeyMsg{Type: tea.KeyDown})
	p.Update(tea.KeyMsg{Type: tea.KeyDown}) // clamps on actuator
	p.Update(keyRune(' '))                  // BTS -> CYT

	if got := p.variant().FileName(); got != "R1-ET-CAN-CYT.bin" {
		t.Fatalf("variant = %s", got)
	}

	p.Update(tea.KeyMsg{Type: tea.KeyEnter}) // wraps back
	if got := p.variant().Actuator; got != "BTS" {
		t.Fatalf("actuator = %s", got)
	}
}

func TestFirmwareRestoresSavedVariant(t *testing.T) {
	cfg := config.Defaults()
	cfg.Variant = config.VariantConfig{Temp: "ET", Tools: "THR", Actuator: "CYT"}
	p := NewFirmwarePage(&cfg, t.TempDir(), nil, nil, nil, nil)
	if got := p.variant().FileName(); got != "R1-ET-THR-CYT.bin" {
		t.Fatalf("variant = %s", got)
	}
}

func TestFirmwareCheckUpdate(t *testing.T) {
	tests := []struct {
		name     string
		versions fakeVersions
		want     string
	}{
		{"available", fakeVersions{version: "v2.0.0"}, "New firmware available: v2.0.0."},
		{"offline", fakeVersions{err: release.ErrNetworkUnavailable}, "No internet connection. Cannot check for updates."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFirmwareFixture(t, nil, tt.versions)
			p := f.page
			if p.local != release.NoVersion {
				t.Fatalf("local = %s", p.local)
			}

			_, cmd := p.Update(keyRune('c'))
			if p.state != firmwareChecking {
				t.Fatal("expected checking state")
			}
			deliver(p, cmd)

			if p.state != firmwareIdle {
				t.Fatal("expected idle after check")
			}
			if got := lastActivity(p); !strings.HasSuffix(got, tt.want) {
				t.Fatalf("activity = %q", got)
			}
		})
	}
}

func TestFirmwareUpToDate(t *testing.T) {
	f := newFirmwareFixture(t, nil, fakeVersions{version: "v1.4.0"})
	if err := release.WriteMarker(filepath.Join(f.root, f.cfg.VersionFile), "v1.4.0"); err != nil {
		t.Fatal(err)
	}
	f.page.Update(firmwareChangedMsg{})
	if f.page.local != "v1.4.0" {
		t.Fatalf("local = %s", f.page.local)
	}

	_, cmd := f.page.Update(keyRune('c'))
	deliver(f.page, cmd)
	if got := lastActivity(f.page); !strings.HasSuffix(got, "Firmware is up to date.") {
		t.Fatalf("activity = %q", got)
	}
	if f.page.update == nil || f.page.update.Available {
		t.Fatalf("update = %+v", f.page.update)
	}
}

func TestFirmwareDownload(t *testing.T) {
	f := newFirmwareFixture(t, nil, nil)
	f.inst.rel = release.Release{Tag: "v1.5.0", Assets: []release.Asset{{Name: "R1-IT-CAN-BTS.bin"}}}

	_, cmd := f.page.Update(keyRune('d'))
	if f.page.state != firmwareDownloading {
		t.Fatal("expected downloading state")
	}
	// A second request while busy is ignored.
	if _, again := f.page.Update(keyRune('d')); again != nil {
		t.Fatal("expected no command while downloading")
	}
	deliver(f.page, cmd)

	if f.inst.calls != 1 {
		t.Fatalf("install calls = %d", f.inst.calls)
	}
	if got := lastActivity(f.page); !strings.HasSuffix(got, "Downloaded v1.5.0 (1 files).") {
		t.Fatalf("activity = %q", got)
	}
}

func TestFirmwareWatchesMissingDir(t *testing.T) {
	f := newFirmwareFixture(t, nil, nil)
	dir := filepath.Join(f.root, "firmware")

	wait := f.page.watchFirmwareDir()
	if wait == nil || f.page.changes == nil {
		t.Fatalf("no watch on missing dir; activity = %q", lastActivity(f.page))
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("firmware dir not created: %v", err)
	}

	got := make(chan tea.Msg, 1)
	go func() { got <- wait() }()
	if err := release.WriteMarker(filepath.Join(dir, "version.txt"), "v2.0.0"); err != nil {
		t.Fatal(err)
	}
	var msg tea.Msg
	select {
	case msg = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
	if _, ok := msg.(firmwareChangedMsg); !ok {
		t.Fatalf("msg = %#v", msg)
	}

	_, next := f.page.Update(msg)
	if f.page.local != "v2.0.0" {
		t.Fatalf("local = %q", f.page.local)
	}
	if next == nil {
		t.Fatal("watch not re-armed after a change")
	}
}

func TestFirmwareDownloadStartsWatch(t *testing.T) {
	f := newFirmwareFixture(t, nil, nil)
	f.inst.rel = release.Release{Tag: "v1.5.0"}

	_, cmd := f.page.Update(keyRune('d'))
	var next tea.Cmd
	for _, msg := range run(cmd) {
		if _, c := f.page.Update(msg); c != nil {
			next = c
		}
	}
	if next == nil || f.page.changes == nil {
		t.Fatal("expected the firmware dir to be watched after a download")
	}
}

func TestFirmwareDownloadOffline(t *testing.T) {
	f := newFirmwareFixture(t, nil, nil)
	f.inst.err = release.ErrNetworkUnavailable

	_, cmd := f.page.Update(keyRune('d'))
	deliver(f.page, cmd)
	if got := lastActivity(f.page); !strings.HasSuffix(got, "No internet connection. Cannot download firmware.") {
		t.Fatalf("activity = %q", got)
	}
}

func TestFirmwareUpload(t *testing.T) {
	isolateHome(t)
	coord := newCoordinator(t, nil)
	f := newFirmwareFixture(t, coord, nil)
	writeFile(t, filepath.Join(f.root, "firmware", "R1-ET-CAN-BTS.bin"))

	f.page.Update(app.PortSelectedMsg{Port: "COM9"})
	f.page.Update(tea.KeyMsg{Type: tea.KeyEnter}) // IT -> ET

	_, cmd := f.page.Update(keyRune('u'))
	if f.page.state != firmwareUploading {
		t.Fatal("expected uploading state")
	}
	deliver(f.page, cmd)

	if got := lastActivity(f.page); !strings.Contains(got, "Firmware uploaded in") {
		t.Fatalf("activity = %q", got)
	}
	if saved := config.Load(f.root); saved.Variant.Temp != "ET" {
		t.Fatalf("variant not persisted: %+v", saved.Variant)
	}
}

func TestFirmwareUploadWithoutPort(t *testing.T) {
	coord := newCoordinator(t, nil)
	f := newFirmwareFixture(t, coord, nil)
	writeFile(t, filepath.Join(f.root, "firmware", "R1-IT-CAN-BTS.bin"))
	f.page.port = ""

	_, cmd := f.page.Update(keyRune('u'))
	deliver(f.page, cmd)
	if got := lastActivity(f.page); !strings.Contains(got, "Select a port first") {
		t.Fatalf("activity = %q", got)
	}
}

func TestFirmwareUploadMissingFile(t *testing.T) {
	coord := newCoordinator(t, nil)
	f := newFirmwareFixture(t, coord, nil)
	f.page.port = "COM9"

	_, cmd := f.page.Update(keyRune('u'))
	deliver(f.page, cmd)
	if got := lastActivity(f.page); !strings.Contains(got, "Firmware not found") {
		t.Fatalf("activity = %q", got)
	}
}

func TestFirmwareIgnoresOtherUploads(t *testing.T) {
	up := &fakeUploader{}
	f := newFirmwareFixture(t, up, nil)
	f.page.port = "COM9"

	f.page.Update(keyRune('u'))
	f.page.Update(uploadDoneMsg{id: "someone-else", err: serial.ErrNoDeviceSelected})
	if f.page.state != firmwareUploading {
		t.Fatal("foreign upload result changed state")
	}
}
