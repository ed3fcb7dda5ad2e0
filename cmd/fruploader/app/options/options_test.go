package options

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/farmrobo-dev/fruploader/internal/config"
)

func TestFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	root := t.TempDir()
	if err := fs.Parse([]string{"--root", root, "--log-level", "debug", "--log-output", "stdout"}); err != nil {
		t.Fatal(err)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg := config.Defaults()
	o.Apply(&cfg)
	if cfg.Log.Level != "debug" || cfg.Log.Output != "stdout" {
		t.Fatalf("log config = %+v", cfg.Log)
	}
	if o.Root != root {
		t.Fatalf("root = %q", o.Root)
	}
}

func TestApplyKeepsConfiguredValues(t *testing.T) {
	cfg := config.Defaults()
	cfg.Log.Output = "/var/log/fruploader.log"
	NewOptions().Apply(&cfg)
	if cfg.Log.Output != "/var/log/fruploader.log" || cfg.Log.Level != "info" {
		t.Fatalf("log config = %+v", cfg.Log)
	}
}

func TestValidate(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"defaults", Options{}, true},
		{"bad level", Options{LogLevel: "verbose"}, false},
		{"missing root", Options{Root: filepath.Join(t.TempDir(), "nope")}, false},
		{"root is a file", Options{Root: file}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestCompleteDetectsRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, config.DirName), 0o755); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "bin")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(sub); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	o := NewOptions()
	if err := o.Complete(); err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(root)
	got, _ := filepath.EvalSymlinks(o.Root)
	if got != want {
		t.Fatalf("root = %q, want %q", got, want)
	}
}
