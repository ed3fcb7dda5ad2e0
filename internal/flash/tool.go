package flash

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Tool describes how to invoke the flashing tool.
type Tool struct {
	// Path is a file path, or a bare name looked up on PATH.
	Path string
	// Target is the destination selector, e.g. the mass-storage volume label.
	Target string
	// Args is the argument template. {firmware}, {port} and {target} are
	// substituted per upload.
	Args []string
}

// Command expands the argument template for one upload.
func (t Tool) Command(firmware, port string) []string {
	r := strings.NewReplacer("{firmware}", firmware, "{port}", port, "{target}", t.Target)
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = r.Replace(a)
	}
	return args
}

// Locate returns the executable to run or an error wrapping ErrToolNotFound.
func (t Tool) Locate() (string, error) {
	if t.Path == "" {
		return "", fmt.Errorf("%w: no tool configured", ErrToolNotFound)
	}

	if !strings.ContainsAny(t.Path, `/\`) {
		p, err := exec.LookPath(t.Path)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrToolNotFound, t.Path)
		}
		return p, nil
	}

	info, err := os.Stat(t.Path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, t.Path)
	}
	if abs, err := filepath.Abs(t.Path); err == nil {
		return abs, nil
	}
	return t.Path, nil
}
