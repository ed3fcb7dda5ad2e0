package release

import (
	"os"
	"path/filepath"
	"strings"
)

// ReadMarker returns the installed version recorded at path, or NoVersion
// when the file is missing, unreadable or empty.
func ReadMarker(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return NoVersion
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return NoVersion
	}
	return v
}

// WriteMarker records v at path, replacing the file atomically.
func WriteMarker(path, v string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".version-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(v + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
