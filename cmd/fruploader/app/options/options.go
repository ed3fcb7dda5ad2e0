package options

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/pflag"

	"github.com/farmrobo-dev/fruploader/internal/config"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Options are the flags shared by every fruploader command. Empty values
// leave the configured setting alone.
type Options struct {
	// Root is the install directory holding .fruploader/. Detected from the
	// working directory when empty.
	Root string

	LogLevel  string
	LogOutput string
}

func NewOptions() *Options {
	return &Options{}
}

// AddFlags binds the options to fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Root, "root", o.Root, "Install directory containing .fruploader/ (default: detected from the working directory).")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Minimum log level: debug, info, warn or error.")
	fs.StringVar(&o.LogOutput, "log-output", o.LogOutput, "Log destination: stdout, stderr or a file path.")
}

// Complete fills in the root directory.
func (o *Options) Complete() error {
	if o.Root != "" {
		return nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	o.Root = config.DetectRoot(wd)
	return nil
}

func (o *Options) Validate() error {
	var errs []error
	if o.LogLevel != "" && !slices.Contains(logLevels, o.LogLevel) {
		errs = append(errs, fmt.Errorf("--log-level must be one of %v, got %q", logLevels, o.LogLevel))
	}
	if o.Root != "" {
		if info, err := os.Stat(o.Root); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Errorf("--root %q is not a directory", o.Root))
		}
	}
	return errors.Join(errs...)
}

// Apply overrides the logging section of cfg with the flags that were set.
func (o *Options) Apply(cfg *config.Config) {
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogOutput != "" {
		cfg.Log.Output = o.LogOutput
	}
}
