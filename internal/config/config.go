package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultBaudRate     = 115200
	DefaultFirmwareDir  = "bin"
	DefaultRepo         = "farmrobo-dev/FR_Firmware_Uploader"
	DefaultAPIBaseURL   = "https://api.github.com"
	DefaultFlashTarget  = "NODE_F446ZE"
	DefaultPollInterval = 10 * time.Millisecond

	// DirName is the per-install state directory (config, history, logs).
	DirName = ".fruploader"

	envPrefix = "FRUP"
)

// Config holds all fruploader configuration.
type Config struct {
	FirmwareDir    string        `mapstructure:"firmware_dir"`
	VersionFile    string        `mapstructure:"version_file"`
	CustomDir      string        `mapstructure:"custom_dir"`
	Repo           string        `mapstructure:"repo"`
	APIBaseURL     string        `mapstructure:"api_base_url"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	SerialPort     string        `mapstructure:"serial_port"`
	SerialBaudRate int           `mapstructure:"serial_baud_rate"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`

	Flash   FlashConfig   `mapstructure:"flash"`
	Variant VariantConfig `mapstructure:"variant"`
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
}

// FlashConfig describes the external flashing tool.
// Args may reference {firmware}, {port} and {target}.
type FlashConfig struct {
	Tool      string        `mapstructure:"tool"`
	Target    string        `mapstructure:"target"`
	Args      []string      `mapstructure:"args"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CheckPort bool          `mapstructure:"check_port"`
}

// VariantConfig is the last selected release firmware variant.
type VariantConfig struct {
	Temp     string `mapstructure:"temp"`
	Tools    string `mapstructure:"tools"`
	Actuator string `mapstructure:"actuator"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		FirmwareDir:    DefaultFirmwareDir,
		VersionFile:    filepath.Join(DefaultFirmwareDir, "version.txt"),
		Repo:           DefaultRepo,
		APIBaseURL:     DefaultAPIBaseURL,
		HTTPTimeout:    30 * time.Second,
		SerialBaudRate: DefaultBaudRate,
		PollInterval:   DefaultPollInterval,
		Flash: FlashConfig{
			Tool:    defaultFlashTool(),
			Target:  DefaultFlashTarget,
			Args:    []string{"-I", "{firmware}", "-O", "{target}"},
			Timeout: 2 * time.Minute,
		},
		Variant: VariantConfig{Temp: "IT", Tools: "CAN", Actuator: "BTS"},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// defaultFlashTool returns the mass-storage copy script shipped for this OS.
func defaultFlashTool() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join("win", "massStorageCopy.bat")
	case "darwin":
		return filepath.Join("macosx", "massStorageCopyMacOsX.sh")
	default:
		return filepath.Join("linux", "massStorageCopy.sh")
	}
}

// Load reads and merges global and install configs.
// Order: defaults → global (~/.config/fruploader/config.json) → install
// (<root>/.fruploader/config.json) → FRUP_* environment variables.
func Load(root string) Config {
	v := newViper()

	if home, err := os.UserHomeDir(); err == nil {
		mergeFromFile(v, filepath.Join(home, ".config", "fruploader", "config.json"))
	}
	if root != "" {
		mergeFromFile(v, filepath.Join(root, DirName, "config.json"))
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return Defaults()
	}
	return cfg
}

// Save writes the config to <root>/.fruploader/config.json by default,
// or to the global config if global is true.
func Save(cfg Config, root string, global bool) error {
	var dir string
	if global {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dir = filepath.Join(home, ".config", "fruploader")
	} else {
		dir = filepath.Join(root, DirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	v := viper.New()
	for k, val := range toMap(cfg) {
		v.Set(k, val)
	}
	return v.WriteConfigAs(filepath.Join(dir, "config.json"))
}

// Resolve returns p joined onto root unless p is already absolute.
func Resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) || root == "" {
		return p
	}
	return filepath.Join(root, p)
}

// DetectRoot walks up from startDir looking for a .fruploader/ directory.
// Falls back to startDir itself.
func DetectRoot(startDir string) string {
	start, err := filepath.Abs(startDir)
	if err != nil {
		return startDir
	}
	for dir := start; ; {
		if info, err := os.Stat(filepath.Join(dir, DirName)); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range toMap(Defaults()) {
		v.SetDefault(k, val)
	}
	return v
}

func mergeFromFile(v *viper.Viper, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	v.MergeConfig(f)
}

// toMap flattens cfg into viper keys. Durations are stored as strings so
// the JSON file stays readable ("10ms", "2m0s").
func toMap(cfg Config) map[string]any {
	return map[string]any{
		"firmware_dir":     cfg.FirmwareDir,
		"version_file":     cfg.VersionFile,
		"custom_dir":       cfg.CustomDir,
		"repo":             cfg.Repo,
		"api_base_url":     cfg.APIBaseURL,
		"http_timeout":     cfg.HTTPTimeout.String(),
		"serial_port":      cfg.SerialPort,
		"serial_baud_rate": cfg.SerialBaudRate,
		"poll_interval":    cfg.PollInterval.String(),

		"flash.tool":       cfg.Flash.Tool,
		"flash.target":     cfg.Flash.Target,
		"flash.args":       cfg.Flash.Args,
		"flash.timeout":    cfg.Flash.Timeout.String(),
		"flash.check_port": cfg.Flash.CheckPort,

		"variant.temp":     cfg.Variant.Temp,
		"variant.tools":    cfg.Variant.Tools,
		"variant.actuator": cfg.Variant.Actuator,

		"log.level":       cfg.Log.Level,
		"log.format":      cfg.Log.Format,
		"log.output":      cfg.Log.Output,
		"log.max_size":    cfg.Log.MaxSize,
		"log.max_backups": cfg.Log.MaxBackups,
		"log.max_age":     cfg.Log.MaxAge,
		"log.compress":    cfg.Log.Compress,

		"server.addr":            cfg.Server.Addr,
		"server.allowed_origins": cfg.Server.AllowedOrigins,
	}
}
