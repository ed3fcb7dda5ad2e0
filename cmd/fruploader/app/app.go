// Package app builds the fruploader command tree.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/farmrobo-dev/fruploader/cmd/fruploader/app/options"
	tui "github.com/farmrobo-dev/fruploader/internal/app"
	"github.com/farmrobo-dev/fruploader/internal/config"
	"github.com/farmrobo-dev/fruploader/internal/flash"
	"github.com/farmrobo-dev/fruploader/internal/logging"
	"github.com/farmrobo-dev/fruploader/internal/pages"
	"github.com/farmrobo-dev/fruploader/internal/release"
	"github.com/farmrobo-dev/fruploader/internal/serial"
	"github.com/farmrobo-dev/fruploader/internal/store"
)

const (
	commandName = "fruploader"
	commandDesc = `fruploader flashes FarmRobo R1 controller firmware over the board's
mass-storage interface and monitors its serial console. Without a
subcommand it starts the terminal UI.`
)

// listPorts and openPort are replaced in tests.
var (
	listPorts serial.Lister = serial.ListPorts
	openPort  serial.Opener
)

// env is everything a command needs, built once from the flags and config.
type env struct {
	root     string
	stateDir string
	cfg      config.Config
	log      *zap.Logger
	store    *store.Store
	reg      *serial.Registry
}

func newEnv(opts *options.Options, tuiMode bool) (*env, error) {
	if err := opts.Complete(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cfg := config.Load(opts.Root)
	opts.Apply(&cfg)
	stateDir := filepath.Join(opts.Root, config.DirName)

	// The terminal UI owns the screen, so console logging goes to a file.
	if tuiMode && (cfg.Log.Output == "" || cfg.Log.Output == "stdout" || cfg.Log.Output == "stderr") {
		cfg.Log.Output = filepath.Join(stateDir, "logs", "fruploader.log")
	}

	log, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, err
	}

	return &env{
		root:     opts.Root,
		stateDir: stateDir,
		cfg:      cfg,
		log:      log,
		store:    store.New(stateDir),
		reg:      serial.NewRegistry(openPort),
	}, nil
}

func (e *env) path(p string) string {
	return config.Resolve(e.root, p)
}

// toolPath resolves a relative tool path against the root. Bare names are
// left for a PATH lookup.
func (e *env) toolPath() string {
	p := e.cfg.Flash.Tool
	if !strings.ContainsAny(p, `/\`) {
		return p
	}
	return e.path(p)
}

func (e *env) coordinator() *flash.Coordinator {
	tool := flash.Tool{
		Path:   e.toolPath(),
		Target: e.cfg.Flash.Target,
		Args:   e.cfg.Flash.Args,
	}
	opts := []flash.Option{
		flash.WithRegistry(e.reg),
		flash.WithLogger(e.log),
		flash.WithTimeout(e.cfg.Flash.Timeout),
		flash.WithRecorder(e.store),
		flash.WithRunner(flash.ExecRunner{Dir: e.root}),
	}
	if e.cfg.Flash.CheckPort {
		opts = append(opts, flash.WithPortCheck(listPorts))
	}
	return flash.NewCoordinator(tool, opts...)
}

func (e *env) client() *release.Client {
	return release.NewClient(e.cfg.APIBaseURL, e.cfg.Repo, e.cfg.HTTPTimeout)
}

func (e *env) installer() *release.Installer {
	return &release.Installer{
		Client:   e.client(),
		Dir:      e.path(e.cfg.FirmwareDir),
		Marker:   e.path(e.cfg.VersionFile),
		Recorder: e.store,
		Log:      e.log.Named("release"),
	}
}

func (e *env) session(name string) *serial.Session {
	return serial.NewSession(name,
		serial.WithRegistry(e.reg),
		serial.WithLogger(e.log),
		serial.WithPollInterval(e.cfg.PollInterval),
	)
}

// NewRootCommand returns the fruploader command. ctx is cancelled on
// SIGINT/SIGTERM.
func NewRootCommand(ctx context.Context) *cobra.Command {
	opts := options.NewOptions()
	cmd := &cobra.Command{
		Use:           commandName,
		Short:         "Flash and monitor FarmRobo R1 controllers",
		Long:          commandDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, true)
			if err != nil {
				return err
			}
			defer e.log.Sync()
			return runTUI(ctx, e)
		},
	}
	opts.AddFlags(cmd.PersistentFlags())
	cmd.SetContext(ctx)

	cmd.AddCommand(
		newPortsCommand(opts),
		newCheckUpdateCommand(opts),
		newDownloadCommand(opts),
		newUploadCommand(opts),
		newMonitorCommand(opts),
		newServeCommand(opts),
		newHistoryCommand(opts),
	)
	return cmd
}

func runTUI(ctx context.Context, e *env) error {
	e.log.Info("starting", zap.String("root", e.root))

	cfg := e.cfg
	monitor := e.session("monitor")
	defer monitor.Stop()
	coord := e.coordinator()

	pageMap := map[tui.PageID]tui.Page{
		tui.FirmwarePage: pages.NewFirmwarePage(&cfg, e.root, coord, e.client(), e.installer(), monitor),
		tui.CustomPage:   pages.NewCustomPage(&cfg, e.root, coord, monitor),
		tui.MonitorPage:  pages.NewMonitorPage(&cfg, e.root, monitor, e.store),
		tui.HistoryPage:  pages.NewHistoryPage(e.store),
		tui.SettingsPage: pages.NewSettingsPage(&cfg, e.root),
	}
	model := tui.New(pageMap, &cfg, e.root, listPorts, e.reg)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("terminal UI: %w", err)
	}
	return nil
}
