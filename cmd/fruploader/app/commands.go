package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/farmrobo-dev/fruploader/cmd/fruploader/app/options"
	"github.com/farmrobo-dev/fruploader/internal/flash"
	"github.com/farmrobo-dev/fruploader/internal/release"
	"github.com/farmrobo-dev/fruploader/internal/serial"
	"github.com/farmrobo-dev/fruploader/internal/server"
)

const tableTimeLayout = "2006-01-02 15:04:05"

func newTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = 60
	t.Separator = "  "
	return t
}

func newPortsCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := listPorts()
			if err != nil {
				return fmt.Errorf("list ports: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(ports) == 0 {
				fmt.Fprintln(out, "No serial ports found.")
				return nil
			}
			t := newTable()
			t.AddRow("NAME", "USB", "VID:PID", "SERIAL", "PRODUCT")
			for _, p := range ports {
				usb, ids := "no", "-"
				if p.IsUSB {
					usb = "yes"
					ids = p.VID + ":" + p.PID
				}
				t.AddRow(p.Name, usb, ids, p.SerialNumber, p.Product)
			}
			fmt.Fprintln(out, t)
			return nil
		},
	}
}

func newCheckUpdateCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-update",
		Short: "Compare the installed firmware with the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.log.Sync()

			local := release.ReadMarker(e.path(e.cfg.VersionFile))
			u := release.CheckUpdate(cmd.Context(), e.client(), local)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Installed: %s\n", u.Local)
			switch {
			case u.Offline:
				fmt.Fprintln(out, "No internet connection. Cannot check for updates.")
			case u.Err != nil:
				return fmt.Errorf("check update: %w", u.Err)
			case u.Available:
				fmt.Fprintf(out, "Latest:    %s\nNew firmware available, run 'fruploader download'.\n", u.Remote)
			default:
				fmt.Fprintf(out, "Latest:    %s\nFirmware is up to date.\n", u.Remote)
			}
			return nil
		},
	}
}

func newDownloadCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download the latest firmware release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.log.Sync()

			inst := e.installer()
			rel, err := inst.Install(cmd.Context())
			if errors.Is(err, release.ErrNetworkUnavailable) {
				return errors.New("no internet connection, cannot download firmware")
			}
			if err != nil {
				return fmt.Errorf("download: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Downloaded %s into %s\n", rel.Tag, inst.Dir)
			for _, a := range rel.Assets {
				fmt.Fprintf(out, "  %s\n", a.Name)
			}
			return nil
		},
	}
}

type uploadOptions struct {
	port     string
	firmware string
	variant  string
	external bool
}

// firmwarePath picks the image in order: explicit path, release variant,
// legacy image, configured variant.
func (o *uploadOptions) firmwarePath(cmd *cobra.Command, e *env) (string, error) {
	dir := e.path(e.cfg.FirmwareDir)
	switch {
	case o.firmware != "":
		return filepath.Abs(o.firmware)
	case o.variant != "":
		v, err := release.ParseVariant(o.variant)
		if err != nil {
			return "", err
		}
		return v.Path(dir), nil
	case cmd.Flags().Changed("external"):
		return filepath.Join(dir, release.LegacyFirmware(o.external)), nil
	}
	v := release.Variant{Temp: e.cfg.Variant.Temp, Tools: e.cfg.Variant.Tools, Actuator: e.cfg.Variant.Actuator}
	if err := v.Validate(); err != nil {
		v = release.DefaultVariant()
	}
	return v.Path(dir), nil
}

func newUploadCommand(opts *options.Options) *cobra.Command {
	o := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Flash firmware to a board",
		Long: `Flash a release variant, the legacy single image or any .bin/.hex file.
Without --firmware, --variant or --external the configured variant is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.log.Sync()

			if o.port == "" {
				o.port = e.cfg.SerialPort
			}
			path, err := o.firmwarePath(cmd, e)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Uploading %s to %s...\n", filepath.Base(path), o.port)
			task, err := e.coordinator().Upload(cmd.Context(), flash.Request{Firmware: path, Device: o.port})
			if task == nil {
				return fmt.Errorf("upload not started: %w", err)
			}
			if task.RestoreErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", task.RestoreErr)
			}
			if err != nil {
				if s := strings.TrimSpace(task.Stdout); s != "" {
					fmt.Fprintln(out, s)
				}
				return fmt.Errorf("upload %s: %w", task.Outcome(), err)
			}
			fmt.Fprintf(out, "Upload succeeded in %s.\n", task.Duration.Round(time.Millisecond))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.port, "port", "", "Serial port of the board (default: the configured port).")
	fs.StringVar(&o.firmware, "firmware", "", "Path to a .bin or .hex file.")
	fs.StringVar(&o.variant, "variant", "", "Release variant, e.g. IT-CAN-BTS.")
	fs.BoolVar(&o.external, "external", false, "Flash the legacy image for boards with an external temperature sensor.")
	cmd.MarkFlagsMutuallyExclusive("firmware", "variant", "external")
	return cmd
}

type monitorOptions struct {
	port       string
	baud       int
	hex        bool
	timestamp  bool
	lineEnding string
}

func newMonitorCommand(opts *options.Options) *cobra.Command {
	o := &monitorOptions{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print serial output and send stdin lines to the board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.log.Sync()

			if o.port == "" {
				o.port = e.cfg.SerialPort
			}
			if !cmd.Flags().Changed("baud") {
				o.baud = e.cfg.SerialBaudRate
			}
			ending, err := serial.ParseLineEnding(o.lineEnding)
			if err != nil {
				return err
			}
			d := serial.DefaultDisplay()
			d.Timestamp = o.timestamp
			d.LineEnding = ending
			if o.hex {
				d.View = serial.Hex
			}
			return runMonitor(cmd, e.session("cli"), o.port, o.baud, d, e.log)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.port, "port", "", "Serial port to open (default: the configured port).")
	fs.IntVar(&o.baud, "baud", serial.DefaultBaudRate, "Baud rate (default: the configured rate).")
	fs.BoolVar(&o.hex, "hex", false, "Show bytes as hex.")
	fs.BoolVar(&o.timestamp, "timestamp", false, "Prefix each line with the receive time.")
	fs.StringVar(&o.lineEnding, "line-ending", "LF", "Appended to sent lines: None, LF, CR or CRLF.")
	return cmd
}

// runMonitor streams sess to stdout until the context ends or the port
// fails. Each stdin line is sent to the board.
func runMonitor(cmd *cobra.Command, sess *serial.Session, port string, baud int, d serial.Display, log *zap.Logger) error {
	ctx := cmd.Context()
	out := serial.NewWriterSink(cmd.OutOrStdout())
	failed := make(chan string, 1)
	status := serial.SinkFunc(func(ev serial.Event) {
		switch ev.Kind {
		case serial.StatusEvent:
			fmt.Fprintf(cmd.ErrOrStderr(), "-- %s --\n", ev.Text)
		case serial.ErrorEvent:
			select {
			case failed <- ev.Text:
			default:
			}
		}
	})
	defer sess.AddSink(out)()
	defer sess.AddSink(status)()

	sess.Reconfigure(d)
	if err := sess.Start(port, baud); err != nil {
		return err
	}
	defer sess.Stop()

	// The reader goroutine ends with stdin or on the first send after Stop.
	go sendLines(cmd.InOrStdin(), sess, log)

	var err error
	select {
	case <-ctx.Done():
	case text := <-failed:
		err = errors.New(text)
	}
	if werr := out.Err(); werr != nil && err == nil {
		err = fmt.Errorf("write output: %w", werr)
	}
	return err
}

func sendLines(r io.Reader, sess *serial.Session, log *zap.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := sess.Send(sc.Text()); err != nil {
			log.Warn("send", zap.Error(err))
			return
		}
	}
}

func newServeCommand(opts *options.Options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.log.Sync()

			if addr == "" {
				addr = e.cfg.Server.Addr
			}
			srv := server.New(server.Options{
				Addr:           addr,
				AllowedOrigins: e.cfg.Server.AllowedOrigins,
				Coordinator:    e.coordinator(),
				Installer:      e.installer(),
				Client:         e.client(),
				Registry:       e.reg,
				Lister:         listPorts,
				FirmwareDir:    e.path(e.cfg.FirmwareDir),
				Marker:         e.path(e.cfg.VersionFile),
				BaudRate:       e.cfg.SerialBaudRate,
				PollInterval:   e.cfg.PollInterval,
				Logger:         e.log.Named("server"),
			})
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr from the config).")
	return cmd
}

var historyKinds = []string{"flashes", "downloads", "logs"}

func newHistoryCommand(opts *options.Options) *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past uploads, downloads and serial captures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(historyKinds, kind) {
				return fmt.Errorf("--kind must be one of %v, got %q", historyKinds, kind)
			}
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.log.Sync()

			t := newTable()
			switch kind {
			case "flashes":
				recs, err := e.store.Flashes()
				if err != nil {
					return err
				}
				t.AddRow("TIME", "PORT", "FIRMWARE", "OUTCOME", "DURATION", "ERROR")
				for _, r := range newest(recs, limit) {
					t.AddRow(r.Timestamp.Local().Format(tableTimeLayout), r.Port, filepath.Base(r.Firmware), r.Outcome, r.Duration, r.Error)
				}
			case "downloads":
				recs, err := e.store.Downloads()
				if err != nil {
					return err
				}
				t.AddRow("TIME", "VERSION", "ASSETS", "OK", "ERROR")
				for _, r := range newest(recs, limit) {
					t.AddRow(r.Timestamp.Local().Format(tableTimeLayout), r.Version, len(r.Assets), r.Success, r.Error)
				}
			case "logs":
				recs, err := e.store.SerialLogs()
				if err != nil {
					return err
				}
				t.AddRow("TIME", "PORT", "BAUD", "FILE")
				for _, r := range newest(recs, limit) {
					t.AddRow(r.Timestamp.Local().Format(tableTimeLayout), r.Port, r.BaudRate, r.LogFile)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), t)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "flashes", "Records to show: flashes, downloads or logs.")
	cmd.Flags().IntVar(&limit, "limit", 20, "Show at most this many records, 0 for all.")
	return cmd
}

// newest returns up to n records, most recent first.
func newest[T any](recs []T, n int) []T {
	recs = slices.Clone(recs)
	slices.Reverse(recs)
	if n > 0 && len(recs) > n {
		recs = recs[:n]
	}
	return recs
}
