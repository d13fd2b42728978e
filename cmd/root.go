// Package cmd implements the ueventd CLI.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/ueventd/internal/config"
	"github.com/smazurov/ueventd/internal/coldboot"
	"github.com/smazurov/ueventd/internal/dispatcher"
	"github.com/smazurov/ueventd/internal/events"
	"github.com/smazurov/ueventd/internal/firmware"
	"github.com/smazurov/ueventd/internal/logging"
	"github.com/smazurov/ueventd/internal/moduleload"
	"github.com/smazurov/ueventd/internal/nodes"
	"github.com/smazurov/ueventd/internal/permrules"
	"github.com/smazurov/ueventd/internal/platform"
	"github.com/smazurov/ueventd/internal/socket"
	"github.com/smazurov/ueventd/internal/statusd"
	"github.com/smazurov/ueventd/internal/systemd"
	"github.com/smazurov/ueventd/internal/uevent"
	"github.com/smazurov/ueventd/internal/version"
)

var opts = defaultOptions()

var rootCmd = &cobra.Command{
	Use:     "ueventd",
	Short:   "Device manager core: uevent ingestion, node creation, module autoload, firmware loading",
	Version: version.Get().Version,
	RunE:    run,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	bindFlags(rootCmd, opts)
}

// nodeEventSink adapts nodes.PropertySink to the ambient event bus.
type nodeEventSink struct {
	bus *events.Bus
}

func (s nodeEventSink) DevAdded(path string) {
	s.bus.Publish(events.DeviceEvent{Action: "add", NodePath: path, Timestamp: time.Now().Format(time.RFC3339)})
}

func (s nodeEventSink) DevRemoved(path string) {
	s.bus.Publish(events.DeviceEvent{Action: "remove", NodePath: path, Timestamp: time.Now().Format(time.RFC3339)})
}

// firmwareEventSink adapts firmware.Notifier to the ambient event bus.
type firmwareEventSink struct {
	bus *events.Bus
}

func (s firmwareEventSink) FirmwareLoaded(r firmware.Result) {
	ev := events.FirmwareEvent{
		DevPath:   r.DevPath,
		Name:      r.Name,
		Loaded:    r.Loaded,
		Bytes:     r.Bytes,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	s.bus.Publish(ev)
}

// loadLoggingConfig adapts config.LoadLoggingConfig to the
// (T, error)-returning shape config.NewConfigWatcher expects.
func loadLoggingConfig(path string) (logging.Config, error) {
	return config.LoadLoggingConfig(path), nil
}

func run(cmd *cobra.Command, args []string) error {
	if err := config.LoadConfig(opts, cmd); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Initialize(logging.Config{Level: opts.LogLevel, Format: opts.LogFormat})
	logger := logging.GetLogger("ueventd")
	logger.Info("starting", "version", version.Get().Version)

	rulesFile, err := config.LoadRules(opts.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	rules := permrules.New(logging.GetLogger("permrules"))
	for _, r := range rulesFile.DevRules {
		rules.Add(r.Pattern, "", config.ParseMode(r.Mode), r.UID, r.GID, permrules.ContainsGlob(r.Pattern))
	}
	for _, r := range rulesFile.SysRules {
		rules.Add(r.Pattern, r.Attr, config.ParseMode(r.Mode), r.UID, r.GID, permrules.ContainsGlob(r.Pattern))
	}

	products := dispatcher.NewProductRules()
	for _, r := range rulesFile.ProductRules {
		products.Add(r.Prefix, config.ParseMode(r.Mode), r.UID, r.GID)
	}

	bus := events.New()
	topo := platform.New()

	nodeFactory := nodes.New(rules, nodes.NoopLabeler{}, nodeEventSink{bus: bus}, logging.GetLogger("nodes"))
	autoloader := moduleload.New(opts.ModulesAliasPath, opts.ModulesBlacklistPath, moduleload.ExecInserter{}, logging.GetLogger("moduleload"))
	fwLoader := firmware.New(opts.FirmwareSearchPath, opts.FirmwareBootingSentinel, firmwareEventSink{bus: bus}, logging.GetLogger("firmware"))
	disp := dispatcher.New(rules, topo, nodeFactory, autoloader, fwLoader, products, opts.InstallIDPrefix, logging.GetLogger("dispatcher"))

	sock, err := socket.Open()
	if err != nil {
		return fmt.Errorf("open uevent socket: %w", err)
	}
	defer sock.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handle := func(msg []byte) {
		disp.Dispatch(ctx, uevent.Parse(msg))
	}

	walker := coldboot.New(sock, handle, logging.GetLogger("coldboot"))
	if err := walker.Run(opts.ColdbootSentinel); err != nil {
		logger.Warn("coldboot failed", "error", err)
	}

	svc := systemd.NewManager()
	if err := svc.NotifyReady(); err != nil {
		logger.Debug("systemd readiness notification failed", "error", err)
	}
	if err := svc.StartWatchdog(); err != nil {
		logger.Debug("systemd watchdog failed to start", "error", err)
	}
	defer svc.Close()

	status := statusd.New(bus)
	go func() {
		logger.Info("status surface listening", "addr", opts.StatusAddr)
		if err := status.Start(opts.StatusAddr); err != nil {
			logger.Error("status surface stopped", "error", err)
		}
	}()

	if opts.Config != "" {
		watcher := config.NewConfigWatcher(opts.Config, loadLoggingConfig, logging.GetLogger("config"))
		watcher.OnReload(logging.Initialize)
		if err := watcher.Start(); err != nil {
			logger.Debug("config watcher failed to start", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	logger.Info("entering event loop")
	return eventLoop(ctx, sock, handle, logger)
}

// eventLoop blocks in waitReadable between drains so the daemon doesn't
// busy-poll a non-blocking socket, re-checking ctx on every wakeup
// (including the periodic poll timeout) so shutdown is prompt even with
// no traffic on the wire.
func eventLoop(ctx context.Context, sock *socket.Socket, handle func(msg []byte), logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		default:
		}

		if err := waitReadable(sock.Fd()); err != nil {
			return fmt.Errorf("poll netlink socket: %w", err)
		}

		if err := sock.Drain(handle); err != nil {
			logger.Warn("drain failed", "error", err)
		}
	}
}
