package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/monitor"
	"smartweb-monitor/internal/protocol"
	"smartweb-monitor/internal/store"
	"smartweb-monitor/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "smartweb-monitor",
		Short:        "Monitor a SmartWeb ECS camera controller",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Connect to the controller and serve the local API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cfgFile)
				if err != nil {
					return err
				}
				if err := cfg.validate(); err != nil {
					return fmt.Errorf("invalid config: %w", err)
				}
				logger := newLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
				slog.SetDefault(logger)
				return run(cfg, logger)
			},
		},
		newReplayCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func run(cfg *Config, logger *slog.Logger) error {
	logger.Info("smartweb-monitor starting", "version", version, "endpoint", cfg.Controller.Endpoint)

	mgr := conn.NewManager(conn.Options{
		Endpoint:             cfg.Controller.Endpoint,
		Transport:            conn.WebsocketTransport{ReadLimit: cfg.Controller.ReadLimit},
		ReconnectInterval:    cfg.reconnectInterval,
		MaxReconnectAttempts: cfg.Controller.MaxReconnectAttempts,
		WriteTimeout:         cfg.writeTimeout,
	}, logger)
	events := monitor.NewEventBus(logger)
	mon := monitor.New(mgr, ecs.NewEngine(logger), events, monitor.Options{AckTimeout: cfg.ackTimeout}, logger)

	opts := []web.ServerOption{
		web.WithAPIKey(cfg.Web.APIKey),
		web.WithAllowedOrigins(cfg.Web.AllowedOrigins),
		web.WithVersion(version),
	}

	if cfg.Journal.Path != "" {
		journal, err := store.OpenJournal(cfg.Journal.Path, cfg.Journal.MaxFrames, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		mgr.AddMessageListener(journal)
		opts = append(opts, web.WithJournal(journal))
	}

	// Automation and MQTT are no-ops when built with no_automation / no_mqtt.
	auto, autoOpts := initAutomation(mon, cfg, logger)
	opts = append(opts, autoOpts...)

	webServer, err := web.NewServer(mon, logger, opts...)
	if err != nil {
		return fmt.Errorf("create web server: %w", err)
	}
	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server listening", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("web server", "err", err)
		}
	}()

	mqtt := initMQTT(mon, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := newSession(mon, cfg.Controller.Username, cfg.Controller.Password, cfg.autoMonitor(), logger)
	go sess.run(ctx)
	if err := mgr.Connect(ctx); err != nil {
		// The manager keeps retrying on its own schedule.
		logger.Warn("initial connect failed", "err", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	if mon.Auth.State().LoggedIn {
		_ = mon.Auth.Logout()
	}
	mon.Close()
	mgr.Disconnect()

	logger.Info("goodbye")
	return nil
}

func newReplayCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "replay <journal.db>",
		Short: "Rebuild the camera tree from a frame journal and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the JSON result.
			logger := newLogger(logLevel, "text", os.Stderr)
			journal, err := store.OpenJournal(args[0], 0, logger)
			if err != nil {
				return err
			}
			defer journal.Close()

			snap, n, err := replay(journal, logger)
			if err != nil {
				return err
			}
			logger.Info("replayed journal", "changed_frames", n, "devices", len(snap.Devices))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	return cmd
}

// replay folds every journaled changed frame, in order, into a fresh engine.
func replay(frames store.FrameLog, logger *slog.Logger) (ecs.Snapshot, int, error) {
	engine := ecs.NewEngine(logger)
	n := 0
	err := frames.Each(func(f store.Frame) error {
		msg, err := protocol.Decode(f.Text)
		if err != nil {
			logger.Debug("skip undecodable frame", "seq", f.Seq, "err", err)
			return nil
		}
		if ch, ok := msg.(*protocol.Changed); ok {
			engine.Apply(ch)
			n++
		}
		return nil
	})
	if err != nil {
		return ecs.Snapshot{}, 0, fmt.Errorf("read journal: %w", err)
	}
	return engine.Snapshot(), n, nil
}
