// Command aesdsocket runs the bounded append log and its TCP reception
// server described in spec.md: it accepts concurrent connections on port
// 9000, frames incoming bytes into newline-delimited records, appends
// them to a capacity-10 ring, recognises an embedded seek directive, and
// streams the retained log back to the originating client.
//
// Usage:
//
//	aesdsocket [d]
//
// With no argument, or with the argument "d", the process runs in the
// foreground. Any other single argument forks it into the background and
// the parent exits 0 (spec §6).
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aeld/aesdsocket-go/internal/config"
	"github.com/aeld/aesdsocket-go/internal/connserver"
	"github.com/aeld/aesdsocket-go/internal/logdev"
	"github.com/aeld/aesdsocket-go/internal/timestamp"
	"github.com/aeld/aesdsocket-go/internal/version"
)

const foregroundMarker = "d"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:     "aesdsocket [d]",
		Short:   "Bounded append log with a TCP reception server",
		Version: fmt.Sprintf("%s (built %s)", version.Version, version.BuildTime),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// spec §6: with no argument, or with the argument "d", the
			// process stays in the foreground; any other single argument
			// forks it into the background and the parent exits 0.
			foreground := len(args) == 0 || args[0] == foregroundMarker
			if !foreground {
				return daemonize(args[0])
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", config.EnvOrDefault("AESD_ADDR", cfg.Addr), "TCP listen address")
	flags.StringVar(&cfg.MirrorPath, "mirror", config.EnvOrDefault("AESD_MIRROR_PATH", cfg.MirrorPath), "on-disk mirror file path (empty disables it)")
	flags.DurationVar(&cfg.InjectorInterval, "timestamp-interval", cfg.InjectorInterval, "timestamp injector period")
	flags.BoolVar(&cfg.CharDeviceMode, "char-device", cfg.CharDeviceMode, "log backend is the external character device (disables injector and mirror)")
	flags.StringVar(&cfg.LogLevel, "loglevel", config.EnvOrDefault("AESD_LOG_LEVEL", cfg.LogLevel), "log level: debug, info, warn, error")

	return cmd
}

func run(cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.CharDeviceMode {
		cfg.MirrorPath = ""
	}

	dev, err := logdev.New(logdev.WithMirrorPath(cfg.MirrorPath), logdev.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("aesdsocket: failed to create log device: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	srv := connserver.New(cfg.Addr, dev, connserver.Config{
		ChunkSize: int(cfg.ChunkSize),
		Logger:    logger,
	})

	injectorDone := make(chan struct{})
	if !cfg.CharDeviceMode {
		injector := timestamp.New(dev, cfg.InjectorInterval, logger)
		go func() {
			defer close(injectorDone)
			injector.Run(ctx)
		}()
	} else {
		close(injectorDone)
	}

	logger.Info("aesdsocket starting", "addr", cfg.Addr, "mirror", cfg.MirrorPath, "char_device_mode", cfg.CharDeviceMode)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("aesdsocket: server error: %w", err)
	}

	cancel()
	<-injectorDone

	if err := dev.DrainAndDestroy(); err != nil {
		logger.Warn("aesdsocket: drain failed", "error", err)
	}

	logger.Info("aesdsocket shutdown complete")
	return nil
}

// daemonize re-executes the current binary with the positional argument
// that requested forking replaced by the foreground marker, and exits the
// parent immediately with status 0 (spec §6's "the server forks and the
// parent exits 0"). Go cannot fork a live multi-goroutine process safely,
// so the child is a freshly started process rather than a literal fork(2)
// child — it inherits the same argv/env otherwise and becomes the
// long-running server.
func daemonize(trigger string) error {
	args := append([]string(nil), os.Args[1:]...)
	for i := len(args) - 1; i >= 0; i-- {
		if args[i] == trigger {
			args[i] = foregroundMarker
			break
		}
	}

	child := exec.Command(os.Args[0], args...)
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return fmt.Errorf("aesdsocket: fork failed: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(log.Writer(), &slog.HandlerOptions{Level: lvl}))
}
