// Command cid-daemon runs the Codebase Intelligence daemon for one
// project: activity capture, background processing, code indexing, and
// the JSON API the CLI and agent hooks consume.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/oak-dev/cid/internal/config"
	"github.com/oak-dev/cid/internal/daemon"
	"github.com/oak-dev/cid/internal/httpserver"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	project := flag.String("project", "", "project root (defaults to the working directory)")
	configPath := flag.String("config", "", "config file path (defaults to <project>/.oak/ci/config.toml)")
	bind := flag.String("bind", "", "bind address override")
	dev := flag.Bool("dev", false, "developer mode: text logs")
	flag.Parse()

	if err := run(*project, *configPath, *bind, *dev); err != nil {
		if errors.Is(err, errInterrupted) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "cid-daemon:", err)
		os.Exit(1)
	}
}

var errInterrupted = errors.New("interrupted")

func run(project, configPath, bind string, dev bool) error {
	if project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		project = wd
	}
	project = config.ExpandHome(project)

	if configPath == "" {
		configPath = filepath.Join(project, ".oak", "ci", "config.toml")
	}
	cfg, err := loadConfig(configPath, project)
	if err != nil {
		return err
	}
	if bind != "" {
		cfg.API.Bind = bind
	}

	logger := configureLogger(cfg.General.LogLevel, dev)
	slog.SetDefault(logger)

	mgr := config.NewManager(cfg)
	app, err := daemon.New(mgr, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := acquireLockWithRetry(app, 10*time.Second); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.SetShutdown(cancel)

	interrupted := false
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if sig == syscall.SIGINT {
			interrupted = true
		}
		logger.Info("daemon: shutting down", "signal", sig.String())
		cancel()
	}()

	app.StartBackground(ctx)

	// Initial index build runs off the serving path; a failure is logged
	// and the daemon keeps serving with a stale (or empty) index.
	go func() {
		if _, err := app.RebuildIndex(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("daemon: initial index build failed", "error", err)
		}
	}()

	srv := httpserver.New(app, logger)
	logger.Info("daemon: serving", "bind", cfg.API.Bind, "project", project, "version", daemon.Version)
	if err := srv.ListenAndServe(ctx, cfg.API.Bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if interrupted {
		return errInterrupted
	}
	return nil
}

// loadConfig reads the TOML config, falling back to defaults when the
// file does not exist yet (first run).
func loadConfig(path, project string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(errors.Unwrap(err)) || os.IsNotExist(err) {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}
	if cfg.General.ProjectRoot == "" {
		cfg.General.ProjectRoot = project
	}
	return cfg, nil
}

// acquireLockWithRetry polls the pid-file lock so a self-restart successor
// can start while its predecessor is still draining.
func acquireLockWithRetry(app *daemon.App, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := app.AcquireLock()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(500 * time.Millisecond)
	}
}
