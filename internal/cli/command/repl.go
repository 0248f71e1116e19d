package command

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionkeep-go/internal/cli/config"
	"github.com/yndnr/sessionkeep-go/internal/cli/repl"
	"github.com/yndnr/sessionkeep-go/internal/infra/confloader"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/logger"
)

// REPLCommand returns the repl command.
func REPLCommand() *cli.Command {
	return &cli.Command{
		Name:  "repl",
		Usage: "Start an interactive shell that keeps the session open",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-address",
				Usage: "Serve Prometheus metrics on host:port while the shell runs",
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "Do not read or write the history file",
			},
		},
		Action: replAction,
	}
}

func replAction(c *cli.Context) error {
	rt, err := GetRuntime(c)
	if err != nil {
		return err
	}
	auth, err := rt.Auth()
	if err != nil {
		return err
	}

	ctx, stop := rt.Shutdown.NotifyContext(c.Context)
	defer stop()

	addr := rt.Config.Metrics.Address
	if c.IsSet("metrics-address") {
		addr = c.String("metrics-address")
	}
	if addr != "" {
		if err := rt.serveMetrics(addr); err != nil {
			return err
		}
	}
	rt.watchConfig()

	cfg := repl.Config{
		Input:       rt.in,
		Output:      rt.out,
		HistoryFile: filepath.Join(config.DefaultDir(), "history"),
		View:        rt.View,
	}
	if c.Bool("no-history") {
		cfg.HistoryFile = ""
	}
	if _, tty := rt.stdinTerminal(); tty {
		cfg.ReadSecret = rt.ReadSecret
	}

	return repl.New(auth, cfg).Run(ctx)
}

// serveMetrics exposes the registry until shutdown.
func (rt *Runtime) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.Metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.Warn("metrics server stopped", "error", err)
		}
	}()
	rt.Shutdown.OnShutdown("metrics server", srv.Shutdown)
	rt.Logger.Info("serving metrics", "address", ln.Addr().String())
	return nil
}

// watchConfig applies log.level changes made to the config file while the
// shell runs. Other settings need a restart.
func (rt *Runtime) watchConfig() {
	if _, err := os.Stat(rt.ConfigPath); err != nil {
		return
	}
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(rt.Logger.Slog()))
	if err != nil {
		rt.Logger.Warn("config watcher unavailable", "error", err)
		return
	}
	if err := w.Watch(rt.ConfigPath); err != nil {
		w.Stop()
		return
	}

	w.OnChange(rt.reloadLogLevel)
	w.StartAsync()
	rt.Shutdown.OnShutdown("config watcher", func(context.Context) error {
		return w.Stop()
	})
}

// reloadLogLevel applies log.level from the config file at path. A file
// that no longer validates leaves the level alone.
func (rt *Runtime) reloadLogLevel(path string) {
	cfg, err := config.Load(path, nil)
	if err != nil {
		rt.Logger.Warn("config reload rejected", "path", path, "error", err)
		return
	}

	before := logger.GetLevel()
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		rt.Logger.Warn("config reload rejected", "path", path, "error", err)
		return
	}
	if after := logger.GetLevel(); after != before {
		rt.Logger.Info("log level changed", "from", before, "to", after)
	}
}
