package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/meshstore/internal/infra/buildinfo"
	"github.com/yndnr/meshstore/internal/infra/confloader"
	"github.com/yndnr/meshstore/internal/infra/shutdown"
	"github.com/yndnr/meshstore/internal/server/config"
	"github.com/yndnr/meshstore/internal/server/httpserver"
	"github.com/yndnr/meshstore/internal/server/localserver"
	"github.com/yndnr/meshstore/internal/storage"
	"github.com/yndnr/meshstore/internal/telemetry/logger"
	"github.com/yndnr/meshstore/internal/telemetry/metric"
)

// ServeCommand runs the engine with background flushing and compaction
// and the admin HTTP server until a signal arrives.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the store with the admin HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "admin-addr",
				Usage: "Admin HTTP listen address (overrides admin.addr)",
			},
			&cli.StringFlag{
				Name:  "admin-socket",
				Usage: "Unix socket for the admin API and local operations (overrides admin.socket)",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "Maximum time for graceful shutdown",
				Value: shutdown.DefaultTimeout,
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	s, err := newSession(c, false)
	if err != nil {
		return err
	}
	if addr := c.String("admin-addr"); addr != "" {
		s.cfg.Admin.Addr = addr
	}
	if sock := c.String("admin-socket"); sock != "" {
		s.cfg.Admin.Socket = sock
	}
	logger.SetDefault(s.log)
	log := s.log.Slog()

	info := buildinfo.Get()
	log.Info("starting meshstore",
		"version", info.Version,
		"commit", info.ShortCommit(),
		"data_dir", s.cfg.DataDir,
		"durability", s.cfg.Storage.Durability,
		"encrypted", s.cfg.Encryption.Key != "" || s.cfg.Encryption.KeyFile != "" || s.cfg.Encryption.Passphrase != "",
	)

	reg := metric.NewRegistry()
	e, err := s.openEngine(func(o *storage.Options) { o.Observer = reg.Observer() })
	if err != nil {
		return err
	}
	if err := reg.Register(metric.NewStatsCollector(e.Stats)); err != nil {
		_ = e.Close()
		return err
	}

	sh := shutdown.NewHandler(c.Duration("shutdown-timeout"), shutdown.WithLogger(log))
	// Hooks run in reverse order: the engine closes last.
	sh.OnShutdown("storage", func(context.Context) error { return e.Close() })

	routerCfg := httpserver.DefaultRouterConfig()
	routerCfg.Store = e
	routerCfg.Version = info.Version
	routerCfg.Logger = log
	routerCfg.Metrics = reg
	router := httpserver.NewRouter(routerCfg)
	srv := httpserver.New(httpserver.Config{
		Addr:         s.cfg.Admin.Addr,
		ReadTimeout:  s.cfg.Admin.ReadTimeout,
		WriteTimeout: s.cfg.Admin.WriteTimeout,
		IdleTimeout:  s.cfg.Admin.IdleTimeout,
	}, router)
	if err := srv.Start(); err != nil {
		_ = e.Close()
		return err
	}
	log.Info("admin server listening", "addr", srv.Addr())
	sh.OnShutdown("admin-http", srv.Shutdown)
	go triggerOnError(sh, log, "admin server", srv.Errors())

	if path := s.cfg.Admin.Socket; path != "" {
		local := localserver.New(path, httpserver.Chain(
			localserver.NewHandler(router, &serveController{s: s, sh: sh}, log),
			httpserver.RequestID(),
			httpserver.Recover(log),
			httpserver.AccessLog(log),
		))
		if err := local.Start(); err != nil {
			_ = srv.Shutdown(context.Background())
			_ = e.Close()
			return err
		}
		log.Info("local admin socket listening", "path", local.Path())
		sh.OnShutdown("admin-socket", local.Shutdown)
		go triggerOnError(sh, log, "local admin socket", local.Errors())
	}

	if path := s.loader.FilePath(); path != "" {
		w, err := watchConfig(s, path)
		if err != nil {
			log.Warn("config watcher disabled", "path", path, "error", err)
		} else {
			sh.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
		}
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	err = sh.Wait(ctx)
	log.Info("meshstore stopped", "uptime", time.Since(start).Round(time.Second))
	return err
}

func triggerOnError(sh *shutdown.Handler, log *slog.Logger, name string, errs <-chan error) {
	if err, ok := <-errs; ok {
		log.Error(name+" failed", "error", err)
		sh.Trigger()
	}
}

// serveController runs the operations only reachable over the local socket.
type serveController struct {
	s  *session
	sh *shutdown.Handler
}

func (c *serveController) Shutdown() { c.sh.Trigger() }

func (c *serveController) Reload() error { return c.s.reload() }

// reload re-reads configuration and applies the settings that can change
// at runtime. Currently that is log.level.
func (s *session) reload() error {
	log := s.log.Slog()
	next := config.Default()
	if err := s.loader.Reload(next); err != nil {
		return err
	}
	if err := config.Verify(next); err != nil {
		return err
	}
	if next.Log.Level != logger.GetLevel() {
		if err := logger.SetLevel(next.Log.Level); err != nil {
			return err
		}
		log.Info("log level changed", "level", next.Log.Level)
	}
	if next.Storage != s.cfg.Storage || next.Admin != s.cfg.Admin {
		log.Warn("storage and admin settings take effect on restart")
	}
	return nil
}

// watchConfig reloads the file whenever it changes.
func watchConfig(s *session, path string) (*confloader.Watcher, error) {
	log := s.log.Slog()
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		if err := s.reload(); err != nil {
			log.Warn("config reload failed, keeping current settings", "path", path, "error", err)
		}
	})
	w.StartAsync()
	return w, nil
}
