package app

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"time"

	"eventwatch/internal/config"
	"eventwatch/internal/delivery"
	"eventwatch/internal/router"
	"eventwatch/internal/source"
	"eventwatch/internal/tracker"
	"eventwatch/internal/tunnel"
	"eventwatch/pkg/logx"
	"eventwatch/pkg/systemd"
)

// Options are the CLI-level switches.
type Options struct {
	ConfigPath string
	DryRun     bool
	RunOnce    bool
}

// App owns the process-lifetime resources (logger, DB pool, optional
// SSH tunnel) and drives the run loop. Per-run components are rebuilt
// whenever the config file is reloaded.
type App struct {
	opts    Options
	cfg     *config.Config
	secrets *config.Secrets

	log logx.Logger
	db  *sql.DB
	tun *tunnel.Tunnel

	runner  *Runner
	tracker *tracker.Tracker
	watcher *configWatcher
}

// New loads config and secrets, opens the database (through the SSH
// tunnel when one is configured) and assembles the first runner.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	secrets := config.LoadSecrets()
	if err := secrets.Validate(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	log = log.With(logx.String("comp", "app"))

	a := &App{opts: opts, cfg: cfg, secrets: secrets, log: log}
	if err := a.openDatabase(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildRunner(cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openDatabase() error {
	host, port := a.secrets.DBHost, a.secrets.DBPort
	if a.secrets.UseSSHTunnel {
		tun, err := tunnel.Open(tunnel.Config{
			Host:       a.secrets.SSHHost,
			Port:       a.secrets.SSHPort,
			User:       a.secrets.SSHUser,
			KeyPath:    a.secrets.SSHKeyPath,
			RemoteHost: a.secrets.DBHost,
			RemotePort: a.secrets.DBPort,
		}, a.log.With(logx.String("comp", "tunnel")))
		if err != nil {
			return fmt.Errorf("ssh tunnel: %w", err)
		}
		a.tun = tun
		host, port = tun.Addr()
	}

	db, err := source.Connect(source.DBConfig{
		DSN:                a.secrets.DSN(host, port),
		MaxOpenConnections: 2,
		MaxIdleConnections: 1,
		ConnMaxLifetime:    30 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	a.db = db
	return nil
}

// buildRunner assembles the per-config components from cfg and, on
// success, makes cfg the active config. Called at startup and again
// after a config reload; a failure leaves the previous config and
// runner in place.
func (a *App) buildRunner(cfg *config.Config) error {
	tr, err := tracker.New(tracker.Config{
		Driver:      cfg.Tracker.Driver,
		Path:        cfg.Tracker.Path,
		Window:      cfg.TrackerWindow(),
		BusyTimeout: cfg.TrackerBusyTimeout(),
	}, a.log.With(logx.String("comp", "tracker")), time.Now)
	if err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	if a.tracker != nil {
		_ = a.tracker.Close()
	}
	a.tracker = tr

	rules := make([]router.Rule, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		rules = append(rules, router.Rule{Group: g.Name, Match: g.Match})
	}
	rt := router.New(rules, a.log.With(logx.String("comp", "router")))

	var co deliverer = delivery.New(cfg, a.secrets, a.log.With(logx.String("comp", "delivery")))
	src := source.New(a.db, cfg.Query.Dir, a.log.With(logx.String("comp", "source")))

	a.runner = NewRunner(cfg, tr, src, rt, co, a.log.With(logx.String("comp", "run")), time.Now, a.opts.DryRun)
	a.cfg = cfg
	return nil
}

// reload re-reads the config file at a run boundary. A broken file is
// a config-class error: the old config stays in effect.
func (a *App) reload() {
	cfg, err := config.Load(a.opts.ConfigPath)
	if err != nil {
		a.log.Error("config reload failed, keeping previous config", logx.Err(err))
		return
	}
	if err := a.secrets.Validate(cfg); err != nil {
		a.log.Error("config reload failed validation, keeping previous config", logx.Err(err))
		return
	}
	if err := a.buildRunner(cfg); err != nil {
		a.log.Error("config reload failed to rebuild, keeping previous config", logx.Err(err))
		return
	}
	a.log.Info("config reloaded")
}

// Run drives the loop until the context is canceled. An in-flight run
// always finishes; cancellation is only observed at the sleep boundary.
func (a *App) Run(ctx context.Context) error {
	sched, err := parseSchedule(a.cfg.Schedule.Every)
	if err != nil {
		return err
	}

	if !a.opts.RunOnce {
		if w, werr := watchConfig(a.opts.ConfigPath, a.log.With(logx.String("comp", "watch"))); werr != nil {
			a.log.Warn("config watch unavailable", logx.Err(werr))
		} else {
			a.watcher = w
		}
		if systemd.NotifyReady() {
			a.log.Debug("systemd readiness notified")
		}
	}

	for {
		// The run always finishes: shutdown is observed at the sleep
		// select below, never mid-run, so the persist step cannot be
		// cut short by a signal.
		err := a.safeRun(context.WithoutCancel(ctx))
		cooldown := false
		if err != nil {
			kind := kindOf(err)
			if kind == KindPersist || kind == KindInternal {
				a.log.Error("run failed", logx.String("kind", kind.String()), logx.Err(err))
			} else {
				a.log.Warn("run ended with error", logx.String("kind", kind.String()), logx.Err(err))
			}
			cooldown = kind == KindInternal
		}
		systemd.NotifyWatchdog()

		if a.opts.RunOnce {
			return nil
		}

		now := time.Now()
		delay := sched.Next(now).Sub(now)
		if cooldown {
			delay = a.cfg.Cooldown()
		}
		if delay < time.Second {
			delay = time.Second
		}
		a.log.Info("sleeping until next run", logx.Duration("for", delay))

		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			systemd.NotifyStopping()
			a.log.Info("shutdown signal received, exiting loop")
			return nil
		case <-tmr.C:
		}

		if a.watcher.consumeDirty() {
			a.reload()
			if s, serr := parseSchedule(a.cfg.Schedule.Every); serr == nil {
				sched = s
			} else {
				a.log.Error("invalid schedule after reload, keeping previous", logx.Err(serr))
			}
		}
	}
}

// safeRun converts a panicking run into an internal-kind error so one
// bad cycle cannot take the process down.
func (a *App) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic in run",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			err = runErr(KindInternal, "panic: %v", r)
		}
	}()
	return a.runner.RunOnce(ctx)
}

// Close releases process-lifetime resources in reverse open order.
func (a *App) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.tracker != nil {
		_ = a.tracker.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.tun != nil {
		_ = a.tun.Close()
	}
	_ = a.log.Close()
}
