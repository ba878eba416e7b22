// Package app assembles the runtime shared by the CLI and the HTTP server:
// configuration, logger, reference store, workspace database and engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Zia971/opcopilotV4/internal/config"
	"github.com/Zia971/opcopilotV4/internal/db"
	"github.com/Zia971/opcopilotV4/internal/engine"
	"github.com/Zia971/opcopilotV4/internal/intents"
	"github.com/Zia971/opcopilotV4/internal/logging"
	"github.com/Zia971/opcopilotV4/internal/migrate"
	"github.com/Zia971/opcopilotV4/internal/refdata"
)

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/opcopilot.yml.
	ConfigPath string
	// Source is engine.SourceWorkspace, engine.SourceReference or empty.
	Source string
	Demo   bool
	// Logger replaces the one built from the config.
	Logger *zap.Logger
}

type App struct {
	Workspace string
	Config    *config.Config
	Log       *zap.Logger
	DB        *sql.DB
	Reference *refdata.Store
	Engine    engine.Engine
}

// Open loads the configuration and reference data, then opens and migrates
// the workspace database. Reading the reference source never touches the
// database unless one already exists.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if opts.Demo {
		config.DemoOverrides(cfg)
	}
	log := opts.Logger
	if log == nil {
		if log, err = logging.New(cfg.Log); err != nil {
			return nil, err
		}
	}

	store, err := refdata.Open(refdata.SourceFromConfig(cfg, opts.Workspace), log)
	if err != nil {
		log.Warn("reference data degraded", zap.Error(err))
	}

	a := &App{Workspace: opts.Workspace, Config: cfg, Log: log, Reference: store}
	source := strings.ToLower(strings.TrimSpace(opts.Source))
	if source != engine.SourceReference || db.Exists(opts.Workspace) {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open workspace: %w", err)
		}
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate workspace: %w", err)
		}
		a.DB = conn
	}

	a.Engine = engine.New(a.DB, store, cfg, log)
	if source != "" {
		e, err := a.Engine.WithSource(source)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Engine = e
	}
	return a, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

// Background starts the reference watcher (when data.watch is on) and the
// intent dispatcher (when webhooks are configured). Both stop with ctx; the
// returned function waits for the watcher to release its handles.
func (a *App) Background(ctx context.Context) (func(), error) {
	stop := func() {}
	if a.Config.Data.Watch {
		w, err := refdata.NewWatcher(a.Reference, a.Log)
		if err != nil {
			return stop, err
		}
		if err := w.Start(ctx); err != nil {
			return stop, err
		}
		stop = w.Stop
	}
	if a.DB != nil {
		d := intents.NewDispatcher(a.Engine.Repo, a.Config.Intents, a.Log)
		if d.Enabled() {
			go d.Run(ctx)
		}
	}
	return stop, nil
}

func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.Log != nil {
		// stderr sync fails on some terminals; nothing to do about it.
		_ = a.Log.Sync()
	}
	return errors.Join(errs...)
}
