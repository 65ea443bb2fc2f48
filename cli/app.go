// Package cli implements the gamedb command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/kasuganosora/gamedb/audit"
	"github.com/kasuganosora/gamedb/build"
	"github.com/kasuganosora/gamedb/cache"
	"github.com/kasuganosora/gamedb/config"
	dbadapter "github.com/kasuganosora/gamedb/db"
	"github.com/kasuganosora/gamedb/game/binder"
	"github.com/kasuganosora/gamedb/game/ops"
	"github.com/kasuganosora/gamedb/game/script"
	"github.com/kasuganosora/gamedb/game/sim"
	"github.com/kasuganosora/gamedb/model"
	"github.com/kasuganosora/gamedb/plugin/hook"
	"github.com/kasuganosora/gamedb/repo"
	"go.uber.org/zap"
)

// App holds the components one command invocation works with. Everything
// is built from the configuration; nothing is global.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Repo    *repo.Repo
	Journal *audit.Service
	Cache   cache.Cache
	PubSub  cache.PubSub
	Hooks   *hook.HookCenter
	Ops     *ops.Service

	out     io.Writer
	closers []func()
}

// NewApp loads the configuration at cfgPath and wires the components. The
// repository is bound but not loaded; commands call Load or LoadRepo.
func NewApp(cfgPath string, debug bool, out io.Writer) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if debug {
		cfg.Server.Debug = true
	}

	var logger *zap.Logger
	if cfg.Server.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, out: out, Hooks: hook.NewHookCenter()}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("db: %w", err)
	}
	if db != nil {
		if err := model.AutoMigrate(db); err != nil {
			a.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		a.Journal = audit.New(db, logger)
		a.closers = append(a.closers, func() {
			a.Journal.Stop(context.Background())
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
	}

	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	if a.Cache, err = cache.NewCache(cacheConfig); err != nil {
		a.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}
	if a.PubSub, err = cache.NewPubSub(cacheConfig); err != nil {
		a.Close()
		return nil, fmt.Errorf("pubsub: %w", err)
	}

	a.Repo = repo.New(cfg.Repo.DataPath, logger)
	a.closers = append(a.closers, func() { _ = a.Repo.Close() })
	a.Ops = ops.NewService(a.Repo, a.Journal, a.Hooks, cfg.Repo.ExportPath, logger)
	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// LoadRepo loads the repository asset. A missing asset yields an empty repo.
func (a *App) LoadRepo() error {
	if err := a.Repo.Load(); err != nil {
		return err
	}
	if !a.Repo.Ok() {
		return repo.ErrNotLoaded
	}
	return nil
}

// Hub builds the binder hub from the configured binders.
func (a *App) Hub() (*binder.Hub, error) {
	binders, err := binder.FromConfig(a.Config.Binders)
	if err != nil {
		return nil, err
	}
	hub := binder.NewHub(a.Repo, a.PubSub, a.Logger)
	if err := hub.Add(binders...); err != nil {
		return nil, err
	}
	return hub, nil
}

// Runner builds the simulation runner with every available companion.
func (a *App) Runner(hub *binder.Hub) (*sim.Runner, error) {
	comp := sim.Companions{
		Binders: hub,
		Journal: a.Journal,
		Cache:   a.Cache,
		Hooks:   a.Hooks,
	}
	if a.Config.Simulation.BonusFormula != "" {
		comp.Sandbox = script.NewSandbox(a.Config.Script.VMPoolSize, a.Config.Script.Timeout, a.Logger)
	}
	return sim.NewRunner(a.Repo, a.Config.Simulation, comp, a.Logger)
}

// Switcher builds the build format switcher and registers its hooks.
func (a *App) Switcher() *build.Switcher {
	s := build.NewSwitcher(a.Repo, a.Cache, a.Journal, a.Logger)
	s.Register(a.Hooks)
	return s
}
