package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/gamedb/api/rest"
	"github.com/kasuganosora/gamedb/api/sse"
	"github.com/kasuganosora/gamedb/game/binder"
	"github.com/kasuganosora/gamedb/game/sim"
	mw "github.com/kasuganosora/gamedb/middleware"
	"github.com/kasuganosora/gamedb/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func serveCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the repository over HTTP with live binders and periodic tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
}

// Server is the assembled serve mode: HTTP routes, binder hub, simulation
// runner and scheduler.
type Server struct {
	Engine *gin.Engine
	Hub    *binder.Hub
	Runner *sim.Runner
	Sched  *scheduler.Scheduler

	detach func()
}

// NewServer wires serve mode over a loaded repository and starts the binder
// hub and the periodic tasks. They stop when ctx ends or Stop is called.
func (a *App) NewServer(ctx context.Context) (*Server, error) {
	cfg, logger := a.Config, a.Logger
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Binders ----
	hub, err := a.Hub()
	if err != nil {
		return nil, err
	}

	// ---- Simulation ----
	runner, err := a.Runner(hub)
	if err != nil {
		return nil, err
	}

	s := &Server{Hub: hub, Runner: runner, Sched: scheduler.New(logger)}
	s.detach = hub.Attach()
	go func() {
		if err := hub.Run(ctx); err != nil {
			logger.Error("binder hub stopped", zap.Error(err))
		}
	}()

	// ---- Scheduler ----
	if cfg.Simulation.Interval > 0 {
		s.Sched.AddTicker("simulate", cfg.Simulation.Interval, func(ctx context.Context) error {
			_, err := runner.Run(ctx)
			return err
		})
	}
	if cfg.Repo.AutoSave > 0 {
		s.Sched.AddTicker("auto_save", cfg.Repo.AutoSave, func(ctx context.Context) error {
			_, err := a.Ops.SaveIfDirty(ctx, "")
			return err
		})
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger, "/health"), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	tableH := apirest.NewTableHandler(a.Ops, hub, s.Sched, cfg.Repo.SaveDelay, logger)
	adminH := apirest.NewAdminHandler(a.Ops, runner, a.Journal, s.Sched, a.Cache, logger)
	sseH := sse.NewHandler(a.PubSub, hub, logger)

	r.GET("/health", tableH.Health)

	api := r.Group("/api")
	{
		api.GET("/tables", tableH.List)
		api.GET("/tables/:name", tableH.Get)
		api.GET("/tables/:name/rows/:index", tableH.GetRow)
		api.PUT("/tables/:name/rows/:index", tableH.PutRow)
		api.GET("/binders", tableH.Binders)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AllowedIPs), apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.POST("/save", adminH.Save)
		adminG.POST("/export", adminH.Export)
		adminG.POST("/import", adminH.Import)
		adminG.POST("/simulate", adminH.Simulate)
		adminG.GET("/journal", adminH.Journal)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.GET("/sim/last", adminH.LastSimulation)
	}

	// ---- SSE ----
	r.GET("/sse", mw.IPWhitelist(cfg.Server.AllowedIPs), sseH.ServeSSE)

	s.Engine = r
	return s, nil
}

// Stop ends the periodic tasks and detaches the hub from the repository.
func (s *Server) Stop() {
	s.Sched.Stop()
	s.detach()
}

// Serve runs the HTTP API, the binder hub and the scheduler until ctx ends,
// then saves unsaved changes.
func (a *App) Serve(ctx context.Context) error {
	if err := a.LoadRepo(); err != nil {
		return err
	}
	s, err := a.NewServer(ctx)
	if err != nil {
		return err
	}
	defer s.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		a.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("http shutdown", zap.Error(err))
		}
	}

	s.Stop()
	saved, err := a.Ops.SaveIfDirty(context.WithoutCancel(ctx), "")
	if err != nil {
		return err
	}
	if saved {
		a.Logger.Info("unsaved changes written on shutdown")
	}
	return nil
}
