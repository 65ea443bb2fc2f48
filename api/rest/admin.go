package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamedb/audit"
	"github.com/kasuganosora/gamedb/cache"
	"github.com/kasuganosora/gamedb/game/ops"
	"github.com/kasuganosora/gamedb/game/sim"
	mw "github.com/kasuganosora/gamedb/middleware"
	"github.com/kasuganosora/gamedb/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	svc     *ops.Service
	runner  *sim.Runner
	journal *audit.Service
	sched   *scheduler.Scheduler
	cache   cache.Cache
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler. runner and journal may be nil.
func NewAdminHandler(
	svc *ops.Service,
	runner *sim.Runner,
	journal *audit.Service,
	sched *scheduler.Scheduler,
	c cache.Cache,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{svc: svc, runner: runner, journal: journal, sched: sched, cache: c, logger: logger}
}

// Save writes the repository asset now.
// POST /api/admin/save
func (h *AdminHandler) Save(c *gin.Context) {
	if err := h.svc.Save(c.Request.Context(), mw.GetTraceID(c)); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "path": h.svc.Repo.Path(), "format": h.svc.Repo.Format().String()})
}

// Export writes the JSON export file.
// POST /api/admin/export
func (h *AdminHandler) Export(c *gin.Context) {
	st, err := h.svc.Export(c.Request.Context(), mw.GetTraceID(c), "")
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "path": h.svc.ExportPath, "stats": st})
}

// Import appends the rows of the JSON export file.
// POST /api/admin/import
func (h *AdminHandler) Import(c *gin.Context) {
	st, err := h.svc.Import(c.Request.Context(), mw.GetTraceID(c), "")
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "path": h.svc.ExportPath, "stats": st})
}

// Simulate runs the simulation plan once.
// POST /api/admin/simulate
func (h *AdminHandler) Simulate(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "simulation not configured"})
		return
	}
	report, err := h.runner.Run(c.Request.Context())
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Journal returns recent journal entries.
// GET /api/admin/journal?limit=50&action=save
func (h *AdminHandler) Journal(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.journal.Recent(c.Request.Context(), limit, c.Query("action"))
	if err != nil {
		h.logger.Error("journal query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// ListSchedulerTasks returns the registered ticker tasks and their stats.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers(), "stats": h.sched.Stats()})
}

// LastSimulation returns the cached summary of the latest simulation run.
// GET /api/admin/sim/last
func (h *AdminHandler) LastSimulation(c *gin.Context) {
	fields, err := h.cache.HGetAll(c.Request.Context(), sim.LastRunKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	if len(fields) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no simulation has run"})
		return
	}
	c.JSON(http.StatusOK, fields)
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
