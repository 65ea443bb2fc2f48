package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamedb/game/binder"
	"github.com/kasuganosora/gamedb/game/export"
	"github.com/kasuganosora/gamedb/game/ops"
	mw "github.com/kasuganosora/gamedb/middleware"
	"github.com/kasuganosora/gamedb/repo"
	"github.com/kasuganosora/gamedb/scheduler"
	"go.uber.org/zap"
)

// SaveTask is the scheduler name of the debounced save after an edit.
const SaveTask = "save_after_edit"

// TableHandler serves read and edit access to repository tables.
type TableHandler struct {
	svc       *ops.Service
	hub       *binder.Hub
	sched     *scheduler.Scheduler
	saveDelay time.Duration
	logger    *zap.Logger
}

// NewTableHandler creates a TableHandler. hub and sched may be nil; without
// a scheduler edits are not saved automatically.
func NewTableHandler(svc *ops.Service, hub *binder.Hub, sched *scheduler.Scheduler, saveDelay time.Duration, logger *zap.Logger) *TableHandler {
	return &TableHandler{svc: svc, hub: hub, sched: sched, saveDelay: saveDelay, logger: logger}
}

type tableInfo struct {
	Name   string       `json:"name"`
	Fields []repo.Field `json:"fields"`
	Rows   int          `json:"rows"`
}

func rowOf(e *repo.Entity) export.Row {
	values := e.Values()
	row := make(export.Row, len(values)+1)
	for name, v := range values {
		row[name] = v.Interface()
	}
	row[export.IDKey] = e.ID().String()
	return row
}

// Health reports whether the repository is usable.
// GET /health
func (h *TableHandler) Health(c *gin.Context) {
	r := h.svc.Repo
	status := "ok"
	code := http.StatusOK
	if !r.Ok() {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"tables": len(r.Metas()),
		"dirty":  r.Dirty(),
		"format": r.Format().String(),
	})
}

// List returns every table with its fields and row count.
// GET /api/tables
func (h *TableHandler) List(c *gin.Context) {
	metas := h.svc.Repo.Metas()
	out := make([]tableInfo, 0, len(metas))
	for _, m := range metas {
		out = append(out, tableInfo{Name: m.Name(), Fields: m.Fields(), Rows: m.CountEntities()})
	}
	c.JSON(http.StatusOK, gin.H{"tables": out})
}

// Get returns one table with all its rows.
// GET /api/tables/:name
func (h *TableHandler) Get(c *gin.Context) {
	m, err := h.svc.Repo.MustMeta(c.Param("name"))
	if err != nil {
		abortErr(c, err)
		return
	}
	rows := make([]export.Row, 0, m.CountEntities())
	m.ForEachEntity(func(e *repo.Entity) { rows = append(rows, rowOf(e)) })
	c.JSON(http.StatusOK, gin.H{"name": m.Name(), "fields": m.Fields(), "rows": rows})
}

func rowIndex(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return 0, false
	}
	return idx, true
}

// GetRow returns one row by index.
// GET /api/tables/:name/rows/:index
func (h *TableHandler) GetRow(c *gin.Context) {
	idx, ok := rowIndex(c)
	if !ok {
		return
	}
	e, err := h.svc.Row(c.Param("name"), idx)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rowOf(e))
}

// PutRow assigns the fields in the JSON body to one row and schedules a
// save.
// PUT /api/tables/:name/rows/:index
func (h *TableHandler) PutRow(c *gin.Context) {
	idx, ok := rowIndex(c)
	if !ok {
		return
	}
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a non-empty object"})
		return
	}
	delete(body, export.IDKey)

	traceID := mw.GetTraceID(c)
	e, err := h.svc.SetFields(traceID, c.Param("name"), idx, body)
	if err != nil {
		abortErr(c, err)
		return
	}
	if h.sched != nil {
		h.sched.AddDelay(SaveTask, h.saveDelay, func(ctx context.Context) error {
			_, err := h.svc.SaveIfDirty(ctx, traceID)
			return err
		})
	}
	c.JSON(http.StatusOK, rowOf(e))
}

// Binders returns the latest text of every binder.
// GET /api/binders
func (h *TableHandler) Binders(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusOK, gin.H{"binders": map[string]string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"binders": h.hub.Texts(), "kinds": h.hub.Detect()})
}
