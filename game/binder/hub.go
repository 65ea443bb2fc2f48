package binder

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/kasuganosora/gamedb/cache"
	"github.com/kasuganosora/gamedb/repo"
	"go.uber.org/zap"
)

// UpdatesChannel carries every rendered binder text as an Update.
const UpdatesChannel = "binder:update"

const tablePrefix = "repo:"

// TableChannel is the pub/sub channel announcing changes to table.
func TableChannel(table string) string { return tablePrefix + table }

// Update is published on UpdatesChannel after a binder renders.
type Update struct {
	Binder string `json:"binder"`
	Table  string `json:"table"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Hub owns a set of binders over one repository and re-renders them when
// change notifications for their tables arrive.
type Hub struct {
	repo   *repo.Repo
	pubsub cache.PubSub
	logger *zap.Logger

	mu      sync.RWMutex
	binders []*Binder
	byTable map[string][]*Binder
}

// NewHub creates a Hub. pubsub may be nil, in which case Run only waits and
// updates are applied to targets without being published.
func NewHub(r *repo.Repo, pubsub cache.PubSub, logger *zap.Logger) *Hub {
	return &Hub{
		repo:    r,
		pubsub:  pubsub,
		logger:  logger,
		byTable: make(map[string][]*Binder),
	}
}

// Add registers binders. Every binder must pass Validate.
func (h *Hub) Add(binders ...*Binder) error {
	for _, b := range binders {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range binders {
		h.binders = append(h.binders, b)
		h.byTable[b.Table] = append(h.byTable[b.Table], b)
	}
	return nil
}

// Len returns the number of registered binders.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.binders)
}

// Detect counts the registered binders per kind. Kinds with no binder are
// absent from the result.
func (h *Hub) Detect() map[Kind]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[Kind]int)
	for _, b := range h.binders {
		out[b.Kind]++
	}
	return out
}

// Tables returns the bound table names, sorted.
func (h *Hub) Tables() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.byTable))
	for t := range h.byTable {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// Texts returns the current text of every binder whose target is a TextField.
func (h *Hub) Texts() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.binders))
	for _, b := range h.binders {
		if tf, ok := b.Target.(*TextField); ok {
			out[b.Name] = tf.Text()
		}
	}
	return out
}

// Refresh re-renders the binders of table and returns how many succeeded.
func (h *Hub) Refresh(ctx context.Context, table string) int {
	h.mu.RLock()
	binders := append([]*Binder(nil), h.byTable[table]...)
	h.mu.RUnlock()
	return h.render(ctx, binders)
}

// RefreshAll re-renders every binder.
func (h *Hub) RefreshAll(ctx context.Context) int {
	h.mu.RLock()
	binders := append([]*Binder(nil), h.binders...)
	h.mu.RUnlock()
	return h.render(ctx, binders)
}

func (h *Hub) render(ctx context.Context, binders []*Binder) int {
	ok := 0
	for _, b := range binders {
		u := Update{Binder: b.Name, Table: b.Table}
		text, err := b.Render(h.repo)
		if err != nil {
			h.logger.Warn("binder render failed",
				zap.String("binder", b.Name),
				zap.String("table", b.Table),
				zap.Error(err))
			u.Error = err.Error()
		} else {
			b.Target.SetText(text)
			u.Text = text
			ok++
		}
		h.publish(ctx, UpdatesChannel, u)
	}
	return ok
}

func (h *Hub) publish(ctx context.Context, channel string, v interface{}) {
	if h.pubsub == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.pubsub.Publish(ctx, channel, string(payload)); err != nil {
		h.logger.Warn("binder publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// Attach forwards every repository change to the table's channel. The
// returned func detaches.
func (h *Hub) Attach() func() {
	return h.repo.OnChange(func(c repo.Change) {
		h.publish(context.Background(), TableChannel(c.Table), c)
	})
}

// Run renders every binder once, then re-renders the binders of a table
// whenever its channel fires, until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	h.RefreshAll(ctx)

	tables := h.Tables()
	if h.pubsub == nil || len(tables) == 0 {
		<-ctx.Done()
		return nil
	}
	channels := make([]string, len(tables))
	for i, t := range tables {
		channels[i] = TableChannel(t)
	}
	msgs, cancel, err := h.pubsub.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}
	defer cancel()
	h.logger.Info("binder hub running", zap.Strings("tables", tables), zap.Int("binders", h.Len()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			h.Refresh(ctx, strings.TrimPrefix(msg.Channel, tablePrefix))
		}
	}
}
