// Package hook dispatches named lifecycle events (build, save, import,
// simulation) to handlers registered with a priority.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInterrupt signals that a Hook handler wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn is a hook handler function.
// Returns (modified data, nil) to continue, or (data, ErrInterrupt) to stop.
// Any other error is collected and the chain continues.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds a HookFn for the given event with the given priority (lower
// runs first, ties run in registration order). name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = without(hc.hooks[event], name)
}

// UnregisterAll removes all hooks registered with the given name across all events.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = without(entries, name)
	}
}

func without(entries []*hookEntry, name string) []*hookEntry {
	n := 0
	for _, e := range entries {
		if e.name != name {
			entries[n] = e
			n++
		}
	}
	return entries[:n]
}

// Handlers returns the registered handler names for event in run order.
func (hc *HookCenter) Handlers(event string) []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, len(hc.hooks[event]))
	for i, e := range hc.hooks[event] {
		names[i] = e.name
	}
	return names
}

// Trigger executes all registered hooks for event in priority order.
// Data flows through each handler, allowing modification.
// If a handler returns ErrInterrupt, execution stops and ErrInterrupt is
// returned. Other handler errors are joined and returned after the chain
// has finished.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		out, err := e.fn(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return out, err
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", event, e.name, err))
			continue
		}
		data = out
	}
	return data, errors.Join(errs...)
}

const (
	BeforeBuild   = "before_build"
	AfterBuild    = "after_build"
	BeforeSave    = "before_save"
	AfterSave     = "after_save"
	AfterImport   = "after_import"
	AfterExport   = "after_export"
	AfterSimulate = "after_simulate"
)
