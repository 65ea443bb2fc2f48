// Package scheduler runs the serve-mode background work: the periodic
// simulation, periodic saves, and the debounced save after an edit.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks. ctx is cancelled when
// the task is removed or the scheduler stops.
type TaskFn func(ctx context.Context) error

// TaskStats describes a task for the admin API.
type TaskStats struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	Skipped   int64         `json:"skipped"`
	LastRun   time.Time     `json:"last_run"`
	LastError string        `json:"last_error,omitempty"`
}

// Scheduler manages periodic and delayed tasks.
type Scheduler struct {
	mu       sync.Mutex
	tickers  map[string]*tickerEntry
	timers   map[string]*time.Timer
	logger   *zap.Logger
	ctx      context.Context
	stop     context.CancelFunc
}

type tickerEntry struct {
	ticker  *time.Ticker
	cancel  context.CancelFunc
	running sync.Mutex

	statMu sync.Mutex
	stats  TaskStats
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		tickers: make(map[string]*tickerEntry),
		timers:  make(map[string]*time.Timer),
		logger:  logger,
		ctx:     ctx,
		stop:    stop,
	}
}

// AddTicker registers a task to run on a fixed interval.
// If a task with the same name exists, it is replaced. A tick that arrives
// while the previous run is still going is skipped.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tickers[name]; ok {
		old.cancel()
		delete(s.tickers, name)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	entry := &tickerEntry{
		ticker: time.NewTicker(interval),
		cancel: cancel,
		stats:  TaskStats{Name: name, Interval: interval},
	}
	s.tickers[name] = entry

	go func() {
		defer entry.ticker.Stop()
		for {
			select {
			case <-entry.ticker.C:
				if !entry.running.TryLock() {
					entry.statMu.Lock()
					entry.stats.Skipped++
					entry.statMu.Unlock()
					continue
				}
				err := s.invoke(ctx, name, fn)
				entry.running.Unlock()
				entry.record(err)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

func (e *tickerEntry) record(err error) {
	e.statMu.Lock()
	defer e.statMu.Unlock()
	e.stats.Runs++
	e.stats.LastRun = time.Now()
	e.stats.LastError = ""
	if err != nil {
		e.stats.Failures++
		e.stats.LastError = err.Error()
	}
}

// invoke runs fn, turning a panic into an error.
func (s *Scheduler) invoke(ctx context.Context, name string, fn TaskFn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked",
				zap.String("task", name),
				zap.Any("recover", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err = fn(ctx); err != nil {
		s.logger.Warn("scheduler task failed", zap.String("task", name), zap.Error(err))
	}
	return err
}

// AddDelay runs fn once after the given delay. Adding a delay under a name
// that is still pending restarts it, so repeated calls debounce.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[name] == t {
			delete(s.timers, name)
		}
		s.mu.Unlock()
		_ = s.invoke(s.ctx, name, fn)
	})
	s.timers[name] = t
}

// Remove stops and removes a ticker or delay task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tickers[name]; ok {
		entry.cancel()
		delete(s.tickers, name)
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// Stop stops all tasks. Pending delays are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}

// ListTickers returns the names of all registered ticker tasks, sorted.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tickers))
	for name := range s.tickers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of every ticker task, sorted by name.
func (s *Scheduler) Stats() []TaskStats {
	s.mu.Lock()
	entries := make([]*tickerEntry, 0, len(s.tickers))
	for _, e := range s.tickers {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]TaskStats, 0, len(entries))
	for _, e := range entries {
		e.statMu.Lock()
		out = append(out, e.stats)
		e.statMu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
