// Package audit keeps the operation journal: every save, export, import,
// simulation run and format switch is written to the journal_entries table.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/gamedb/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry holds one journal event to be recorded.
type Entry struct {
	TraceID    string
	Action     string
	Table      string
	AssetPath  string
	Detail     interface{}
	Err        error
	DurationMs int
}

// Service writes journal entries asynchronously in batches. A nil *Service
// is valid and records nothing, which is what runs without a database get.
type Service struct {
	db       *gorm.DB
	ch       chan *model.JournalEntry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a journal Service and starts its background worker.
// It returns nil when db is nil.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	if db == nil {
		return nil
	}
	svc := &Service{
		db:     db,
		ch:     make(chan *model.JournalEntry, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an entry for an async DB write. A missing trace ID is filled
// with a fresh UUID.
func (svc *Service) Log(entry Entry) {
	if svc == nil {
		return
	}
	record := &model.JournalEntry{
		TraceID:    entry.TraceID,
		Action:     entry.Action,
		Table:      entry.Table,
		AssetPath:  entry.AssetPath,
		DurationMs: entry.DurationMs,
	}
	if record.TraceID == "" {
		record.TraceID = uuid.NewString()
	}
	if entry.Detail != nil {
		if b, err := json.Marshal(entry.Detail); err == nil {
			record.Detail = datatypes.JSON(b)
		}
	}
	if entry.Err != nil {
		record.Error = entry.Err.Error()
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("journal queue full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// Since is a helper for Entry.DurationMs.
func Since(start time.Time) int {
	return int(time.Since(start).Milliseconds())
}

// Recent returns up to limit entries, newest first. A non-empty action
// filters by action.
func (svc *Service) Recent(ctx context.Context, limit int, action string) ([]model.JournalEntry, error) {
	if svc == nil {
		return []model.JournalEntry{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := svc.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if action != "" {
		q = q.Where("action = ?", action)
	}
	var out []model.JournalEntry
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	if svc == nil {
		return
	}
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.JournalEntry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("journal batch write failed",
				zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
