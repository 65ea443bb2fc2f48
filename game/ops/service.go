// Package ops wraps the repository operations shared by the CLI and the HTTP
// API with hooks and journal entries.
package ops

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kasuganosora/gamedb/audit"
	"github.com/kasuganosora/gamedb/game/export"
	"github.com/kasuganosora/gamedb/model"
	"github.com/kasuganosora/gamedb/plugin/hook"
	"github.com/kasuganosora/gamedb/repo"
	"go.uber.org/zap"
)

// ErrRowNotFound is returned when a row index is out of range.
var ErrRowNotFound = errors.New("ops: row not found")

// Service performs journaled repository operations. Journal and Hooks may
// be nil.
type Service struct {
	Repo       *repo.Repo
	Journal    *audit.Service
	Hooks      *hook.HookCenter
	ExportPath string
	logger     *zap.Logger
}

func NewService(r *repo.Repo, journal *audit.Service, hooks *hook.HookCenter, exportPath string, logger *zap.Logger) *Service {
	return &Service{Repo: r, Journal: journal, Hooks: hooks, ExportPath: exportPath, logger: logger}
}

func (s *Service) trigger(ctx context.Context, event string, data interface{}) error {
	if s.Hooks == nil {
		return nil
	}
	_, err := s.Hooks.Trigger(ctx, event, data)
	return err
}

// Save writes the repository asset. A before_save hook returning an error
// cancels the save.
func (s *Service) Save(ctx context.Context, traceID string) error {
	start := time.Now()
	err := s.trigger(ctx, hook.BeforeSave, s.Repo)
	if err == nil {
		err = s.Repo.Save()
	}
	s.Journal.Log(audit.Entry{
		TraceID:    traceID,
		Action:     model.ActionSave,
		AssetPath:  s.Repo.Path(),
		Detail:     map[string]string{"format": s.Repo.Format().String()},
		Err:        err,
		DurationMs: audit.Since(start),
	})
	if err != nil {
		return err
	}
	if herr := s.trigger(ctx, hook.AfterSave, s.Repo); herr != nil {
		s.logger.Warn("after_save hook failed", zap.Error(herr))
	}
	return nil
}

// SaveIfDirty saves only when there are unsaved changes.
func (s *Service) SaveIfDirty(ctx context.Context, traceID string) (bool, error) {
	if !s.Repo.Dirty() {
		return false, nil
	}
	return true, s.Save(ctx, traceID)
}

func (s *Service) exportPath(path string) string {
	if path == "" {
		return s.ExportPath
	}
	return path
}

// Export writes the JSON export document. An empty path selects the
// configured export path.
func (s *Service) Export(ctx context.Context, traceID, path string) (export.Stats, error) {
	path = s.exportPath(path)
	start := time.Now()
	st, err := export.Export(s.Repo, path)
	s.Journal.Log(audit.Entry{
		TraceID:    traceID,
		Action:     model.ActionExport,
		AssetPath:  path,
		Detail:     st,
		Err:        err,
		DurationMs: audit.Since(start),
	})
	if err != nil {
		return st, err
	}
	s.logger.Info("repository exported", zap.String("path", path),
		zap.Int("tables", st.Tables), zap.Int("rows", st.Rows))
	if herr := s.trigger(ctx, hook.AfterExport, st); herr != nil {
		s.logger.Warn("after_export hook failed", zap.Error(herr))
	}
	return st, nil
}

// Import appends the rows of an export document. An empty path selects the
// configured export path.
func (s *Service) Import(ctx context.Context, traceID, path string) (export.Stats, error) {
	path = s.exportPath(path)
	start := time.Now()
	st, err := export.Import(s.Repo, path)
	s.Journal.Log(audit.Entry{
		TraceID:    traceID,
		Action:     model.ActionImport,
		AssetPath:  path,
		Detail:     st,
		Err:        err,
		DurationMs: audit.Since(start),
	})
	if err != nil {
		return st, err
	}
	s.logger.Info("repository imported", zap.String("path", path),
		zap.Int("tables", st.Tables), zap.Int("rows", st.Rows))
	if herr := s.trigger(ctx, hook.AfterImport, st); herr != nil {
		s.logger.Warn("after_import hook failed", zap.Error(herr))
	}
	return st, nil
}

// Row returns the row at index of table.
func (s *Service) Row(table string, index int) (*repo.Entity, error) {
	m, err := s.Repo.MustMeta(table)
	if err != nil {
		return nil, err
	}
	e := m.Entity(index)
	if e == nil {
		return nil, fmt.Errorf("%w: %s[%d]", ErrRowNotFound, table, index)
	}
	return e, nil
}

// SetFields assigns raw values to fields of one row. Values are coerced to
// the field kinds; every value is checked before any is written.
func (s *Service) SetFields(traceID, table string, index int, raw map[string]any) (*repo.Entity, error) {
	start := time.Now()
	e, err := s.Row(table, index)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]repo.Value, len(names))
	for i, name := range names {
		f, ok := e.Meta().Field(name)
		if !ok {
			err = fmt.Errorf("%w: %s.%s", repo.ErrFieldNotFound, table, name)
			break
		}
		if values[i], err = repo.Coerce(raw[name], f.Kind); err != nil {
			err = fmt.Errorf("%s.%s: %w", table, name, err)
			break
		}
	}
	if err == nil {
		for i, name := range names {
			if err = e.Set(name, values[i]); err != nil {
				break
			}
		}
	}
	s.Journal.Log(audit.Entry{
		TraceID:    traceID,
		Action:     model.ActionSetField,
		Table:      table,
		AssetPath:  s.Repo.Path(),
		Detail:     map[string]any{"index": index, "fields": names},
		Err:        err,
		DurationMs: audit.Since(start),
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}
