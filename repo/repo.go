// Package repo is the in-process game data repository: named tables of typed
// rows, persisted as a single JSON or LZ4-compressed binary asset.
//
// A Repo is opened once at process start and passed to every consumer; there
// is no package-level instance.
package repo

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Format is the on-disk encoding of the repository asset.
type Format int

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	if f == FormatBinary {
		return "binary"
	}
	return "json"
}

// ParseFormat accepts the names written by String plus their capitalised forms.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json", "Json", "JSON":
		return FormatJSON, nil
	case "binary", "Binary":
		return FormatBinary, nil
	}
	return FormatJSON, fmt.Errorf("repo: unknown format %q", s)
}

func (f Format) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Settings is the optional settings addon stored inside the asset.
type Settings struct {
	Format Format `json:"format"`
}

// Change describes one mutation of a row.
type Change struct {
	Table    string    `json:"table"`
	EntityID uuid.UUID `json:"id"`
	Field    string    `json:"field,omitempty"`
	Created  bool      `json:"created,omitempty"`
}

type listener struct {
	id int
	fn func(Change)
}

// Repo holds every table of one asset file.
type Repo struct {
	mu       sync.RWMutex
	path     string
	metas    []*Meta
	byName   map[string]*Meta
	settings *Settings
	loaded   bool
	ok       bool
	dirty    bool
	savedAt  time.Time

	lmu       sync.RWMutex
	listeners []listener
	nextID    int

	logger *zap.Logger
}

// New returns an unloaded repository bound to path.
func New(path string, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{
		path:   path,
		byName: make(map[string]*Meta),
		logger: logger,
	}
}

// Open returns a repository bound to path and loads it.
// A missing asset yields an empty, loaded repository.
func Open(path string, logger *zap.Logger) (*Repo, error) {
	r := New(path, logger)
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repo) Path() string { return r.path }

// Loaded reports whether Load has been attempted.
func (r *Repo) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Ok reports whether the repository was loaded successfully.
func (r *Repo) Ok() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ok
}

// Dirty reports whether there are mutations not yet saved.
func (r *Repo) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

// SavedAt returns the time of the last successful Save.
func (r *Repo) SavedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.savedAt
}

// Load replaces the in-memory state with the asset on disk.
func (r *Repo) Load() error {
	doc, err := readAsset(r.path)
	if errors.Is(err, os.ErrNotExist) {
		r.mu.Lock()
		r.reset()
		r.loaded, r.ok = true, true
		r.mu.Unlock()
		r.logger.Info("repo asset not found, starting empty", zap.String("path", r.path))
		return nil
	}
	if err != nil {
		r.mu.Lock()
		r.loaded, r.ok = true, false
		r.mu.Unlock()
		return fmt.Errorf("repo: load %s: %w", r.path, err)
	}

	r.mu.Lock()
	r.reset()
	r.mu.Unlock()

	if err := r.apply(doc); err != nil {
		r.mu.Lock()
		r.reset()
		r.loaded, r.ok = true, false
		r.mu.Unlock()
		return fmt.Errorf("repo: load %s: %w", r.path, err)
	}

	r.mu.Lock()
	r.loaded, r.ok, r.dirty = true, true, false
	r.mu.Unlock()
	r.logger.Info("repo loaded",
		zap.String("path", r.path),
		zap.Int("tables", len(doc.Tables)),
		zap.Stringer("format", r.Format()))
	return nil
}

func (r *Repo) reset() {
	r.metas = nil
	r.byName = make(map[string]*Meta)
	r.settings = nil
}

func (r *Repo) apply(doc *document) error {
	if doc.Settings != nil {
		s := *doc.Settings
		r.settings = &s
	}
	for _, td := range doc.Tables {
		m, err := r.AddMeta(td.Name, td.Fields...)
		if err != nil {
			return err
		}
		for _, rd := range td.Rows {
			values := m.zeroValues()
			for name, raw := range rd.Values {
				f, ok := m.Field(name)
				if !ok {
					return fmt.Errorf("%w: %s.%s", ErrFieldNotFound, td.Name, name)
				}
				v, err := Coerce(raw, f.Kind)
				if err != nil {
					return fmt.Errorf("%s.%s: %w", td.Name, name, err)
				}
				values[m.index[name]] = v
			}
			if rd.ID == uuid.Nil {
				rd.ID = uuid.New()
			}
			m.insert(rd.ID, values)
		}
	}
	return nil
}

// Save writes the asset in the format selected by the settings addon
// (JSON when the addon is absent) and clears the dirty flag.
func (r *Repo) Save() error {
	if r.path == "" {
		return errors.New("repo: save: no asset path")
	}
	r.mu.RLock()
	if !r.ok {
		r.mu.RUnlock()
		return ErrNotLoaded
	}
	doc := r.snapshot()
	format := FormatJSON
	if r.settings != nil {
		format = r.settings.Format
	}
	r.mu.RUnlock()

	if err := writeAsset(r.path, doc, format); err != nil {
		return fmt.Errorf("repo: save %s: %w", r.path, err)
	}
	r.MarkAsSaved()
	r.logger.Info("repo saved", zap.String("path", r.path), zap.Stringer("format", format))
	return nil
}

// MarkAsSaved clears the dirty flag and stamps the save time.
func (r *Repo) MarkAsSaved() {
	r.mu.Lock()
	r.dirty = false
	r.savedAt = time.Now()
	r.mu.Unlock()
}

// Close drops change listeners. Unsaved changes are discarded.
func (r *Repo) Close() error {
	r.lmu.Lock()
	r.listeners = nil
	r.lmu.Unlock()
	if r.Dirty() {
		r.logger.Warn("repo closed with unsaved changes", zap.String("path", r.path))
	}
	return nil
}

func (r *Repo) snapshot() *document {
	doc := &document{Tables: make([]tableDoc, 0, len(r.metas))}
	if r.settings != nil {
		s := *r.settings
		doc.Settings = &s
	}
	for _, m := range r.metas {
		td := tableDoc{Name: m.name, Fields: m.Fields(), Rows: make([]rowDoc, 0, len(m.entities))}
		for _, e := range m.entities {
			rd := rowDoc{ID: e.id, Values: make(map[string]any, len(e.values))}
			for i, f := range m.fields {
				rd.Values[f.Name] = e.values[i].Interface()
			}
			td.Rows = append(td.Rows, rd)
		}
		doc.Tables = append(doc.Tables, td)
	}
	return doc
}

// AddMeta declares a new table.
func (r *Repo) AddMeta(name string, fields ...Field) (*Meta, error) {
	if name == "" {
		return nil, errors.New("repo: empty table name")
	}
	m, err := newMeta(r, name, fields)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	r.metas = append(r.metas, m)
	r.byName[name] = m
	r.dirty = true
	return m, nil
}

// Meta returns the table with the given name, or nil.
func (r *Repo) Meta(name string) *Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// MustMeta is Meta returning ErrTableNotFound instead of nil.
func (r *Repo) MustMeta(name string) (*Meta, error) {
	if m := r.Meta(name); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
}

// Metas returns the tables in declaration order.
func (r *Repo) Metas() []*Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Meta, len(r.metas))
	copy(out, r.metas)
	return out
}

func (r *Repo) ForEachMeta(fn func(m *Meta)) {
	for _, m := range r.Metas() {
		fn(m)
	}
}

// TableNames returns the table names sorted alphabetically.
func (r *Repo) TableNames() []string {
	metas := r.Metas()
	names := make([]string, len(metas))
	for i, m := range metas {
		names[i] = m.name
	}
	sort.Strings(names)
	return names
}

// Settings returns the settings addon, or nil when it is not enabled.
func (r *Repo) Settings() *Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// EnableSettings installs the settings addon if absent and returns it.
func (r *Repo) EnableSettings(format Format) *Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		r.settings = &Settings{Format: format}
		r.dirty = true
	}
	return r.settings
}

// Format returns the asset format currently selected.
func (r *Repo) Format() Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.settings == nil {
		return FormatJSON
	}
	return r.settings.Format
}

// SetFormat changes the format of an enabled settings addon.
func (r *Repo) SetFormat(f Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		return errors.New("repo: settings addon not enabled")
	}
	if r.settings.Format != f {
		r.settings.Format = f
		r.dirty = true
	}
	return nil
}

// OnChange registers fn to be called after every row mutation.
// The returned func unregisters it.
func (r *Repo) OnChange(fn func(Change)) func() {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, listener{id: id, fn: fn})
	return func() {
		r.lmu.Lock()
		defer r.lmu.Unlock()
		for i, l := range r.listeners {
			if l.id == id {
				r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}

func (r *Repo) notify(c Change) {
	r.lmu.RLock()
	ls := make([]listener, len(r.listeners))
	copy(ls, r.listeners)
	r.lmu.RUnlock()
	for _, l := range ls {
		l.fn(c)
	}
}
