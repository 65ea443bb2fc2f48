package repo

import (
	"fmt"

	"github.com/google/uuid"
)

// Field is one declared column of a table.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"type" yaml:"type"`
}

// Meta is a named table holding entities that all share its fields.
type Meta struct {
	repo     *Repo
	name     string
	fields   []Field
	index    map[string]int
	entities []*Entity
	byID     map[uuid.UUID]*Entity
}

func newMeta(r *Repo, name string, fields []Field) (*Meta, error) {
	m := &Meta{
		repo:   r,
		name:   name,
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
		byID:   make(map[uuid.UUID]*Entity),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("repo: table %q: empty field name", name)
		}
		if _, dup := m.index[f.Name]; dup {
			return nil, fmt.Errorf("repo: table %q: duplicate field %q", name, f.Name)
		}
		m.index[f.Name] = len(m.fields)
		m.fields = append(m.fields, f)
	}
	return m, nil
}

func (m *Meta) Name() string { return m.name }

// CountEntities returns the number of rows.
func (m *Meta) CountEntities() int {
	m.repo.mu.RLock()
	defer m.repo.mu.RUnlock()
	return len(m.entities)
}

// Entity returns the row at index i, or nil when i is out of range.
func (m *Meta) Entity(i int) *Entity {
	m.repo.mu.RLock()
	defer m.repo.mu.RUnlock()
	if i < 0 || i >= len(m.entities) {
		return nil
	}
	return m.entities[i]
}

// EntityByID returns the row with the given id, or nil.
func (m *Meta) EntityByID(id uuid.UUID) *Entity {
	m.repo.mu.RLock()
	defer m.repo.mu.RUnlock()
	return m.byID[id]
}

// Entities returns a snapshot of the rows in insertion order.
func (m *Meta) Entities() []*Entity {
	m.repo.mu.RLock()
	defer m.repo.mu.RUnlock()
	out := make([]*Entity, len(m.entities))
	copy(out, m.entities)
	return out
}

// ForEachEntity calls fn for every row. fn runs without the repository lock
// held, so it may read and write the entity.
func (m *Meta) ForEachEntity(fn func(e *Entity)) {
	for _, e := range m.Entities() {
		fn(e)
	}
}

// Fields returns a copy of the declared fields in declaration order.
func (m *Meta) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Field looks up a field by name.
func (m *Meta) Field(name string) (Field, bool) {
	i, ok := m.index[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

func (m *Meta) ForEachField(fn func(f Field)) {
	for _, f := range m.fields {
		fn(f)
	}
}

// NewEntity appends a row whose fields hold zero values and returns it.
func (m *Meta) NewEntity() *Entity {
	e := m.insert(uuid.New(), m.zeroValues())
	m.repo.notify(Change{Table: m.name, EntityID: e.id, Created: true})
	return e
}

func (m *Meta) zeroValues() []Value {
	values := make([]Value, len(m.fields))
	for i, f := range m.fields {
		values[i] = Zero(f.Kind)
	}
	return values
}

func (m *Meta) insert(id uuid.UUID, values []Value) *Entity {
	e := &Entity{meta: m, id: id, values: values}
	m.repo.mu.Lock()
	m.entities = append(m.entities, e)
	m.byID[id] = e
	m.repo.dirty = true
	m.repo.mu.Unlock()
	return e
}

// FindBy returns the first row whose field equals want.
func (m *Meta) FindBy(field string, want Value) (*Entity, error) {
	if _, ok := m.index[field]; !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, m.name, field)
	}
	for _, e := range m.Entities() {
		v, _ := e.Get(field)
		if v.Equal(want) {
			return e, nil
		}
	}
	return nil, nil
}
