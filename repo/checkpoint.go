package repo

import "github.com/google/uuid"

// Checkpoint is an in-memory copy of the rows and values of a repository,
// taken so a multi-step change can be undone.
type Checkpoint struct {
	metas  []*Meta
	tables map[*Meta]tableCheckpoint
	dirty  bool
}

type tableCheckpoint struct {
	entities []*Entity
	values   [][]Value
}

// Checkpoint records the current tables, rows and field values.
func (r *Repo) Checkpoint() *Checkpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := &Checkpoint{
		metas:  append([]*Meta(nil), r.metas...),
		tables: make(map[*Meta]tableCheckpoint, len(r.metas)),
		dirty:  r.dirty,
	}
	for _, m := range r.metas {
		tc := tableCheckpoint{
			entities: append([]*Entity(nil), m.entities...),
			values:   make([][]Value, len(m.entities)),
		}
		for i, e := range m.entities {
			tc.values[i] = append([]Value(nil), e.values...)
		}
		cp.tables[m] = tc
	}
	return cp
}

// Rollback restores the state recorded by cp: rows created since are
// dropped, changed values are put back, and the dirty flag is restored.
// Listeners get one Change per restored table.
func (r *Repo) Rollback(cp *Checkpoint) {
	if cp == nil {
		return
	}
	r.mu.Lock()
	r.metas = append([]*Meta(nil), cp.metas...)
	r.byName = make(map[string]*Meta, len(cp.metas))
	for _, m := range cp.metas {
		r.byName[m.name] = m
		tc := cp.tables[m]
		m.entities = append([]*Entity(nil), tc.entities...)
		m.byID = make(map[uuid.UUID]*Entity, len(tc.entities))
		for i, e := range tc.entities {
			copy(e.values, tc.values[i])
			m.byID[e.id] = e
		}
	}
	r.dirty = cp.dirty
	r.mu.Unlock()

	for _, m := range cp.metas {
		r.notify(Change{Table: m.name})
	}
}
