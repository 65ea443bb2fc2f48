package repo

import (
	"fmt"

	"github.com/google/uuid"
)

// Entity is one row of a table.
type Entity struct {
	meta   *Meta
	id     uuid.UUID
	values []Value
}

func (e *Entity) ID() uuid.UUID { return e.id }
func (e *Entity) Meta() *Meta   { return e.meta }

// Get returns the value of the named field.
func (e *Entity) Get(name string) (Value, error) {
	i, ok := e.meta.index[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, e.meta.name, name)
	}
	e.meta.repo.mu.RLock()
	defer e.meta.repo.mu.RUnlock()
	return e.values[i], nil
}

// GetString returns the display form of the field; unknown fields read as "".
func (e *Entity) GetString(name string) string {
	v, err := e.Get(name)
	if err != nil {
		return ""
	}
	return v.String()
}

// GetInt reads an int field.
func (e *Entity) GetInt(name string) (int64, error) {
	v, err := e.Get(name)
	if err != nil {
		return 0, err
	}
	n, ok := v.Int64()
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s is %s", ErrKindMismatch, e.meta.name, name, v.Kind())
	}
	return n, nil
}

// GetFloat reads a float field; int fields widen.
func (e *Entity) GetFloat(name string) (float64, error) {
	v, err := e.Get(name)
	if err != nil {
		return 0, err
	}
	f, ok := v.Float64()
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s is %s", ErrKindMismatch, e.meta.name, name, v.Kind())
	}
	return f, nil
}

// GetBool reads a bool field.
func (e *Entity) GetBool(name string) (bool, error) {
	v, err := e.Get(name)
	if err != nil {
		return false, err
	}
	b, ok := v.Boolean()
	if !ok {
		return false, fmt.Errorf("%w: %s.%s is %s", ErrKindMismatch, e.meta.name, name, v.Kind())
	}
	return b, nil
}

// Set stores v into the named field. The value must have the field's kind;
// an int is accepted for a float field.
func (e *Entity) Set(name string, v Value) error {
	i, ok := e.meta.index[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrFieldNotFound, e.meta.name, name)
	}
	want := e.meta.fields[i].Kind
	if v.Kind() != want {
		if !(want == KindFloat && v.Kind() == KindInt) {
			return fmt.Errorf("%w: %s.%s is %s, got %s", ErrKindMismatch, e.meta.name, name, want, v.Kind())
		}
		v, _ = convert(v, KindFloat)
	}

	r := e.meta.repo
	r.mu.Lock()
	e.values[i] = v
	r.dirty = true
	r.mu.Unlock()

	r.notify(Change{Table: e.meta.name, EntityID: e.id, Field: name})
	return nil
}

// SetRaw coerces raw into the field's kind and stores it.
func (e *Entity) SetRaw(name string, raw any) error {
	f, ok := e.meta.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrFieldNotFound, e.meta.name, name)
	}
	v, err := Coerce(raw, f.Kind)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.meta.name, name, err)
	}
	return e.Set(name, v)
}

// Values returns a copy of the row as field name -> value.
func (e *Entity) Values() map[string]Value {
	e.meta.repo.mu.RLock()
	defer e.meta.repo.mu.RUnlock()
	out := make(map[string]Value, len(e.values))
	for i, f := range e.meta.fields {
		out[f.Name] = e.values[i]
	}
	return out
}
