// Package binder renders repository rows into text targets and keeps them
// current as rows change.
package binder

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kasuganosora/gamedb/config"
	"github.com/kasuganosora/gamedb/repo"
)

// ErrRowNotFound is returned when a binder's row does not exist.
var ErrRowNotFound = errors.New("binder: row not found")

// Kind selects how a binder renders its row.
type Kind string

const (
	KindField    Kind = "field"    // one field
	KindTemplate Kind = "template" // "{field}" placeholders
	KindRow      Kind = "row"      // every field as name=value
)

// Target receives rendered text.
type Target interface {
	SetText(text string)
}

// TextField is an in-memory Target safe for concurrent use.
type TextField struct {
	mu      sync.RWMutex
	text    string
	updates int
}

func (f *TextField) SetText(text string) {
	f.mu.Lock()
	f.text = text
	f.updates++
	f.mu.Unlock()
}

func (f *TextField) Text() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.text
}

// Updates returns how many times SetText has been called.
func (f *TextField) Updates() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.updates
}

// Binder links one row of a table to a Target. The row is RowID when set,
// otherwise the row at index Row.
type Binder struct {
	Name     string
	Kind     Kind
	Table    string
	Row      int
	RowID    uuid.UUID
	Field    string
	Template string
	Target   Target
}

// FromConfig builds binders with a fresh TextField target each.
func FromConfig(cfgs []config.BinderConfig) ([]*Binder, error) {
	out := make([]*Binder, 0, len(cfgs))
	for i, c := range cfgs {
		b := &Binder{
			Name:     c.Name,
			Kind:     Kind(c.Kind),
			Table:    c.Table,
			Row:      c.Row,
			Field:    c.Field,
			Template: c.Template,
			Target:   &TextField{},
		}
		if b.Name == "" {
			b.Name = fmt.Sprintf("binder%d", i)
		}
		if b.Kind == "" {
			b.Kind = KindField
		}
		if c.RowID != "" {
			id, err := uuid.Parse(c.RowID)
			if err != nil {
				return nil, fmt.Errorf("binder %s: row_id: %w", b.Name, err)
			}
			b.RowID = id
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (b *Binder) Validate() error {
	if b.Table == "" {
		return fmt.Errorf("binder %s: table is required", b.Name)
	}
	switch b.Kind {
	case KindField:
		if b.Field == "" {
			return fmt.Errorf("binder %s: field is required", b.Name)
		}
	case KindTemplate:
		if b.Template == "" {
			return fmt.Errorf("binder %s: template is required", b.Name)
		}
	case KindRow:
	default:
		return fmt.Errorf("binder %s: unknown kind %q", b.Name, b.Kind)
	}
	if b.Target == nil {
		return fmt.Errorf("binder %s: no target", b.Name)
	}
	return nil
}

func (b *Binder) entity(r *repo.Repo) (*repo.Entity, error) {
	m, err := r.MustMeta(b.Table)
	if err != nil {
		return nil, err
	}
	var e *repo.Entity
	if b.RowID != uuid.Nil {
		e = m.EntityByID(b.RowID)
	} else {
		e = m.Entity(b.Row)
	}
	if e == nil && b.RowID != uuid.Nil {
		return nil, fmt.Errorf("%w: %s row %s", ErrRowNotFound, b.Table, b.RowID)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s row %d", ErrRowNotFound, b.Table, b.Row)
	}
	return e, nil
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render produces the binder's text from the current row.
func (b *Binder) Render(r *repo.Repo) (string, error) {
	e, err := b.entity(r)
	if err != nil {
		return "", err
	}
	switch b.Kind {
	case KindField:
		v, err := e.Get(b.Field)
		if err != nil {
			return "", err
		}
		return v.String(), nil
	case KindTemplate:
		return renderTemplate(b.Template, e), nil
	case KindRow:
		fields := e.Meta().Fields()
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = f.Name + "=" + e.GetString(f.Name)
		}
		return strings.Join(parts, ", "), nil
	}
	return "", fmt.Errorf("binder %s: unknown kind %q", b.Name, b.Kind)
}

// renderTemplate replaces {field} with the field value and {Id} with the row
// id. Placeholders naming no field are left as written.
func renderTemplate(tmpl string, e *repo.Entity) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		if v, err := e.Get(name); err == nil {
			return v.String()
		}
		if name == "Id" {
			return e.ID().String()
		}
		return m
	})
}
