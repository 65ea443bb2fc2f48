// Package export writes every table of a repository to a flat JSON document
// and reads such a document back as new rows.
//
// The file shape is
//
//	{"tables": {"<table>": [{"<field>": <value>, ..., "Id": "<uuid>"}, ...]}}
//
// Ids are informational: import lets the repository assign fresh ones.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kasuganosora/gamedb/repo"
)

// IDKey is the synthesized row id key written by Export and skipped by Import.
const IDKey = "Id"

// Row is one exported row: field name to plain JSON value.
type Row map[string]any

// Document is the whole export file.
type Document struct {
	Tables map[string][]Row `json:"tables"`
}

// Stats summarises an export or import.
type Stats struct {
	Tables int `json:"tables"`
	Rows   int `json:"rows"`
}

// Dump builds the export document for every table in r.
func Dump(r *repo.Repo) *Document {
	doc := &Document{Tables: make(map[string][]Row)}
	r.ForEachMeta(func(m *repo.Meta) {
		rows := make([]Row, 0, m.CountEntities())
		m.ForEachEntity(func(e *repo.Entity) {
			row := make(Row, len(m.Fields())+1)
			for name, v := range e.Values() {
				row[name] = v.Interface()
			}
			row[IDKey] = e.ID().String()
			rows = append(rows, row)
		})
		doc.Tables[m.Name()] = rows
	})
	return doc
}

func (d *Document) Stats() Stats {
	s := Stats{Tables: len(d.Tables)}
	for _, rows := range d.Tables {
		s.Rows += len(rows)
	}
	return s
}

// Export writes Dump(r) to path as indented JSON.
func Export(r *repo.Repo, path string) (Stats, error) {
	doc := Dump(r)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Stats{}, fmt.Errorf("export: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Stats{}, fmt.Errorf("export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Stats{}, fmt.Errorf("export: write %s: %w", path, err)
	}
	return doc.Stats(), nil
}

// Read parses an export file. Numbers are kept as json.Number so large
// integers survive until they are coerced to the field kind.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("export: read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	doc := &Document{}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("export: parse %s: %w", path, err)
	}
	if doc.Tables == nil {
		return nil, fmt.Errorf("export: parse %s: %w", path, errors.New(`missing "tables"`))
	}
	return doc, nil
}

// Import reads path and appends its rows to r.
func Import(r *repo.Repo, path string) (Stats, error) {
	doc, err := Read(path)
	if err != nil {
		return Stats{}, err
	}
	return Apply(r, doc)
}

type pendingRow struct {
	meta   *repo.Meta
	values map[string]repo.Value
}

// Apply appends every row of doc to the matching table of r. The whole
// document is checked first, so an unknown table, an unknown field or a
// value of the wrong kind leaves r untouched.
func Apply(r *repo.Repo, doc *Document) (Stats, error) {
	names := make([]string, 0, len(doc.Tables))
	for name := range doc.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var pending []pendingRow
	for _, name := range names {
		m, err := r.MustMeta(name)
		if err != nil {
			return Stats{}, fmt.Errorf("import: %w", err)
		}
		for i, row := range doc.Tables[name] {
			values := make(map[string]repo.Value, len(row))
			for field, raw := range row {
				if field == IDKey {
					continue
				}
				f, ok := m.Field(field)
				if !ok {
					return Stats{}, fmt.Errorf("import: %s[%d]: %w: %s", name, i, repo.ErrFieldNotFound, field)
				}
				v, err := repo.Coerce(raw, f.Kind)
				if err != nil {
					return Stats{}, fmt.Errorf("import: %s[%d].%s: %w", name, i, field, err)
				}
				values[field] = v
			}
			pending = append(pending, pendingRow{meta: m, values: values})
		}
	}

	for _, p := range pending {
		e := p.meta.NewEntity()
		for field, v := range p.values {
			if err := e.Set(field, v); err != nil {
				return Stats{}, fmt.Errorf("import: %s.%s: %w", p.meta.Name(), field, err)
			}
		}
	}
	return Stats{Tables: len(names), Rows: len(pending)}, nil
}
