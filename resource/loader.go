// Package resource loads seed tables into a repository.
//
// A seed directory holds one file per table, named after the table:
//
//	Items.yaml
//	fields:
//	  - {name: name, type: string}
//	  - {name: value, type: int}
//	rows:
//	  - {name: Items0, value: 5}
//
// JSON files use the same shape.
package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kasuganosora/gamedb/repo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// TableFile is the content of one seed file.
type TableFile struct {
	Name   string           `json:"-" yaml:"-"`
	Fields []repo.Field     `json:"fields" yaml:"fields"`
	Rows   []map[string]any `json:"rows" yaml:"rows"`
}

// Stats summarises one Load.
type Stats struct {
	Files   int
	Created int // tables created
	Rows    int
}

// Loader reads a seed directory.
type Loader struct {
	Dir    string
	logger *zap.Logger
}

// NewLoader creates a Loader for dir.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{Dir: dir, logger: logger}
}

func isSeedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Files returns the seed files of the directory sorted by name.
func (l *Loader) Files() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("resource: read %s: %w", l.Dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isSeedFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(l.Dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile parses one seed file. The table name is the base file name
// without its extension.
func ReadFile(path string) (*TableFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resource: read %s: %w", path, err)
	}
	tf := &TableFile{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(tf)
	default:
		err = yaml.Unmarshal(data, tf)
	}
	if err != nil {
		return nil, fmt.Errorf("resource: parse %s: %w", path, err)
	}
	base := filepath.Base(path)
	tf.Name = strings.TrimSuffix(base, filepath.Ext(base))
	return tf, nil
}

type pendingRow struct {
	fields []string
	values []repo.Value
}

type pendingTable struct {
	file *TableFile
	meta *repo.Meta // nil when the table is created by Load
	rows []pendingRow
}

// Load reads every seed file and appends its rows to r. Tables missing from
// r are created with the declared fields; existing tables keep their own
// fields and the file's field list is ignored. All files are validated
// before any row is written, so a failed Load leaves r untouched.
func (l *Loader) Load(r *repo.Repo) (Stats, error) {
	var st Stats
	files, err := l.Files()
	if err != nil {
		return st, err
	}

	tables := make([]pendingTable, 0, len(files))
	for _, path := range files {
		tf, err := ReadFile(path)
		if err != nil {
			return st, err
		}
		pt, err := prepare(r, tf)
		if err != nil {
			return st, fmt.Errorf("resource: %s: %w", path, err)
		}
		tables = append(tables, pt)
	}

	for _, pt := range tables {
		m := pt.meta
		if m == nil {
			if m, err = r.AddMeta(pt.file.Name, pt.file.Fields...); err != nil {
				return st, err
			}
			st.Created++
		}
		for _, row := range pt.rows {
			e := m.NewEntity()
			for i, name := range row.fields {
				if err := e.Set(name, row.values[i]); err != nil {
					return st, err
				}
			}
		}
		st.Rows += len(pt.rows)
		l.logger.Info("seed table loaded",
			zap.String("table", pt.file.Name),
			zap.Int("rows", len(pt.rows)))
	}
	st.Files = len(files)
	return st, nil
}

func prepare(r *repo.Repo, tf *TableFile) (pendingTable, error) {
	pt := pendingTable{file: tf, meta: r.Meta(tf.Name)}

	kinds := make(map[string]repo.Kind)
	if pt.meta != nil {
		for _, f := range pt.meta.Fields() {
			kinds[f.Name] = f.Kind
		}
	} else {
		for _, f := range tf.Fields {
			if _, dup := kinds[f.Name]; dup {
				return pt, fmt.Errorf("duplicate field %q", f.Name)
			}
			kinds[f.Name] = f.Kind
		}
	}

	for i, raw := range tf.Rows {
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		sort.Strings(names)
		row := pendingRow{fields: names, values: make([]repo.Value, len(names))}
		for j, name := range names {
			kind, ok := kinds[name]
			if !ok {
				return pt, fmt.Errorf("row %d: %w: %s.%s", i, repo.ErrFieldNotFound, tf.Name, name)
			}
			v, err := repo.Coerce(raw[name], kind)
			if err != nil {
				return pt, fmt.Errorf("row %d: %s.%s: %w", i, tf.Name, name, err)
			}
			row.values[j] = v
		}
		pt.rows = append(pt.rows, row)
	}
	return pt, nil
}
