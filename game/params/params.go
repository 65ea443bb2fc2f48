// Package params turns a key/value/type parameter table into typed values.
package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kasuganosora/gamedb/repo"
	"go.uber.org/zap"
)

// Default column names of a parameter table.
const (
	KeyField   = "Key"
	ValueField = "Value"
	TypeField  = "Type"
)

// Parse converts raw according to typ ("int", "float"/"double", "bool",
// anything else is a string). When raw does not parse, Parse returns raw
// unchanged as a Text value together with the error.
func Parse(key, raw, typ string) (repo.Value, error) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "int", "int32", "int64", "long":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return repo.Text(raw), fmt.Errorf("params: %s: %q is not an int: %w", key, raw, err)
		}
		return repo.Int(n), nil
	case "float", "double", "single":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return repo.Text(raw), fmt.Errorf("params: %s: %q is not a float: %w", key, raw, err)
		}
		return repo.Float(f), nil
	case "bool", "boolean":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return repo.Text(raw), fmt.Errorf("params: %s: %q is not a bool: %w", key, raw, err)
		}
		return repo.Bool(b), nil
	}
	return repo.Text(raw), nil
}

// Table is a parsed parameter table.
type Table map[string]repo.Value

// Float returns the named parameter as a float64. Int parameters widen.
func (t Table) Float(key string, def float64) float64 {
	if v, ok := t[key]; ok {
		if f, ok := v.Float64(); ok {
			return f
		}
	}
	return def
}

// Int returns the named parameter as an int64.
func (t Table) Int(key string, def int64) int64 {
	if v, ok := t[key]; ok {
		if n, ok := v.Int64(); ok {
			return n
		}
	}
	return def
}

func (t Table) Bool(key string, def bool) bool {
	if v, ok := t[key]; ok {
		if b, ok := v.Boolean(); ok {
			return b
		}
	}
	return def
}

func (t Table) String(key, def string) string {
	if v, ok := t[key]; ok {
		return v.String()
	}
	return def
}

// ParseTable reads every row of meta as a parameter. It is rebuilt on every
// call. Rows with an empty key are skipped; values that fail to parse are
// logged and kept as their raw string.
func ParseTable(meta *repo.Meta, keyField, valueField, typeField string, logger *zap.Logger) (Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, f := range []string{keyField, valueField, typeField} {
		if _, ok := meta.Field(f); !ok {
			return nil, fmt.Errorf("%w: %s.%s", repo.ErrFieldNotFound, meta.Name(), f)
		}
	}
	out := make(Table, meta.CountEntities())
	meta.ForEachEntity(func(e *repo.Entity) {
		key := e.GetString(keyField)
		if key == "" {
			return
		}
		v, err := Parse(key, e.GetString(valueField), e.GetString(typeField))
		if err != nil {
			logger.Warn("parameter parse failed, using raw string",
				zap.String("table", meta.Name()),
				zap.String("key", key),
				zap.Error(err))
		}
		out[key] = v
	})
	return out, nil
}

// Load parses the named table with the default column names.
func Load(r *repo.Repo, table string, logger *zap.Logger) (Table, error) {
	meta, err := r.MustMeta(table)
	if err != nil {
		return nil, err
	}
	return ParseTable(meta, KeyField, ValueField, TypeField, logger)
}
