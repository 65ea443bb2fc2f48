package resource

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kasuganosora/gamedb/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestLoad_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "Items.yaml", `
fields:
  - {name: name, type: string}
  - {name: value, type: int}
rows:
  - {name: Items0, value: 5}
  - {name: Items1, value: 12}
`)
	write(t, dir, "Params.json", `{
  "fields": [{"name":"Key","type":"string"},{"name":"Value","type":"string"},{"name":"Type","type":"string"}],
  "rows": [{"Key":"CoinMultiplier","Value":"1.5","Type":"float"}]
}`)
	write(t, dir, "README.md", "ignored")

	r := repo.New("", zap.NewNop())
	st, err := NewLoader(dir, zap.NewNop()).Load(r)
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 2, Created: 2, Rows: 3}, st)
	assert.Equal(t, []string{"Items", "Params"}, r.TableNames())

	items := r.Meta("Items")
	require.Equal(t, 2, items.CountEntities())
	assert.Equal(t, "Items0", items.Entity(0).GetString("name"))
	n, err := items.Entity(1).GetInt("value")
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	assert.Equal(t, "1.5", r.Meta("Params").Entity(0).GetString("Value"))
}

func TestLoad_AppendsToExistingTable(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "Items.yml", "rows:\n  - {value: 7}\n")

	r := repo.New("", zap.NewNop())
	_, err := r.AddMeta("Items", repo.Field{Name: "value", Kind: repo.KindInt})
	require.NoError(t, err)

	st, err := NewLoader(dir, nil).Load(r)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Created)
	assert.Equal(t, 1, r.Meta("Items").CountEntities())
}

func TestLoad_InvalidLeavesRepoUntouched(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "A.yaml", "fields: [{name: n, type: int}]\nrows: [{n: 1}]\n")
	write(t, dir, "B.yaml", "fields: [{name: n, type: int}]\nrows: [{n: nope}]\n")

	r := repo.New("", zap.NewNop())
	_, err := NewLoader(dir, nil).Load(r)
	assert.True(t, errors.Is(err, repo.ErrKindMismatch))
	assert.Empty(t, r.Metas())
}

func TestLoad_UnknownField(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "A.yaml", "fields: [{name: n, type: int}]\nrows: [{m: 1}]\n")
	_, err := NewLoader(dir, nil).Load(repo.New("", nil))
	assert.True(t, errors.Is(err, repo.ErrFieldNotFound))
}

func TestLoad_MissingDir(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "none"), nil).Load(repo.New("", nil))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestReadFile_BadJSON(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "A.json", "{")
	_, err := ReadFile(filepath.Join(dir, "A.json"))
	assert.Error(t, err)
}
