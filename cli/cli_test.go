package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kasuganosora/gamedb/build"
	"github.com/kasuganosora/gamedb/cache"
	"github.com/kasuganosora/gamedb/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type env struct {
	dir    string
	config string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed")
	require.NoError(t, os.MkdirAll(seed, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "Items.yaml"), []byte(`
fields:
  - {name: name, type: string}
  - {name: value, type: int}
rows:
  - {name: Items0, value: 5}
  - {name: Items1, value: 12}
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "Params.yaml"), []byte(`
fields:
  - {name: Key, type: string}
  - {name: Value, type: string}
  - {name: Type, type: string}
rows:
  - {Key: CoinMultiplier, Value: "1.5", Type: float}
  - {Key: Flag, Value: "true", Type: bool}
`), 0644))

	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf(`
repo:
  data_path: %s
  seed_dir: %s
  export_path: %s
database:
  mode: sqlite
  sqlite_path: %s
simulation:
  seed: 7
binders:
  - name: first
    table: Items
    template: "{name}: {value}"
    kind: template
`,
		filepath.Join(dir, "repo.json"), seed,
		filepath.Join(dir, "export.json"), filepath.Join(dir, "journal.db"))), 0644))
	return &env{dir: dir, config: cfg}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"-c", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func (e *env) asset() string { return filepath.Join(e.dir, "repo.json") }

func TestInitAndDump(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun(t, "init")
	assert.Contains(t, out, "seeded 4 rows from 2 files")
	assert.FileExists(t, e.asset())

	out = e.mustRun(t, "dump", "Items")
	assert.Contains(t, out, "Items (2 rows)")
	assert.Contains(t, out, "[0] name=Items0 value=5")

	out = e.mustRun(t, "init")
	assert.Contains(t, out, "seeding skipped")
	out = e.mustRun(t, "dump", "Items")
	assert.Contains(t, out, "Items (2 rows)")
}

func TestDump_UnknownTable(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init")
	_, err := e.run(t, "dump", "Nope")
	assert.ErrorIs(t, err, repo.ErrTableNotFound)
}

func TestSet(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init")
	out := e.mustRun(t, "set", "Items", "0", "value", "9")
	assert.Contains(t, out, "Items[0].value = 9")
	assert.Contains(t, e.mustRun(t, "dump", "Items"), "name=Items0 value=9")

	_, err := e.run(t, "set", "Items", "0", "value", "nine")
	assert.ErrorIs(t, err, repo.ErrKindMismatch)
}

func TestExportImport(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init")
	out := e.mustRun(t, "export")
	assert.Contains(t, out, "exported 4 rows of 2 tables")
	assert.FileExists(t, filepath.Join(e.dir, "export.json"))

	out = e.mustRun(t, "import")
	assert.Contains(t, out, "imported 4 rows into 2 tables")
	assert.Contains(t, e.mustRun(t, "dump", "Items"), "Items (4 rows)")

	_, err := e.run(t, "import", filepath.Join(e.dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParams(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init")
	out := e.mustRun(t, "params")
	assert.Contains(t, out, "CoinMultiplier = 1.5 (float)")
	assert.Contains(t, out, "Flag = true (bool)")
}

func TestSimulate(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init")
	out := e.mustRun(t, "simulate", "-n", "2")
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("saved")))
	assert.Contains(t, out, "binder first: Items0:")
}

func TestFormat(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init")
	assert.Contains(t, e.mustRun(t, "format"), "json (settings addon enabled)")

	e.mustRun(t, "format", "binary")
	binary, err := repo.IsBinaryAsset(e.asset())
	require.NoError(t, err)
	assert.True(t, binary)
	assert.Contains(t, e.mustRun(t, "format"), "binary")

	_, err = e.run(t, "format", "xml")
	assert.Error(t, err)
}

func TestBuildRun_RevertsFormat(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init")
	probe := filepath.Join(e.dir, "during")
	// The build command records whether the asset is binary while it runs.
	script := fmt.Sprintf(`head -c 4 %q > %q`, e.asset(), probe)
	out := e.mustRun(t, "build", "run", "--", "sh", "-c", script)
	assert.Contains(t, out, "build finished, format json")

	during, err := os.ReadFile(probe)
	require.NoError(t, err)
	assert.NotEqual(t, byte('{'), during[0])

	binary, err := repo.IsBinaryAsset(e.asset())
	require.NoError(t, err)
	assert.False(t, binary)
}

func TestBuildRun_NoCommand(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "build", "run")
	assert.ErrorContains(t, err, "no build command")
}

func TestBuildPre_SwitchesToBinary(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init")
	out := e.mustRun(t, "build", "pre")
	assert.Contains(t, out, "format binary (pending revert: true)")

	// Without Redis the pending mark does not survive the process.
	out = e.mustRun(t, "build", "post")
	assert.Contains(t, out, "format binary")
}

type unreadableFlags struct {
	cache.Cache
}

func (unreadableFlags) Get(context.Context, string) (string, error) {
	return "", errors.New("redis down")
}

func TestReportPending_CacheError(t *testing.T) {
	flags, err := cache.NewCache(cache.CacheConfig{})
	require.NoError(t, err)
	s := build.NewSwitcher(repo.New("", nil), unreadableFlags{flags}, nil, zap.NewNop())

	var out bytes.Buffer
	err = reportPending(context.Background(), &out, s, repo.FormatBinary)
	assert.ErrorContains(t, err, "redis down")
	assert.Empty(t, out.String())
}
