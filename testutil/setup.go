package testutil

import (
	"path/filepath"
	"testing"

	"github.com/kasuganosora/gamedb/cache"
	"github.com/kasuganosora/gamedb/config"
	dbadapter "github.com/kasuganosora/gamedb/db"
	"github.com/kasuganosora/gamedb/model"
	"github.com/kasuganosora/gamedb/repo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupTestDB creates a SQLite DB in the test's temp dir and runs AutoMigrate.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "journal.db"),
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// SetupTestRepo opens an empty repository in the test's temp dir and seeds:
//
//	Items  {name string, value int}            rows Items0=5, Items1=12
//	Params {Key string, Value string, Type string}
//	       rows CoinMultiplier=1.5 float, Flag=true bool, Title=abc string
func SetupTestRepo(t *testing.T) *repo.Repo {
	t.Helper()
	r, err := repo.Open(filepath.Join(t.TempDir(), "repo.json"), zap.NewNop())
	require.NoError(t, err, "SetupTestRepo: Open")

	items, err := r.AddMeta("Items",
		repo.Field{Name: "name", Kind: repo.KindString},
		repo.Field{Name: "value", Kind: repo.KindInt},
	)
	require.NoError(t, err)
	for _, row := range []struct {
		name  string
		value int64
	}{{"Items0", 5}, {"Items1", 12}} {
		e := items.NewEntity()
		require.NoError(t, e.Set("name", repo.Text(row.name)))
		require.NoError(t, e.Set("value", repo.Int(row.value)))
	}

	params, err := r.AddMeta("Params",
		repo.Field{Name: "Key", Kind: repo.KindString},
		repo.Field{Name: "Value", Kind: repo.KindString},
		repo.Field{Name: "Type", Kind: repo.KindString},
	)
	require.NoError(t, err)
	for _, row := range [][3]string{
		{"CoinMultiplier", "1.5", "float"},
		{"Flag", "true", "bool"},
		{"Title", "abc", "string"},
	} {
		e := params.NewEntity()
		require.NoError(t, e.Set("Key", repo.Text(row[0])))
		require.NoError(t, e.Set("Value", repo.Text(row[1])))
		require.NoError(t, e.Set("Type", repo.Text(row[2])))
	}
	return r
}
