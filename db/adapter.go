package db

import (
	"fmt"

	"github.com/kasuganosora/gamedb/config"
	dbmysql "github.com/kasuganosora/gamedb/db/mysql"
	dbsqlite "github.com/kasuganosora/gamedb/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeSQLite = "sqlite"
	ModeMySQL  = "mysql"
	ModeNone   = "none"
)

// Open returns a *gorm.DB for the configured database mode.
// ModeNone returns (nil, nil); callers run without a journal.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeNone, "":
		return nil, nil
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MySQLMaxOpen, cfg.MySQLMaxIdle, cfg.MySQLMaxLife)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
