package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

var (
	globalMu  sync.Mutex
	globalDB  *gorm.DB
	globalDSN string
)

// Open opens the sqlite file at dsn and brings its schema up to date.
func Open(dsn string) (*gorm.DB, error) {
	gdb, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(gdb); err != nil {
		_ = closeDB(gdb)
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return gdb, nil
}

// InitGlobal sets the process-wide client database. Reopening the same dsn
// is a no-op.
func InitGlobal(dsn string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return errors.New("db path is required")
	}
	if globalDB != nil && globalDSN == dsn {
		return nil
	}
	if globalDB != nil {
		_ = closeDB(globalDB)
		globalDB = nil
	}
	gdb, err := Open(dsn)
	if err != nil {
		return err
	}
	globalDB = gdb
	globalDSN = dsn
	return nil
}

// Global returns the process-wide DB. Caller must not close it.
func Global() (*gorm.DB, error) {
	globalMu.Lock()
	gdb := globalDB
	globalMu.Unlock()
	if gdb == nil {
		return nil, errors.New("global DB not initialized: call InitGlobal first")
	}
	return gdb, nil
}

func CloseGlobal() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalDB == nil {
		return nil
	}
	err := closeDB(globalDB)
	globalDB = nil
	globalDSN = ""
	return err
}

func openSQLite(dsn string) (*gorm.DB, error) {
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	return gdb, nil
}

func closeDB(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
