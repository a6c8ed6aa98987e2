package db

import (
	"errors"

	"synapse/cli/internal/db/migration"

	"gorm.io/gorm"
)

// SyncSchema creates/updates tables from models. Table structure changes do not use versioned migrations.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	return db.AutoMigrate(&Config{})
}

// MigrateUp syncs schema then runs data migrations.
func MigrateUp(db *gorm.DB) error {
	if err := SyncSchema(db); err != nil {
		return err
	}
	migration.Init()
	return migration.RunAll(db)
}
