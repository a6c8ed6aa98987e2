package migration

import (
	"fmt"
	"sync"

	"gorm.io/gorm"
)

type step struct {
	name string
	run  func(*Migration) error
}

var (
	steps    []step
	initOnce sync.Once
)

// Migration is passed to each migration step. DB is set by RunAll.
type Migration struct {
	DB   *gorm.DB
	logs []string
}

func (m *Migration) Log(v ...interface{}) {
	m.logs = append(m.logs, fmt.Sprint(v...))
}

func (m *Migration) Logs() []string {
	return append([]string(nil), m.logs...)
}

// Init registers the built-in steps once.
func Init() {
	initOnce.Do(func() {
		register("rename_legacy_client_keys", renameLegacyClientKeys)
	})
}

func register(name string, run func(*Migration) error) {
	steps = append(steps, step{name: name, run: run})
}

// RunAll runs all registered migrations in order. Used for data/behavior one-shots; schema is synced via db.SyncSchema.
func RunAll(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	ctx := &Migration{DB: db}
	for _, s := range steps {
		ctx.logs = nil
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", s.name, err)
		}
	}
	return nil
}

// Releases before the synapse.* namespace stored the client keys bare.
var legacyClientKeys = map[string]string{
	"session_token": "synapse.session_token",
	"workspace_id":  "synapse.workspace_id",
}

func renameLegacyClientKeys(m *Migration) error {
	return m.DB.Transaction(func(tx *gorm.DB) error {
		for oldKey, newKey := range legacyClientKeys {
			var n int64
			if err := tx.Table("config").Where("key = ?", newKey).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				if err := tx.Exec(`DELETE FROM config WHERE key = ?`, oldKey).Error; err != nil {
					return err
				}
				continue
			}
			res := tx.Exec(`UPDATE config SET key = ? WHERE key = ?`, newKey, oldKey)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				m.Log("renamed ", oldKey, " to ", newKey)
			}
		}
		return nil
	})
}
