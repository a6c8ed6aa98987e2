// Package clientstate persists the two values that survive a restart: the
// hub resumption token and the selected workspace id.
package clientstate

import (
	"errors"
	"strings"
	"time"

	dbmodel "synapse/cli/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	KeySessionToken = "synapse.session_token"
	KeyWorkspaceID  = "synapse.workspace_id"
)

var errNotInitialized = errors.New("client state store is not initialized")

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore uses the shared global DB. Caller must not close the db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Token returns the stored resumption token, or "" when none is stored.
func (s *Store) Token() (string, error) {
	return s.value(KeySessionToken)
}

// SaveToken stores token verbatim, replacing any previous value.
func (s *Store) SaveToken(token string) error {
	if token == "" {
		return errors.New("token is required")
	}
	return s.put(KeySessionToken, token)
}

func (s *Store) WorkspaceID() (string, error) {
	v, err := s.value(KeyWorkspaceID)
	return strings.TrimSpace(v), err
}

func (s *Store) SaveWorkspaceID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return s.ClearWorkspaceID()
	}
	return s.put(KeyWorkspaceID, id)
}

func (s *Store) ClearWorkspaceID() error {
	return s.remove(KeyWorkspaceID)
}

// Reset forgets both the token and the workspace selection.
func (s *Store) Reset() error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return s.db.Where("key IN ?", []string{KeySessionToken, KeyWorkspaceID}).Delete(&dbmodel.Config{}).Error
}

func (s *Store) value(key string) (string, error) {
	if s == nil || s.db == nil {
		return "", errNotInitialized
	}
	var row dbmodel.Config
	err := s.db.Model(&dbmodel.Config{}).Select("value").Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

func (s *Store) put(key, value string) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	row := dbmodel.Config{
		Key:       key,
		Value:     value,
		UpdatedAt: s.now().UTC().Unix(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
}

func (s *Store) remove(key string) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return s.db.Where("key = ?", key).Delete(&dbmodel.Config{}).Error
}
