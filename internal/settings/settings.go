// Package settings is the relay's key/value configuration store: named
// settings mapping to external identifiers, with upsert semantics. Absence
// of a key is a valid state meaning the feature is disabled.
package settings

import (
	"errors"
	"fmt"

	"github.com/zulandar/backchannel/internal/models"
	"github.com/zulandar/backchannel/internal/relay"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Well-known setting keys.
const (
	KeyBlockRole = "blockrole" // role/group marking blocked users
	KeyInbox     = "inbox"     // channel under which room channels are created
)

// Store reads and writes settings rows. It holds no cache; every read hits
// the database so concurrent writers are always observed.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over an open database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the raw value for key and whether it is set.
func (s *Store) Get(key string) (string, bool, error) {
	var row models.Setting
	err := s.db.First(&row, "`key` = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return row.Value, true, nil
}

// Set upserts the value for key. Exactly one row exists per key afterward.
func (s *Store) Set(key, value string) error {
	row := models.Setting{Key: key, Value: value}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("settings: set %s: %w", key, result.Error)
	}
	return nil
}

// Unset removes the row for key. Unsetting an absent key is not an error.
func (s *Store) Unset(key string) error {
	if err := s.db.Delete(&models.Setting{}, "`key` = ?", key).Error; err != nil {
		return fmt.Errorf("settings: unset %s: %w", key, err)
	}
	return nil
}

// BlockRole returns the configured block role identifier, if set.
func (s *Store) BlockRole() (relay.ID, bool, error) {
	return s.getID(KeyBlockRole)
}

// SetBlockRole configures the block role.
func (s *Store) SetBlockRole(id relay.ID) error {
	return s.Set(KeyBlockRole, id.String())
}

// UnsetBlockRole removes the block role configuration.
func (s *Store) UnsetBlockRole() error {
	return s.Unset(KeyBlockRole)
}

// Inbox returns the configured inbox channel identifier, if set.
func (s *Store) Inbox() (relay.ID, bool, error) {
	return s.getID(KeyInbox)
}

// SetInbox configures the inbox channel.
func (s *Store) SetInbox(id relay.ID) error {
	return s.Set(KeyInbox, id.String())
}

// UnsetInbox removes the inbox configuration.
func (s *Store) UnsetInbox() error {
	return s.Unset(KeyInbox)
}

// getID reads a setting and parses it as an external identifier. A stored
// value that fails to parse means the store was written by an incompatible
// writer; that is data corruption, not a recoverable condition.
func (s *Store) getID(key string) (relay.ID, bool, error) {
	value, ok, err := s.Get(key)
	if err != nil || !ok {
		return "", ok, err
	}
	id, err := relay.ParseID(value)
	if err != nil {
		return "", false, relay.Internalf("settings: %s: %v", key, err)
	}
	return id, true, nil
}
