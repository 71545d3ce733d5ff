// Package room is the persisted mapping of codename ↔ (staff channel,
// external user). Codename, channel, and user are each unique across all
// live rooms; a room is the only path linking a user to a channel.
package room

import (
	"errors"
	"fmt"

	"github.com/zulandar/backchannel/internal/models"
	"github.com/zulandar/backchannel/internal/relay"
	"gorm.io/gorm"
)

// Store reads and writes room rows. Uniqueness is enforced by the database's
// unique indexes at insert time; the store itself never retries. It holds no
// cache across operations.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over an open database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new room. Any uniqueness violation — codename, channel,
// or user already mapped — surfaces as an error; two racing first messages
// from the same user must never produce two rooms.
func (s *Store) Create(codename string, channelID, userID relay.ID) (*models.Room, error) {
	r := models.Room{
		Codename:  codename,
		ChannelID: channelID.String(),
		UserID:    userID.String(),
	}
	if err := s.db.Create(&r).Error; err != nil {
		return nil, fmt.Errorf("room: create %q: %w", codename, err)
	}
	return &r, nil
}

// ByCodename returns the room with this codename, or nil if none exists.
// Codenames are case-sensitive exact-match keys.
func (s *Store) ByCodename(codename string) (*models.Room, error) {
	return s.one("codename = ?", codename)
}

// ByChannel returns the room attached to this staff channel, or nil.
func (s *Store) ByChannel(channelID relay.ID) (*models.Room, error) {
	return s.one("channel_id = ?", channelID.String())
}

// ByUser returns the room attached to this external user, or nil.
func (s *Store) ByUser(userID relay.ID) (*models.Room, error) {
	return s.one("user_id = ?", userID.String())
}

func (s *Store) one(query string, arg string) (*models.Room, error) {
	var r models.Room
	err := s.db.First(&r, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("room: lookup: %w", err)
	}
	return &r, nil
}

// Delete removes the room row. Deleting an already-deleted room is a no-op,
// keeping the close-command/channel-deletion race safe.
func (s *Store) Delete(roomID uint) error {
	if err := s.db.Delete(&models.Room{}, "room_id = ?", roomID).Error; err != nil {
		return fmt.Errorf("room: delete %d: %w", roomID, err)
	}
	return nil
}

// CodenameExists is the cheap existence check used by codename generation.
func (s *Store) CodenameExists(codename string) (bool, error) {
	var n int64
	if err := s.db.Model(&models.Room{}).Where("codename = ?", codename).Count(&n).Error; err != nil {
		return false, fmt.Errorf("room: codename exists %q: %w", codename, err)
	}
	return n > 0, nil
}

// All returns every live room ordered by creation, oldest first. Used by the
// digest and the CLI listing.
func (s *Store) All() ([]models.Room, error) {
	var rooms []models.Room
	if err := s.db.Order("room_id").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("room: list: %w", err)
	}
	return rooms, nil
}

// Count returns the number of live rooms.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.Model(&models.Room{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("room: count: %w", err)
	}
	return n, nil
}
