package relay

import "github.com/zulandar/backchannel/internal/models"

// RoomStore is the persistence contract the router and dispatcher need.
// Implemented by the room package; every call re-reads current state.
type RoomStore interface {
	Create(codename string, channelID, userID ID) (*models.Room, error)
	ByCodename(codename string) (*models.Room, error)
	ByChannel(channelID ID) (*models.Room, error)
	ByUser(userID ID) (*models.Room, error)
	Delete(roomID uint) error
	All() ([]models.Room, error)
}

// SettingsStore is the configuration contract the router and dispatcher
// need. Implemented by the settings package. Absence of a setting is a
// valid state meaning the feature is disabled.
type SettingsStore interface {
	BlockRole() (ID, bool, error)
	SetBlockRole(id ID) error
	UnsetBlockRole() error
	Inbox() (ID, bool, error)
	SetInbox(id ID) error
	UnsetInbox() error
}

// CodenameGenerator produces pseudonyms that are unique among live rooms at
// generation time. Implemented by the codename package.
type CodenameGenerator interface {
	Generate() (string, error)
}
