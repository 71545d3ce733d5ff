package models

import "time"

// Room links one external user to one dedicated staff-side conversation
// channel, keyed also by a human-readable codename. Channel and user
// identifiers are stored in their canonical decimal string form. Rooms are
// immutable once created; the only mutation is deletion.
type Room struct {
	RoomID    uint   `gorm:"primaryKey;autoIncrement"`
	Codename  string `gorm:"size:64;not null;uniqueIndex"`
	ChannelID string `gorm:"size:32;not null;uniqueIndex"`
	UserID    string `gorm:"size:32;not null;uniqueIndex"`
	CreatedAt time.Time
}
