package models

// Setting is a single key/value configuration row. At most one row exists
// per key; absence of a key means the feature is disabled.
type Setting struct {
	Key   string `gorm:"primaryKey;size:32"`
	Value string `gorm:"size:128;not null"`
}
