package settings

import (
	"testing"

	"github.com/zulandar/backchannel/internal/models"
	"github.com/zulandar/backchannel/internal/relay"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Setting{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestGetUnsetKey(t *testing.T) {
	store := NewStore(openTestDB(t))

	value, ok, err := store.Get(KeyInbox)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok || value != "" {
		t.Errorf("unset key = %q, %v", value, ok)
	}
}

func TestSetOverwritesExisting(t *testing.T) {
	store := NewStore(openTestDB(t))

	if err := store.Set(KeyInbox, "chan-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	// Setting the same key again replaces, it does not duplicate.
	if err := store.Set(KeyInbox, "chan-2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	value, ok, err := store.Get(KeyInbox)
	if err != nil || !ok {
		t.Fatalf("get after overwrite: %q, %v, %v", value, ok, err)
	}
	if value != "chan-2" {
		t.Errorf("value = %q, want chan-2", value)
	}
}

func TestUnsetIsIdempotent(t *testing.T) {
	store := NewStore(openTestDB(t))
	store.Set(KeyBlockRole, "role-1")

	if err := store.Unset(KeyBlockRole); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if _, ok, _ := store.Get(KeyBlockRole); ok {
		t.Error("expected key gone after unset")
	}
	// Unsetting an absent key succeeds.
	if err := store.Unset(KeyBlockRole); err != nil {
		t.Fatalf("unset absent: %v", err)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	store := NewStore(openTestDB(t))
	store.Set(KeyBlockRole, "role-1")
	store.Set(KeyInbox, "chan-1")

	if err := store.Unset(KeyBlockRole); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if value, ok, _ := store.Get(KeyInbox); !ok || value != "chan-1" {
		t.Errorf("inbox after unrelated unset = %q, %v", value, ok)
	}
}

func TestTypedAccessors(t *testing.T) {
	store := NewStore(openTestDB(t))

	if _, ok, err := store.BlockRole(); err != nil || ok {
		t.Fatalf("block role before set: %v, %v", ok, err)
	}

	if err := store.SetBlockRole("role-7"); err != nil {
		t.Fatalf("set block role: %v", err)
	}
	role, ok, err := store.BlockRole()
	if err != nil || !ok || role != relay.ID("role-7") {
		t.Errorf("block role = %q, %v, %v", role, ok, err)
	}

	if err := store.SetInbox("chan-inbox"); err != nil {
		t.Fatalf("set inbox: %v", err)
	}
	inbox, ok, err := store.Inbox()
	if err != nil || !ok || inbox != relay.ID("chan-inbox") {
		t.Errorf("inbox = %q, %v, %v", inbox, ok, err)
	}

	if err := store.UnsetBlockRole(); err != nil {
		t.Fatalf("unset block role: %v", err)
	}
	if _, ok, _ := store.BlockRole(); ok {
		t.Error("expected block role cleared")
	}
	if _, ok, _ := store.Inbox(); !ok {
		t.Error("inbox must survive block role unset")
	}
}

func TestCorruptedIDSurfacesAsInternal(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)

	// Bypass the store to plant a malformed value.
	if err := db.Create(&models.Setting{Key: KeyInbox, Value: "has space"}).Error; err != nil {
		t.Fatalf("plant corrupt row: %v", err)
	}

	_, _, err := store.Inbox()
	if err == nil {
		t.Fatal("expected error for corrupt identifier")
	}
	if relay.KindOf(err) != relay.KindInternal {
		t.Errorf("expected internal error, got kind %v", relay.KindOf(err))
	}
}
