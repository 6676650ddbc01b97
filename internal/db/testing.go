package db

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

// OpenTest opens a migrated SQLite database in a per-test temporary directory.
func OpenTest(t testing.TB) *gorm.DB {
	t.Helper()
	conn, errOpen := Open(filepath.Join(t.TempDir(), "broker.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	t.Cleanup(func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}
