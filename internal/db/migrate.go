package db

import (
	"fmt"

	"github.com/Ruzakiff/crazygpt/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the broker tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Token{},
		&models.BatchJob{},
		&models.TelemetrySample{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	if errIndex := conn.Exec(
		"CREATE INDEX IF NOT EXISTS idx_batch_jobs_pending ON batch_jobs (final_charged, status)",
	).Error; errIndex != nil {
		return fmt.Errorf("db: migrate pending index: %w", errIndex)
	}
	return nil
}
