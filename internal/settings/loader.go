package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefreshDBConfigSnapshot reloads all settings from the database and updates the in-memory snapshot.
//
// This is required at process startup; otherwise the getters return their defaults until
// the next refresh.
func RefreshDBConfigSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		if row.UpdatedAt.UTC().After(maxUpdatedAt) {
			maxUpdatedAt = row.UpdatedAt.UTC()
		}
	}

	StoreDBConfig(maxUpdatedAt, values)
	return nil
}

// Put upserts a setting and refreshes the in-memory snapshot.
func Put(ctx context.Context, db *gorm.DB, key string, value any) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("settings: empty key")
	}
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return errMarshal
	}
	row := models.Setting{Key: key, Value: payload, UpdatedAt: time.Now().UTC()}
	if errUpsert := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error; errUpsert != nil {
		return errUpsert
	}
	return RefreshDBConfigSnapshot(ctx, db)
}
