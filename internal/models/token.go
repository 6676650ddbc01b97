package models

import "time"

// Token is a prepaid balance of processing units identified by an opaque id.
type Token struct {
	ID string `gorm:"type:varchar(64);primaryKey"` // Opaque bearer id.

	Balance  int64  `gorm:"not null;default:0"` // Remaining units.
	Used     int64  `gorm:"not null;default:0"` // Units debited so far; never decreases.
	Refunded int64  `gorm:"not null;default:0"` // Units credited back; net spend is Used - Refunded.
	Tier     string `gorm:"type:text"`          // Purchase tier, empty for custom amounts.

	ExpiresAt time.Time `gorm:"not null;index"`          // Token is unusable at or after this instant.
	CreatedAt time.Time `gorm:"not null"`                // Purchase timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last mutation timestamp.
}

// Expired reports whether the token is past its expiry at now.
func (t *Token) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	return !now.Before(t.ExpiresAt)
}
