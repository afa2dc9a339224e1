package data

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlayerRecord is what the server remembers about a username between sessions.
type PlayerRecord struct {
	ID uint64 `gorm:"primaryKey"`
	// NormalizedName is the lowercased username; names are unique regardless of case.
	NormalizedName string `gorm:"uniqueIndex; not null"`
	Username       string `gorm:"not null"`
	LastPlayerID   uint16
	PositionX      float32
	PositionY      float32
	PositionZ      float32
	LastSeen       time.Time `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func normalizeUsername(username string) string {
	return strings.ToLower(username)
}

// FindPlayerRecord returns the record for username, compared case-insensitively,
// or nil if there is none.
func FindPlayerRecord(db *gorm.DB, username string) (*PlayerRecord, error) {
	var record PlayerRecord
	err := db.Where("normalized_name = ?", normalizeUsername(username)).First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &record, nil
}

// SavePlayerRecord creates the record for record.Username or replaces the stored
// position and last seen details of an existing one.
func SavePlayerRecord(db *gorm.DB, record *PlayerRecord) error {
	record.NormalizedName = normalizeUsername(record.Username)
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "normalized_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "last_player_id", "position_x", "position_y", "position_z", "last_seen", "updated_at",
		}),
	}).Create(record).Error
}

// RecentPlayerRecords returns every record seen at or after since, most recent first.
// A zero since returns every record.
func RecentPlayerRecords(db *gorm.DB, since time.Time) ([]PlayerRecord, error) {
	var records []PlayerRecord
	query := db.Order("last_seen desc")
	if !since.IsZero() {
		query = query.Where("last_seen >= ?", since)
	}
	err := query.Find(&records).Error
	return records, err
}
