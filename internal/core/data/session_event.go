package data

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionEvent is one entry in the history of a player's visit.
type SessionEvent struct {
	ID         uint64 `gorm:"primaryKey"`
	SessionID  string `gorm:"index; size:36; not null"`
	PlayerID   uint16
	Username   string
	Kind       string `gorm:"not null"`
	PositionX  float32
	PositionY  float32
	PositionZ  float32
	OccurredAt time.Time
}

func RecordSessionEvent(db *gorm.DB, event *SessionEvent) error {
	return db.Create(event).Error
}

// SessionEvents returns the events of one visit in the order they were recorded.
func SessionEvents(db *gorm.DB, sessionID uuid.UUID) ([]SessionEvent, error) {
	var events []SessionEvent
	err := db.Where("session_id = ?", sessionID.String()).Order("id").Find(&events).Error
	return events, err
}
