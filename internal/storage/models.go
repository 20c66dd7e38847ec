package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Report is one abuse report. Reports are never read back during signaling.
type Report struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReporterID   string    `gorm:"type:text;not null;index"`
	ReportedID   string    `gorm:"type:text;not null;index"`
	ReportedName string    `gorm:"type:text"`
	Reason       string    `gorm:"type:text"`
	Status       string    `gorm:"type:text;not null;default:new"`
	CreatedAt    time.Time
}

// FriendRequest records one partner asking the other to stay in touch.
type FriendRequest struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	FromUser  string    `gorm:"type:text;not null;index:idx_friend_pair"`
	ToUser    string    `gorm:"type:text;not null;index:idx_friend_pair"`
	Username  string    `gorm:"type:text"`
	CreatedAt time.Time
}

func (r *Report) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = "new"
	}
	return nil
}

func (f *FriendRequest) BeforeCreate(*gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
