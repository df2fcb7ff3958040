package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BookModel struct {
	ID             string `gorm:"primaryKey"`
	Title          string `gorm:"not null"`
	SourceFilename string `gorm:"not null"`
	StorageKey     string
	TextKey        string
	Outline        datatypes.JSON
	Status         string `gorm:"not null"`
	ErrorMessage   string
	SizeBytes      int64     `gorm:"not null"`
	PageCount      int       `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null;index"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type PageMapModel struct {
	BookID      string `gorm:"primaryKey"`
	PageNumber  int    `gorm:"primaryKey;autoIncrement:false"`
	StartOffset int    `gorm:"not null"`
	EndOffset   int    `gorm:"not null"`
}

type ThreadModel struct {
	ID         string  `gorm:"primaryKey"`
	BookID     string  `gorm:"not null;index"`
	Title      *string
	ProviderID string    `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null;index"`
}

// MessageModel ids are ULIDs, so ordering by id breaks created_at ties in
// insertion order.
type MessageModel struct {
	ID        string `gorm:"primaryKey"`
	ThreadID  string `gorm:"not null;index:idx_message_thread_created,priority:1"`
	Role      string `gorm:"not null"`
	Content   string `gorm:"type:text;not null"`
	Meta      datatypes.JSON
	CreatedAt time.Time `gorm:"not null;index:idx_message_thread_created,priority:2"`
}

type ProviderModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Type      string `gorm:"not null"`
	BaseURL   string
	Model     string    `gorm:"not null"`
	APIKeyEnc string    `gorm:"not null"`
	IsActive  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
