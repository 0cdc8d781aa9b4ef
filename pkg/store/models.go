package store

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GORM models used for persistence.
type DrawingSessionModel struct {
	ID                string `gorm:"primaryKey"`
	Kind              string `gorm:"not null;index"`
	OwnerID           string `gorm:"not null;index"`
	OwnerCompany      string
	AssignedID        string `gorm:"index"`
	AssignedName      string
	AssignedLicenceNo string
	Address           string
	PostalCode        string
	BuildingType      string
	SelectedKVA       int
	ApplicationType   string
	SPAccountNo       string
	ApplicantNote     string `gorm:"type:text"`
	SketchFileID      string
	UploadedFileID    string
	StaffNote         string `gorm:"type:text"`
	RevisionComment   string `gorm:"type:text"`
	Status            string `gorm:"not null;index"`
	QuoteAmount       string
	QuoteNote         string         `gorm:"type:text"`
	CreatedAt         time.Time      `gorm:"not null"`
	UpdatedAt         time.Time      `gorm:"not null"`
	DeletedAt         gorm.DeletedAt `gorm:"index"`
}

type ChatMessageModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	SessionID string         `gorm:"not null;index:idx_chat_session_created,priority:1"`
	UserID    string         `gorm:"not null"`
	Role      string         `gorm:"not null"`
	Content   string         `gorm:"type:text;not null"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index:idx_chat_session_created,priority:2"`
}

type FileModel struct {
	ID           string    `gorm:"primaryKey"`
	SessionID    string    `gorm:"not null;index"`
	Kind         string    `gorm:"not null"`
	StoragePath  string    `gorm:"not null"`
	OriginalName string    `gorm:"not null"`
	SizeBytes    int64     `gorm:"not null"`
	UploadedAt   time.Time `gorm:"not null;index"`
}
