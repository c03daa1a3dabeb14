package migrations

import (
	"time"

	"gorm.io/gorm"
)

// streamV1 is the streams table as first created. Later columns are added
// by their own migrations so upgrades and fresh installs converge.
type streamV1 struct {
	ID          string `gorm:"primaryKey;size:36"`
	Name        string `gorm:"size:255;not null"`
	Description string `gorm:"size:2048"`
	Width       int    `gorm:"not null"`
	Height      int    `gorm:"not null"`
	CreatedAt   time.Time
}

func (streamV1) TableName() string { return "streams" }

func migration001Streams() Migration {
	return Migration{
		Version:     "001",
		Description: "Create streams table",
		Up: func(tx *gorm.DB) error {
			return tx.Migrator().CreateTable(&streamV1{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("streams")
		},
	}
}
