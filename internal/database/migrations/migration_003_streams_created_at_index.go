package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/hlsforge/internal/models"
)

const streamsCreatedAtIndex = "idx_streams_created_at"

// migration003StreamsCreatedAtIndex backs the newest-first stream listing.
func migration003StreamsCreatedAtIndex() Migration {
	return Migration{
		Version:     "003",
		Description: "Index streams by creation time",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.Stream{}, streamsCreatedAtIndex) {
				return nil
			}
			return tx.Migrator().CreateIndex(&models.Stream{}, streamsCreatedAtIndex)
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.Stream{}, streamsCreatedAtIndex) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.Stream{}, streamsCreatedAtIndex)
		},
	}
}
