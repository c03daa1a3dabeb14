package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/hlsforge/internal/models"
)

// mediaInfoColumns are the models.Stream fields written when a transcode finishes.
var mediaInfoColumns = []string{"SegmentCount", "DurationMs", "Codecs", "BytesIn", "FinishedAt"}

// migration002StreamMediaInfo adds the columns describing the produced HLS output.
func migration002StreamMediaInfo() Migration {
	return Migration{
		Version:     "002",
		Description: "Add transcode result columns to streams",
		Up: func(tx *gorm.DB) error {
			m := tx.Migrator()
			for _, field := range mediaInfoColumns {
				if m.HasColumn(&models.Stream{}, field) {
					continue
				}
				if err := m.AddColumn(&models.Stream{}, field); err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(tx *gorm.DB) error {
			m := tx.Migrator()
			for _, field := range mediaInfoColumns {
				if !m.HasColumn(&models.Stream{}, field) {
					continue
				}
				if err := m.DropColumn(&models.Stream{}, field); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
