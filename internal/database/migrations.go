package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/sketchroom/internal/rooms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillThreadSelectors = "2026-03-11_backfill_thread_selectors"
	migrationRenumberShapePositions  = "2026-04-02_renumber_shape_positions"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillThreadSelectors, apply: backfillThreadSelectors},
		{name: migrationRenumberShapePositions, apply: renumberShapePositions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillThreadSelectors rewrites empty selector columns to an empty JSON list.
func backfillThreadSelectors(db *gorm.DB) error {
	return db.Model(&rooms.ThreadRow{}).
		Where("cursor_selectors = '' OR cursor_selectors = 'null'").
		Update("cursor_selectors", "[]").Error
}

// renumberShapePositions makes positions dense per room, keeping their relative order.
func renumberShapePositions(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var rows []rooms.ShapeRow
		if err := tx.Order("room_id ASC, position ASC, object_id ASC").Find(&rows).Error; err != nil {
			return err
		}
		currentRoom := ""
		var next int64
		for _, row := range rows {
			if row.RoomID != currentRoom {
				currentRoom = row.RoomID
				next = 0
			}
			if row.Position != next {
				err := tx.Model(&rooms.ShapeRow{}).
					Where("room_id = ? AND object_id = ?", row.RoomID, row.ObjectID).
					Update("position", next).Error
				if err != nil {
					return err
				}
			}
			next++
		}
		return nil
	})
}
