package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/plannerlab/draftsync/internal/cache"
)

const migrationPruneStaleSessionRecords = "2026-07-14_prune_stale_session_records"

const staleSessionRetention = 30 * 24 * time.Hour

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
		{name: migrationPruneStaleSessionRecords, apply: pruneStaleSessionRecords},
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

// Session-keyed records are recovery tickets for documents that never got a
// server id; once abandoned long enough they are unrecoverable noise.
func pruneStaleSessionRecords(db *gorm.DB) error {
	cutoff := time.Now().UTC().Add(-staleSessionRetention).Unix()
	return db.Where("key LIKE ? AND saved_at_s < ?", "session:%", cutoff).
		Delete(&cache.Record{}).Error
}
