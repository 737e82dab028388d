package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is nil when no database path is configured; callers must treat
// persistence as optional.
var DB *gorm.DB

func Init(dbPath string) error {
	if dbPath == "" {
		return nil
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&SessionRecord{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// PruneSessionRecords deletes closed session records older than the
// retention window. Returns the number of rows removed.
func PruneSessionRecords(retention time.Duration) (int64, error) {
	if DB == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention)
	res := DB.Where("closed_at IS NOT NULL AND closed_at < ?", cutoff).Delete(&SessionRecord{})
	return res.RowsAffected, res.Error
}
