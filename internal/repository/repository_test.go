package repository

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/segsight/segsight/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database with the full schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Stream{},
		&models.Provider{},
		&models.Brand{},
		&models.QueueItem{},
		&models.Analysis{},
		&models.Detection{},
		&models.VisualSummary{},
	)
	require.NoError(t, err)

	return db
}
