package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/segsight/segsight/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db
}

func TestAllMigrations_VersionsAreUnique(t *testing.T) {
	migrations := AllMigrations()
	versions := make(map[string]bool)

	for _, m := range migrations {
		assert.False(t, versions[m.Version], "duplicate version: %s", m.Version)
		versions[m.Version] = true
	}
}

func TestAllMigrations_VersionsAreOrdered(t *testing.T) {
	migrations := AllMigrations()

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version,
			"migrations should be in ascending version order")
	}
}

func TestMigrator_Up_AllMigrations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(ctx))

	assert.True(t, db.Migrator().HasTable("streams"))
	assert.True(t, db.Migrator().HasTable("providers"))
	assert.True(t, db.Migrator().HasTable("brands"))
	assert.True(t, db.Migrator().HasTable("queue_items"))
	assert.True(t, db.Migrator().HasTable("analyses"))
	assert.True(t, db.Migrator().HasTable("detections"))
	assert.True(t, db.Migrator().HasTable("visual_summaries"))
}

func TestMigrator_Up_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(ctx))
	require.NoError(t, migrator.Up(ctx))

	var count int64
	require.NoError(t, db.Model(&models.Provider{}).Count(&count).Error)
	assert.Equal(t, int64(3), count, "seeding must not run twice")
}

func TestMigrator_Pending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	pending, err := migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, len(AllMigrations()))

	require.NoError(t, migrator.Up(ctx))

	pending, err = migrator.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDefaultProvidersSeeded(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())
	require.NoError(t, migrator.Up(ctx))

	var motion models.Provider
	require.NoError(t, db.Where("provider_type = ?", models.ProviderTypeLocalMotion).First(&motion).Error)
	assert.True(t, motion.Active)
	assert.True(t, motion.HasCapability(models.CapabilityMotionAnalysis))
}
