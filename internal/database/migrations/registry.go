// Package migrations provides database migration management for segsight.
package migrations

import (
	"github.com/segsight/segsight/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
// - 001: Schema creation using GORM AutoMigrate
// - 002: Seed default local providers
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002DefaultProviders(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			// AutoMigrate all models in dependency order
			return tx.AutoMigrate(
				&models.Stream{},
				&models.Provider{},
				&models.Brand{},
				&models.QueueItem{},
				&models.Analysis{},
				&models.Detection{},
				&models.VisualSummary{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"visual_summaries",
				"detections",
				"analyses",
				"queue_items",
				"brands",
				"providers",
				"streams",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration002DefaultProviders seeds the built-in local providers so a fresh
// installation can analyze segments without any configuration.
func migration002DefaultProviders() Migration {
	return Migration{
		Version:     "002",
		Description: "Seed default local providers",
		Up: func(tx *gorm.DB) error {
			providers := []models.Provider{
				{
					Name:            "Local Object Detector",
					ProviderType:    models.ProviderTypeLocalObject,
					ModelIdentifier: "yolov8n",
					Capabilities:    models.CapabilityList{models.CapabilityObjectDetection},
					Active:          true,
				},
				{
					Name:            "Local Logo Classifier",
					ProviderType:    models.ProviderTypePromptClassifier,
					ModelIdentifier: "clip-vit-base-patch32",
					Capabilities:    models.CapabilityList{models.CapabilityLogoDetection},
					Active:          true,
				},
				{
					Name:         "Local Motion Analyzer",
					ProviderType: models.ProviderTypeLocalMotion,
					Capabilities: models.CapabilityList{models.CapabilityMotionAnalysis},
					Active:       true,
				},
			}
			for _, p := range providers {
				if err := tx.Create(&p).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(tx *gorm.DB) error {
			names := []string{"Local Object Detector", "Local Logo Classifier", "Local Motion Analyzer"}
			return tx.Where("name IN ?", names).Delete(&models.Provider{}).Error
		},
	}
}
