package main

import (
	"gorm.io/gorm"

	"github.com/deployflow/engine/internal/models"
)

// registerModels returns all models that need migration
func registerModels() []any {
	return []any{
		&models.User{},
		&models.Flow{},
		&models.FlowGraph{},
		&models.Deployment{},
	}
}

// runMigrations executes all database migrations
func runMigrations(db *gorm.DB) error {
	// gen_random_uuid() defaults need pgcrypto before any table is created.
	if err := enableUUIDExtension(db); err != nil {
		return err
	}

	if err := db.AutoMigrate(registerModels()...); err != nil {
		return err
	}

	return runCustomMigrations(db)
}

// runCustomMigrations handles schema changes AutoMigrate can't handle
func runCustomMigrations(db *gorm.DB) error {
	migrations := []func(*gorm.DB) error{
		addCurrentGraphIndex,
		addDeploymentIndexes,
	}

	for _, migration := range migrations {
		if err := migration(db); err != nil {
			return err
		}
	}

	return nil
}

// enableUUIDExtension ensures UUID generation is available
func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}

// addCurrentGraphIndex allows at most one current graph version per flow.
func addCurrentGraphIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_flow_graphs_current
		ON flow_graphs(flow_id)
		WHERE is_current AND deleted_at IS NULL
	`).Error
}

// addDeploymentIndexes speeds up the latest-deployment lookup per flow.
func addDeploymentIndexes(db *gorm.DB) error {
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployments_flow_created
		ON deployments(flow_id, created_at DESC)
		WHERE deleted_at IS NULL
	`).Error
}
