package database

import (
	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Invitation{},
		&models.AuditLog{},
		&models.DeliveryLog{},
		&models.CacheEntry{},
	)
}
