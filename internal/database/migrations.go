package database

import (
	"fmt"
	"time"

	"github.com/aethra/reportdesk/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MigrationRecord tracks which migrations have been applied
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:255"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for migrations
func (MigrationRecord) TableName() string {
	return "_reportdesk_migrations"
}

// Migration is one ordered step over the static tables.
type Migration struct {
	Name string
	Up   func(tx *gorm.DB) error
}

// Migrations is the ordered list applied by RunMigrations. Append only.
var Migrations = []Migration{
	{
		Name: "001_clients_users_sessions",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Client{}, &models.User{}, &models.Session{})
		},
	},
	{
		Name: "002_user_performance",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.UserPerformance{})
		},
	},
	{
		Name: "003_tenant_schema_versions",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.TenantSchemaVersion{})
		},
	},
	{
		Name: "004_user_performance_reporting_index",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.UserPerformance{}, "idx_user_performance_user_created") {
				return nil
			}
			return tx.Exec("CREATE INDEX idx_user_performance_user_created ON user_performance (user_id, created_at)").Error
		},
	},
}

// RunMigrations executes all pending migrations
func RunMigrations(db *gorm.DB, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	// Ensure migrations table exists
	if err := db.AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range Migrations {
		var count int64
		if err := db.Model(&MigrationRecord{}).Where("name = ?", m.Name).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.Name, err)
		}
		if count > 0 {
			log.Debug("migration already applied", zap.String("migration", m.Name))
			continue
		}

		log.Info("applying migration", zap.String("migration", m.Name))
		if err := m.Up(db); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Name, err)
		}

		if err := db.Create(&MigrationRecord{Name: m.Name}).Error; err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
	}

	return nil
}
