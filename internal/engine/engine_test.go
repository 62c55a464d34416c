package engine

import (
	"context"
	"testing"
	"time"

	"github.com/aethra/reportdesk/internal/database"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// setupTestDB opens an in-memory SQLite database with the system tables migrated.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.RunMigrations(db, nil))
	return db
}

func seedClient(t *testing.T, db *gorm.DB, name string) *models.Client {
	t.Helper()
	c := &models.Client{UUID: uuid.NewString(), Name: name, FirstName: name}
	require.NoError(t, db.Create(c).Error)
	return c
}

func seedUser(t *testing.T, db *gorm.DB, email, role string, clientUUID *string) *models.User {
	t.Helper()
	u := &models.User{UUID: uuid.NewString(), Name: email, Email: email, Role: role, SystemRole: role, ClientID: clientUUID}
	require.NoError(t, db.Create(u).Error)
	return u
}

func newTestService(t *testing.T, db *gorm.DB) *ReportService {
	t.Helper()
	svc := NewReportService(db, nil, nil)
	svc.now = func() time.Time { return testNow }
	t.Cleanup(svc.Wait)
	return svc
}

func content(value string) models.JSONB {
	return models.JSONB{
		"primaryField": map[string]interface{}{"name": "branch_code", "value": value},
	}
}

func uintPtr(v uint) *uint { return &v }

var bg = context.Background()
