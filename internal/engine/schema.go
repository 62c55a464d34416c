// Package engine holds the tenant-scoped report core: tenant resolution,
// per-tenant table management, report identity, lifecycle, performance
// tracking and branch-scoped visibility.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/metrics"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/aethra/reportdesk/internal/security"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TableManager creates and evolves the per-tenant tables.
type TableManager struct {
	db      *gorm.DB
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewTableManager creates a new table manager
func NewTableManager(db *gorm.DB, m *metrics.Metrics, log *zap.Logger) *TableManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &TableManager{db: db, metrics: m, log: log}
}

// TableInfo describes a tenant table after an ensure call.
type TableInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Created bool     `json:"created"`
}

// =============================================================================
// REPORT TABLES
// =============================================================================

// tableStep is one idempotent evolution step of the report table layout.
type tableStep struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, m *TableManager, table string, cols columnSet) error
}

// reportTableSteps bring a report table created by any earlier release up to
// the current layout. Append only; versions must increase.
var reportTableSteps = []tableStep{
	{1, "primary_field_name", addColumnStep("primary_field_name", func(t sqlTypes) string {
		return "VARCHAR(100) NOT NULL DEFAULT '" + DefaultPrimaryFieldName + "'"
	})},
	{2, "primary_field_value", addColumnStep("primary_field_value", func(sqlTypes) string { return "VARCHAR(255) NULL" })},
	{3, "video_url", addColumnStep("video_url", func(sqlTypes) string { return "TEXT NULL" })},
	{4, "audio_url", addColumnStep("audio_url", func(sqlTypes) string { return "TEXT NULL" })},
	{5, "images_urls", addColumnStep("images_urls", func(t sqlTypes) string { return t.JSON + " NULL" })},
	{6, "timestamp_url", addColumnStep("timestamp_url", func(sqlTypes) string { return "TEXT NULL" })},
	{7, "backfill_primary_field_value", backfillPrimaryFieldValue},
}

// ReportTableVersion is the layout version of a freshly created report table.
var ReportTableVersion = reportTableSteps[len(reportTableSteps)-1].Version

// EnsureReportsTable guarantees {prefix}_reports exists with the current
// layout and returns its name. Steps already recorded for the table are not
// re-checked.
func (m *TableManager) EnsureReportsTable(ctx context.Context, prefix string) (string, error) {
	table := ReportsTable(prefix)
	if err := security.ValidateIdentifier(table); err != nil {
		return "", apperrors.NewValidationError("table", err.Error())
	}
	db := m.db.WithContext(ctx)

	exists, err := m.TableExists(ctx, table)
	if err != nil {
		return "", apperrors.NewSchemaError(table, err)
	}

	if !exists {
		defer m.metrics.TrackDBOperation("create_report_table")()
		if err := db.Exec(m.reportTableDDL(table)).Error; err != nil {
			return "", apperrors.NewSchemaError(table, err)
		}
		m.metrics.SchemaChange("create_table")
		m.log.Info("created tenant report table", zap.String("table", table))
		if err := m.recordVersion(db, table, ReportTableVersion); err != nil {
			return "", apperrors.NewSchemaError(table, err)
		}
		return table, nil
	}

	version, err := m.recordedVersion(db, table)
	if err != nil {
		return "", apperrors.NewSchemaError(table, err)
	}
	if version >= ReportTableVersion {
		return table, nil
	}

	cols, err := m.columnSet(ctx, table)
	if err != nil {
		return "", apperrors.NewSchemaError(table, err)
	}
	for _, step := range reportTableSteps {
		if step.Version <= version {
			continue
		}
		if err := step.Apply(ctx, m, table, cols); err != nil {
			return "", apperrors.NewSchemaError(table, fmt.Errorf("step %d (%s): %w", step.Version, step.Name, err))
		}
	}
	if err := m.recordVersion(db, table, ReportTableVersion); err != nil {
		return "", apperrors.NewSchemaError(table, err)
	}
	m.log.Info("evolved tenant report table",
		zap.String("table", table),
		zap.Int("from_version", version),
		zap.Int("to_version", ReportTableVersion))
	return table, nil
}

func (m *TableManager) reportTableDDL(table string) string {
	t := m.types()
	columns := []string{
		"id " + t.AutoID,
		"client_id VARCHAR(255) NOT NULL",
		"template_name VARCHAR(255) NOT NULL",
		"primary_field_name VARCHAR(100) NOT NULL DEFAULT '" + DefaultPrimaryFieldName + "'",
		"primary_field_value VARCHAR(255) NULL",
		"colors " + t.JSON + " NULL",
		"content " + t.JSON + " NULL",
		"status VARCHAR(50) NOT NULL DEFAULT 'draft'",
		"created_by " + t.UserRef + " NULL",
		"updated_by " + t.UserRef + " NULL",
		"created_at " + t.Timestamp + " NOT NULL DEFAULT CURRENT_TIMESTAMP",
		"updated_at " + t.Timestamp + " NOT NULL DEFAULT CURRENT_TIMESTAMP" + t.OnUpdate,
		"video_url TEXT NULL",
		"audio_url TEXT NULL",
		"images_urls " + t.JSON + " NULL",
		"timestamp_url TEXT NULL",
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", m.quote(table), strings.Join(columns, ",\n  "))
}

func addColumnStep(column string, definition func(sqlTypes) string) func(context.Context, *TableManager, string, columnSet) error {
	return func(ctx context.Context, m *TableManager, table string, cols columnSet) error {
		if cols.has(column) {
			return nil
		}
		sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.quote(table), m.quote(column), definition(m.types()))
		if err := m.db.WithContext(ctx).Exec(sql).Error; err != nil {
			// A concurrent request may have added the column first.
			if fresh, cerr := m.columnSet(ctx, table); cerr == nil && fresh.has(column) {
				cols[column] = true
				return nil
			}
			return err
		}
		cols[column] = true
		m.metrics.SchemaChange("add_column")
		m.log.Info("added tenant column", zap.String("table", table), zap.String("column", column))
		return nil
	}
}

// backfillPrimaryFieldValue copies a legacy branch_code into rows whose
// primary_field_value is still NULL. Rows that already carry a value are never touched.
func backfillPrimaryFieldValue(ctx context.Context, m *TableManager, table string, cols columnSet) error {
	if !cols.has("branch_code") {
		return nil
	}
	sql := fmt.Sprintf("UPDATE %s SET primary_field_value = %s WHERE primary_field_value IS NULL AND %s IS NOT NULL",
		m.quote(table), m.quote("branch_code"), m.quote("branch_code"))
	res := m.db.WithContext(ctx).Exec(sql)
	if res.Error != nil {
		return res.Error
	}
	m.metrics.SchemaChange("backfill")
	m.log.Info("backfilled primary_field_value from branch_code",
		zap.String("table", table), zap.Int64("rows", res.RowsAffected))
	return nil
}

// =============================================================================
// BRANCH TABLES
// =============================================================================

// EnsureBranchTable creates {prefix}_branches from import headers when it does
// not exist. An existing table is left untouched: its columns are fixed by the
// first import.
func (m *TableManager) EnsureBranchTable(ctx context.Context, prefix string, headers []string) (*TableInfo, error) {
	table := BranchesTable(prefix)
	if err := security.ValidateIdentifier(table); err != nil {
		return nil, apperrors.NewValidationError("table", err.Error())
	}

	exists, err := m.TableExists(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	if exists {
		cols, err := m.Columns(ctx, table)
		if err != nil {
			return nil, apperrors.NewSchemaError(table, err)
		}
		return &TableInfo{Name: table, Columns: cols}, nil
	}

	columns, err := BranchColumns(headers)
	if err != nil {
		return nil, err
	}

	t := m.types()
	defs := []string{"id " + t.AutoID, "client_id VARCHAR(255) NOT NULL"}
	for _, col := range columns {
		defs = append(defs, m.quote(col)+" TEXT NULL")
	}
	defs = append(defs,
		"created_at "+t.Timestamp+" NOT NULL DEFAULT CURRENT_TIMESTAMP",
		"updated_at "+t.Timestamp+" NOT NULL DEFAULT CURRENT_TIMESTAMP"+t.OnUpdate,
	)
	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", m.quote(table), strings.Join(defs, ",\n  "))

	defer m.metrics.TrackDBOperation("create_branch_table")()
	if err := m.db.WithContext(ctx).Exec(sql).Error; err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	m.metrics.SchemaChange("create_table")
	m.log.Info("created tenant branch table", zap.String("table", table), zap.Int("columns", len(columns)))

	all := append([]string{"id", "client_id"}, columns...)
	all = append(all, "created_at", "updated_at")
	return &TableInfo{Name: table, Columns: all, Created: true}, nil
}

// BranchColumns sanitises import headers into column names, rejecting
// duplicates and reserved names.
func BranchColumns(headers []string) ([]string, error) {
	if len(headers) == 0 {
		return nil, apperrors.NewValidationError("headers", "Excel file has no headers.")
	}
	seen := make(map[string]string, len(headers))
	columns := make([]string, 0, len(headers))
	for _, h := range headers {
		col, err := security.SanitizeColumnName(h)
		if err != nil {
			return nil, apperrors.NewValidationError("headers", err.Error())
		}
		if prev, dup := seen[col]; dup {
			return nil, apperrors.NewValidationError("headers",
				fmt.Sprintf("headers %q and %q map to the same column %q", prev, h, col))
		}
		seen[col] = h
		columns = append(columns, col)
	}
	return columns, nil
}

// =============================================================================
// TENANT LIFECYCLE
// =============================================================================

// RenameTenantTables moves every tenant table from oldPrefix to newPrefix.
// tx must be the caller's transaction.
func (m *TableManager) RenameTenantTables(tx *gorm.DB, oldPrefix, newPrefix string) error {
	if oldPrefix == newPrefix {
		return nil
	}
	for _, suffix := range []string{branchesSuffix, reportsSuffix} {
		from, to := oldPrefix+suffix, newPrefix+suffix
		if err := security.ValidateIdentifier(to); err != nil {
			return apperrors.NewValidationError("name", err.Error())
		}
		if !tx.Migrator().HasTable(from) {
			continue
		}
		if tx.Migrator().HasTable(to) {
			return apperrors.NewConflictError("Table " + to)
		}
		if err := tx.Migrator().RenameTable(from, to); err != nil {
			return apperrors.NewSchemaError(from, err)
		}
		if err := tx.Model(&models.TenantSchemaVersion{}).
			Where("table_name = ?", from).
			Update("table_name", to).Error; err != nil {
			return apperrors.NewSchemaError(from, err)
		}
		m.metrics.SchemaChange("rename_table")
		m.log.Info("renamed tenant table", zap.String("from", from), zap.String("to", to))
	}
	return nil
}

// DropTenantTables drops every table owned by the prefix. tx must be the
// caller's transaction.
func (m *TableManager) DropTenantTables(tx *gorm.DB, prefix string) error {
	for _, suffix := range []string{branchesSuffix, reportsSuffix, responsesSuffix} {
		table := prefix + suffix
		if err := security.ValidateIdentifier(table); err != nil {
			return apperrors.NewValidationError("table", err.Error())
		}
		if !tx.Migrator().HasTable(table) {
			continue
		}
		if err := tx.Migrator().DropTable(table); err != nil {
			return apperrors.NewSchemaError(table, err)
		}
		if err := tx.Where("table_name = ?", table).Delete(&models.TenantSchemaVersion{}).Error; err != nil {
			return apperrors.NewSchemaError(table, err)
		}
		m.metrics.SchemaChange("drop_table")
		m.log.Info("dropped tenant table", zap.String("table", table))
	}
	return nil
}

// =============================================================================
// HELPER METHODS
// =============================================================================

// TableExists reports whether table exists in the current database.
func (m *TableManager) TableExists(ctx context.Context, table string) (bool, error) {
	if err := security.ValidateIdentifier(table); err != nil {
		return false, err
	}
	return m.db.WithContext(ctx).Migrator().HasTable(table), nil
}

// Columns returns the column names of table in ordinal order.
func (m *TableManager) Columns(ctx context.Context, table string) ([]string, error) {
	if err := security.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	rows, err := m.db.WithContext(ctx).Raw(fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", m.quote(table))).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

type columnSet map[string]bool

func (c columnSet) has(name string) bool { return c[name] }

func (m *TableManager) columnSet(ctx context.Context, table string) (columnSet, error) {
	cols, err := m.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	set := make(columnSet, len(cols))
	for _, c := range cols {
		set[strings.ToLower(c)] = true
	}
	return set, nil
}

func (m *TableManager) recordedVersion(db *gorm.DB, table string) (int, error) {
	var rec models.TenantSchemaVersion
	res := db.Where("table_name = ?", table).Limit(1).Find(&rec)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, nil
	}
	return rec.Version, nil
}

func (m *TableManager) recordVersion(db *gorm.DB, table string, version int) error {
	rec := models.TenantSchemaVersion{TableName: table, Version: version, AppliedAt: time.Now()}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "table_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "applied_at"}),
	}).Create(&rec).Error
}

func (m *TableManager) dialect() string {
	return m.db.Dialector.Name()
}

func (m *TableManager) quote(name string) string {
	return security.QuoteIdentifier(m.dialect(), name)
}

// sqlTypes holds the dialect-specific column types used in tenant DDL.
type sqlTypes struct {
	AutoID    string
	JSON      string
	Timestamp string
	UserRef   string
	OnUpdate  string
}

func (m *TableManager) types() sqlTypes {
	switch m.dialect() {
	case security.DialectPostgres:
		return sqlTypes{AutoID: "BIGSERIAL PRIMARY KEY", JSON: "JSONB", Timestamp: "TIMESTAMP", UserRef: "BIGINT"}
	case security.DialectMySQL:
		return sqlTypes{
			AutoID:    "INT AUTO_INCREMENT PRIMARY KEY",
			JSON:      "JSON",
			Timestamp: "TIMESTAMP",
			UserRef:   "INT",
			OnUpdate:  " ON UPDATE CURRENT_TIMESTAMP",
		}
	default:
		return sqlTypes{AutoID: "INTEGER PRIMARY KEY AUTOINCREMENT", JSON: "TEXT", Timestamp: "DATETIME", UserRef: "INTEGER"}
	}
}
