package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/metrics"
	"github.com/aethra/reportdesk/internal/security"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BranchExportSheet is the sheet name of a branch export workbook.
const BranchExportSheet = "Branch Data"

// BranchHeader pairs a column with its display name.
type BranchHeader struct {
	Field      string `json:"field"`
	HeaderName string `json:"headerName"`
}

// BranchSheet is a parsed branch upload: one header row and its data rows.
type BranchSheet struct {
	Headers []string
	Rows    [][]string
}

// ReadBranchSheet parses an uploaded branch file. Files named *.csv are read
// as CSV, anything else as an XLSX workbook whose first sheet is used.
func ReadBranchSheet(r io.Reader, filename string) (*BranchSheet, error) {
	var records [][]string
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		all, err := cr.ReadAll()
		if err != nil {
			return nil, apperrors.NewValidationError("file", "Could not read CSV file: "+err.Error())
		}
		records = all
	} else {
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, apperrors.NewValidationError("file", "Could not read Excel file: "+err.Error())
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apperrors.NewValidationError("file", "Excel file has no sheets.")
		}
		records, err = f.GetRows(sheets[0])
		if err != nil {
			return nil, apperrors.NewValidationError("file", "Could not read Excel file: "+err.Error())
		}
	}

	if len(records) == 0 {
		return nil, apperrors.NewValidationError("headers", "Excel file has no headers.")
	}
	sheet := &BranchSheet{}
	for _, h := range records[0] {
		sheet.Headers = append(sheet.Headers, strings.TrimSpace(h))
	}
	for len(sheet.Headers) > 0 && sheet.Headers[len(sheet.Headers)-1] == "" {
		sheet.Headers = sheet.Headers[:len(sheet.Headers)-1]
	}
	if len(sheet.Headers) == 0 {
		return nil, apperrors.NewValidationError("headers", "Excel file has no headers.")
	}
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		sheet.Rows = append(sheet.Rows, rec)
	}
	return sheet, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// TitleCase turns a column name into a display header: "branch_code" becomes
// "Branch Code".
func TitleCase(column string) string {
	words := strings.Fields(strings.ReplaceAll(column, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// BranchList is the content of a tenant's branch table.
type BranchList struct {
	Table   string                   `json:"tableName"`
	Headers []BranchHeader           `json:"headers"`
	Rows    []map[string]interface{} `json:"data"`
}

// BranchService manages the per-tenant branch directory.
type BranchService struct {
	db      *gorm.DB
	tenants *TenantResolver
	tables  *TableManager
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewBranchService creates a service sharing the report service's components.
func NewBranchService(db *gorm.DB, tenants *TenantResolver, tables *TableManager, m *metrics.Metrics, log *zap.Logger) *BranchService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BranchService{db: db, tenants: tenants, tables: tables, metrics: m, log: log}
}

// Import replaces the tenant's branch rows with the sheet's rows, creating
// the table from the sheet headers on first use.
func (s *BranchService) Import(ctx context.Context, clientID string, sheet *BranchSheet) (*BranchList, error) {
	tenant, err := s.tenants.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}
	columns, err := BranchColumns(sheet.Headers)
	if err != nil {
		return nil, err
	}
	info, err := s.tables.EnsureBranchTable(ctx, tenant.Prefix, sheet.Headers)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(info.Columns))
	for _, c := range info.Columns {
		existing[strings.ToLower(c)] = true
	}
	var missing []string
	for _, c := range columns {
		if !existing[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.NewValidationError("headers",
			fmt.Sprintf("Columns %s do not exist in table %s", strings.Join(missing, ", "), info.Name))
	}

	headers := make([]BranchHeader, len(columns))
	for i, c := range columns {
		headers[i] = BranchHeader{Field: c, HeaderName: sheet.Headers[i]}
	}

	done := s.metrics.TrackDBOperation("import_branches")
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !info.Created {
			del := fmt.Sprintf("DELETE FROM %s WHERE client_id IN ?", s.tables.quote(info.Name))
			if err := tx.Exec(del, tenant.ClientIDs()).Error; err != nil {
				return err
			}
		}
		for _, rec := range sheet.Rows {
			row := map[string]interface{}{"client_id": tenant.UUID}
			for i, c := range columns {
				if i < len(rec) && strings.TrimSpace(rec[i]) != "" {
					row[c] = rec[i]
				}
			}
			if err := tx.Table(info.Name).Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	done()
	if err != nil {
		return nil, apperrors.NewPersistenceError("Database error occurred while processing data.", err)
	}
	s.log.Info("imported branches",
		zap.String("table", info.Name),
		zap.Int("rows", len(sheet.Rows)),
		zap.Bool("created_table", info.Created))

	rows, err := s.rows(ctx, info.Name, tenant)
	if err != nil {
		return nil, err
	}
	return &BranchList{Table: info.Name, Headers: headers, Rows: rows}, nil
}

// List returns the tenant's branches with display headers for every
// non-system column. A tenant without a branch table gets an empty list.
func (s *BranchService) List(ctx context.Context, clientID string) (*BranchList, error) {
	tenant, err := s.tenants.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}
	table := tenant.BranchesTable()
	exists, err := s.tables.TableExists(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	list := &BranchList{Table: table, Headers: []BranchHeader{}, Rows: []map[string]interface{}{}}
	if !exists {
		return list, nil
	}
	cols, err := s.tables.Columns(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	for _, c := range cols {
		if !security.IsSystemColumn(c) {
			list.Headers = append(list.Headers, BranchHeader{Field: c, HeaderName: TitleCase(c)})
		}
	}
	list.Rows, err = s.rows(ctx, table, tenant)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Add inserts one branch. Keys that are not data columns of the table are dropped.
func (s *BranchService) Add(ctx context.Context, clientID string, values map[string]interface{}) (map[string]interface{}, error) {
	tenant, err := s.tenants.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}
	table := tenant.BranchesTable()
	exists, err := s.tables.TableExists(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	if !exists {
		return nil, apperrors.NewNotFoundErrorf("Table", "Branch table %s does not exist", table)
	}
	cols, err := s.tables.Columns(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}

	row := map[string]interface{}{"client_id": tenant.UUID}
	for _, c := range cols {
		if security.IsSystemColumn(c) {
			continue
		}
		if v, ok := values[c]; ok {
			row[c] = v
		}
	}
	if len(row) == 1 {
		return nil, apperrors.NewValidationError("branch", "No valid branch fields provided.")
	}

	var created map[string]interface{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(table).Create(row).Error; err != nil {
			return err
		}
		var latest []map[string]interface{}
		if err := tx.Table(table).Where("client_id = ?", tenant.UUID).Order("id DESC").Limit(1).Find(&latest).Error; err != nil {
			return err
		}
		if len(latest) > 0 {
			created = normaliseRow(latest[0])
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to add branch", err)
	}
	return created, nil
}

// Delete removes one of the tenant's branches.
func (s *BranchService) Delete(ctx context.Context, clientID string, id uint) error {
	tenant, err := s.tenants.Resolve(ctx, clientID)
	if err != nil {
		return err
	}
	table := tenant.BranchesTable()
	exists, err := s.tables.TableExists(ctx, table)
	if err != nil {
		return apperrors.NewSchemaError(table, err)
	}
	if !exists {
		return apperrors.NewNotFoundError("Branch")
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND client_id IN ?", s.tables.quote(table))
	res := s.db.WithContext(ctx).Exec(del, id, tenant.ClientIDs())
	if res.Error != nil {
		return apperrors.NewPersistenceError("Failed to delete branch", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFoundError("Branch")
	}
	return nil
}

// Export writes the tenant's branches as an XLSX workbook with one
// "Branch Data" sheet and display headers.
func (s *BranchService) Export(ctx context.Context, clientID string, w io.Writer) error {
	list, err := s.List(ctx, clientID)
	if err != nil {
		return err
	}
	if len(list.Rows) == 0 {
		return apperrors.NewNotFoundErrorf("Branch", "No data found for this client.")
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), BranchExportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(list.Headers))
	for i, h := range list.Headers {
		header[i] = h.HeaderName
	}
	if err := f.SetSheetRow(BranchExportSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range list.Rows {
		values := make([]interface{}, len(list.Headers))
		for j, h := range list.Headers {
			values[j] = row[h.Field]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(BranchExportSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	_, err = f.WriteTo(w)
	return err
}

func (s *BranchService) rows(ctx context.Context, table string, tenant *Tenant) ([]map[string]interface{}, error) {
	var raw []map[string]interface{}
	if err := s.db.WithContext(ctx).Table(table).Where("client_id IN ?", tenant.ClientIDs()).Order("id").Find(&raw).Error; err != nil {
		return nil, apperrors.NewPersistenceError("Failed to fetch branches", err)
	}
	rows := make([]map[string]interface{}, len(raw))
	for i, r := range raw {
		rows[i] = normaliseRow(r)
	}
	return rows, nil
}

// normaliseRow turns driver byte slices into strings so rows encode as JSON text.
func normaliseRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			out[k] = string(b)
			continue
		}
		out[k] = v
	}
	return out
}
