package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MatchStrategy is one tier of the email-to-branch matching heuristic.
type MatchStrategy int

const (
	// MatchExact compares the whole trimmed cell, case-insensitively.
	MatchExact MatchStrategy = iota
	// MatchListMembership splits the cell on ',' or ';' and compares each entry.
	MatchListMembership
	// MatchSubstring accepts the email appearing anywhere in the cell.
	MatchSubstring
)

// MatchStrategies lists the tiers in the order they are tried.
var MatchStrategies = []MatchStrategy{MatchExact, MatchListMembership, MatchSubstring}

func (s MatchStrategy) String() string {
	switch s {
	case MatchExact:
		return "exact"
	case MatchListMembership:
		return "list"
	case MatchSubstring:
		return "substring"
	default:
		return fmt.Sprintf("MatchStrategy(%d)", int(s))
	}
}

var listSeparator = regexp.MustCompile(`[,;]`)

// Match reports whether email matches cell under this strategy.
func (s MatchStrategy) Match(cell, email string) bool {
	cell = strings.ToLower(strings.TrimSpace(cell))
	email = strings.ToLower(strings.TrimSpace(email))
	if cell == "" || email == "" {
		return false
	}
	switch s {
	case MatchExact:
		return cell == email
	case MatchListMembership:
		for _, part := range listSeparator.Split(cell, -1) {
			if strings.TrimSpace(part) == email {
				return true
			}
		}
		return false
	case MatchSubstring:
		return strings.Contains(cell, email)
	default:
		return false
	}
}

// identifierColumns are the branch columns whose values a report's primary
// field value is compared against.
var identifierColumns = []string{"branch_code", "code", "id", "uuid", "branch_id", "region", "area"}

// Viewer is the identity a read is performed for.
type Viewer struct {
	UserID uint
	Email  string
	Role   string
}

// Restricted reports whether the viewer's visibility is branch-scoped.
func (v *Viewer) Restricted() bool {
	return v != nil && v.Role == models.RoleClientUser
}

// AccessFilter narrows report visibility for the restricted role.
type AccessFilter struct {
	db     *gorm.DB
	tables *TableManager
	log    *zap.Logger
}

// NewAccessFilter creates a filter reading tenant branch tables.
func NewAccessFilter(db *gorm.DB, tables *TableManager, log *zap.Logger) *AccessFilter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccessFilter{db: db, tables: tables, log: log}
}

// Permission is the set of branch identifiers a viewer may see.
type Permission struct {
	Identifiers []string
}

// Allows reports whether value matches a permitted identifier: equal, or
// either one containing the other, case-insensitively.
func (p *Permission) Allows(value string) bool {
	if p == nil {
		return false
	}
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	for _, id := range p.Identifiers {
		if v == id || strings.Contains(v, id) || strings.Contains(id, v) {
			return true
		}
	}
	return false
}

// PermittedIdentifiers collects identifier values from every branch row whose
// email-like columns match the viewer's email. A tenant without a branch
// table, or a viewer without an email, yields an empty permission.
func (f *AccessFilter) PermittedIdentifiers(ctx context.Context, tenant *Tenant, email string) (*Permission, error) {
	perm := &Permission{}
	if strings.TrimSpace(email) == "" {
		return perm, nil
	}
	table := tenant.BranchesTable()
	exists, err := f.tables.TableExists(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	if !exists {
		return perm, nil
	}

	cols, err := f.tables.Columns(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	var emailCols, idCols []string
	for _, c := range cols {
		lc := strings.ToLower(c)
		if strings.Contains(lc, "email") {
			emailCols = append(emailCols, c)
		}
	}
	for _, want := range identifierColumns {
		for _, c := range cols {
			if strings.ToLower(c) == want {
				idCols = append(idCols, c)
			}
		}
	}
	if len(emailCols) == 0 || len(idCols) == 0 {
		f.log.Debug("branch table lacks email or identifier columns", zap.String("table", table))
		return perm, nil
	}

	var rows []map[string]interface{}
	if err := f.db.WithContext(ctx).Table(table).Find(&rows).Error; err != nil {
		return nil, apperrors.NewPersistenceError("Failed to read branches", err)
	}

	seen := map[string]bool{}
	for _, row := range rows {
		if !rowMatchesEmail(row, emailCols, email) {
			continue
		}
		for _, c := range idCols {
			v, ok := cellString(row[c])
			if !ok {
				continue
			}
			v = strings.ToLower(strings.TrimSpace(v))
			if v != "" && !seen[v] {
				seen[v] = true
				perm.Identifiers = append(perm.Identifiers, v)
			}
		}
	}
	return perm, nil
}

// rowMatchesEmail applies the strategies in order across every email column.
func rowMatchesEmail(row map[string]interface{}, emailCols []string, email string) bool {
	for _, strategy := range MatchStrategies {
		for _, c := range emailCols {
			cell, ok := cellString(row[c])
			if ok && strategy.Match(cell, email) {
				return true
			}
		}
	}
	return false
}

// ReportIdentifier returns the value a report is matched on: the stored
// primary_field_value, or content.primaryField.value when the column is NULL.
func ReportIdentifier(row *models.ReportRow) string {
	if row.PrimaryFieldValue != nil && *row.PrimaryFieldValue != "" {
		return *row.PrimaryFieldValue
	}
	v, _ := row.Content.String("primaryField", "value")
	return v
}

// CanView reports whether the viewer may see a single report.
func (f *AccessFilter) CanView(ctx context.Context, tenant *Tenant, viewer *Viewer, row *models.ReportRow) (bool, error) {
	if !viewer.Restricted() {
		return true, nil
	}
	perm, err := f.PermittedIdentifiers(ctx, tenant, viewer.Email)
	if err != nil {
		return false, err
	}
	return perm.Allows(ReportIdentifier(row)), nil
}

// FilterReports keeps only the rows the viewer may see.
func (f *AccessFilter) FilterReports(ctx context.Context, tenant *Tenant, viewer *Viewer, rows []models.ReportRow) ([]models.ReportRow, error) {
	if !viewer.Restricted() {
		return rows, nil
	}
	perm, err := f.PermittedIdentifiers(ctx, tenant, viewer.Email)
	if err != nil {
		return nil, err
	}
	visible := make([]models.ReportRow, 0, len(rows))
	for i := range rows {
		if perm.Allows(ReportIdentifier(&rows[i])) {
			visible = append(visible, rows[i])
		}
	}
	f.log.Debug("applied branch access filter",
		zap.String("table", tenant.ReportsTable()),
		zap.Int("permitted_identifiers", len(perm.Identifiers)),
		zap.Int("total", len(rows)),
		zap.Int("visible", len(visible)))
	return visible, nil
}

// cellString renders a scanned cell value; drivers return text as string or []byte.
func cellString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case []byte:
		return string(s), true
	case nil:
		return "", false
	default:
		return models.Stringify(s)
	}
}
