package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/metrics"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/aethra/reportdesk/internal/security"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultPrimaryFieldName is used when the submitted content names no primary field.
const DefaultPrimaryFieldName = "branch_code"

const visitMarker = "-visit-"

// PrimaryField identifies what a report is about.
type PrimaryField struct {
	Name  string  `json:"name"`
	Value *string `json:"value"`
}

// HasValue reports whether a non-empty value was resolved.
func (p PrimaryField) HasValue() bool {
	return p.Value != nil && *p.Value != ""
}

// ValueOrEmpty returns the value or "".
func (p PrimaryField) ValueOrEmpty() string {
	if p.Value == nil {
		return ""
	}
	return *p.Value
}

// ExtractPrimaryField reads the primary field from submitted content:
// content.primaryField first, then the legacy primaryIdentifierField +
// selectedFieldValues shape, then the branch_code default with no value.
func ExtractPrimaryField(content models.JSONB) PrimaryField {
	if pf := content.Object("primaryField"); pf != nil {
		name, _ := pf.String("name")
		if name == "" {
			name = DefaultPrimaryFieldName
		}
		return PrimaryField{Name: name, Value: optionalString(pf.String("value"))}
	}

	if name, ok := content.String("primaryIdentifierField"); ok && name != "" {
		field := PrimaryField{Name: name}
		if selected := content.Object("selectedFieldValues"); selected != nil {
			field.Value = optionalString(selectedValue(selected[name]))
		}
		return field
	}

	return PrimaryField{Name: DefaultPrimaryFieldName}
}

// selectedValue unwraps a selectedFieldValues entry: objects yield their
// "value" or "name", scalars are used as-is.
func selectedValue(entry interface{}) (string, bool) {
	if obj, ok := entry.(map[string]interface{}); ok {
		for _, key := range []string{"value", "name"} {
			if v, ok := models.Stringify(obj[key]); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
	return models.Stringify(entry)
}

// RewritePrimaryValue stores value back into whichever content shape carried
// the primary field, so the payload agrees with the row.
func RewritePrimaryValue(content models.JSONB, value string) {
	if content == nil {
		return
	}
	if pf := content.Object("primaryField"); pf != nil {
		pf["value"] = value
		return
	}
	name, ok := content.String("primaryIdentifierField")
	if !ok || name == "" {
		return
	}
	selected := content.Object("selectedFieldValues")
	if selected == nil {
		return
	}
	switch entry := selected[name].(type) {
	case nil:
	case map[string]interface{}:
		entry["value"] = value
	default:
		selected[name] = value
	}
}

func optionalString(s string, ok bool) *string {
	if !ok || s == "" {
		return nil
	}
	return &s
}

// IdentityResolver decides the primary field value of a new report row.
type IdentityResolver struct {
	db      *gorm.DB
	tables  *TableManager
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewIdentityResolver creates a resolver reading from tenant report tables.
func NewIdentityResolver(db *gorm.DB, tables *TableManager, m *metrics.Metrics, log *zap.Logger) *IdentityResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &IdentityResolver{db: db, tables: tables, metrics: m, log: log}
}

// ResolveForCreate returns the value to store for a new row. In visit mode
// the value gets "-visit-N" and collision suffixing is skipped; otherwise an
// existing equal value, or any "{value}-N" row, yields "{value}-{max(N)+1}".
// Existing rows are never modified.
//
// The read and the caller's insert are not atomic: two concurrent creates for
// the same value can compute the same suffix.
func (r *IdentityResolver) ResolveForCreate(ctx context.Context, tenant *Tenant, field PrimaryField, visits bool) (PrimaryField, error) {
	if !field.HasValue() {
		return field, nil
	}
	table := tenant.ReportsTable()
	exists, err := r.tables.TableExists(ctx, table)
	if err != nil {
		return field, apperrors.NewSchemaError(table, err)
	}
	return r.resolve(ctx, tenant, field, visits, exists)
}

// resolve runs the lookup once the caller knows whether the table existed
// before this request. A table that did not exist cannot collide.
func (r *IdentityResolver) resolve(ctx context.Context, tenant *Tenant, field PrimaryField, visits, exists bool) (PrimaryField, error) {
	if !field.HasValue() {
		return field, nil
	}
	table := tenant.ReportsTable()
	base := *field.Value
	if visits {
		next := 1
		if exists {
			n, err := r.maxVisit(ctx, table, field.Name, base)
			if err != nil {
				return field, err
			}
			next = n + 1
		}
		value := fmt.Sprintf("%s%s%d", base, visitMarker, next)
		r.metrics.IdentitySuffixed("visit")
		return PrimaryField{Name: field.Name, Value: &value}, nil
	}

	if !exists {
		return field, nil
	}
	exact, maxSuffix, err := r.collisions(ctx, table, tenant, field.Name, base)
	if err != nil {
		return field, err
	}
	if !exact && maxSuffix == 0 {
		return field, nil
	}
	value := fmt.Sprintf("%s-%d", base, maxSuffix+1)
	r.metrics.IdentitySuffixed("collision")
	r.log.Debug("primary field value suffixed",
		zap.String("table", table),
		zap.String("candidate", base),
		zap.String("value", value))
	return PrimaryField{Name: field.Name, Value: &value}, nil
}

func (r *IdentityResolver) maxVisit(ctx context.Context, table, name, base string) (int, error) {
	q := r.tables.quote
	var values []string
	err := r.db.WithContext(ctx).
		Table(table).
		Where(q("primary_field_name")+" = ?", name).
		Where(security.LikeCondition(q("primary_field_value")), security.PrefixPattern(base+visitMarker)).
		Pluck("primary_field_value", &values).Error
	if err != nil {
		return 0, apperrors.NewPersistenceError("Failed to read existing visits", err)
	}

	max := 0
	for _, v := range values {
		if n, ok := numericSuffix(v, base+visitMarker); ok && n > max {
			max = n
		}
	}
	return max, nil
}

func (r *IdentityResolver) collisions(ctx context.Context, table string, tenant *Tenant, name, base string) (bool, int, error) {
	q := r.tables.quote
	var values []string
	err := r.db.WithContext(ctx).
		Table(table).
		Where(q("client_id")+" IN ?", tenant.ClientIDs()).
		Where(q("primary_field_name")+" = ?", name).
		Where(r.db.Where(q("primary_field_value")+" = ?", base).
			Or(security.LikeCondition(q("primary_field_value")), security.PrefixPattern(base+"-"))).
		Pluck("primary_field_value", &values).Error
	if err != nil {
		return false, 0, apperrors.NewPersistenceError("Failed to read existing primary field values", err)
	}

	exact := false
	max := 0
	for _, v := range values {
		if v == base {
			exact = true
			continue
		}
		if n, ok := numericSuffix(v, base+"-"); ok && n > max {
			max = n
		}
	}
	return exact, max, nil
}

// numericSuffix parses N from values of the exact form prefix+N. Visit rows
// ("BR1-visit-2") do not match "BR1-" + digits and are ignored.
func numericSuffix(value, prefix string) (int, bool) {
	if !strings.HasPrefix(value, prefix) {
		return 0, false
	}
	rest := value[len(prefix):]
	if rest == "" {
		return 0, false
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}
