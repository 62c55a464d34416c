package engine

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/aethra/reportdesk/internal/security"
	"gorm.io/gorm"
)

const (
	reportsSuffix   = "_reports"
	branchesSuffix  = "_branches"
	responsesSuffix = "_responses"

	// LegacyReportsTable predates per-tenant tables and is only read as a fallback.
	LegacyReportsTable = "reports"
)

var prefixSeparator = regexp.MustCompile(`[^a-z0-9]+`)

// Tenant is a resolved client together with its derived table prefix.
type Tenant struct {
	ID         uint    `json:"id"`
	UUID       string  `json:"uuid"`
	Name       string  `json:"name"`
	DomainName *string `json:"domain_name"`
	Prefix     string  `json:"prefix"`
}

// ReportsTable returns the tenant's report table name.
func (t *Tenant) ReportsTable() string { return ReportsTable(t.Prefix) }

// BranchesTable returns the tenant's branch table name.
func (t *Tenant) BranchesTable() string { return BranchesTable(t.Prefix) }

// ClientIDs lists every value a report row may carry in client_id for this
// tenant: the canonical uuid and, for rows written with the numeric id, its
// decimal form.
func (t *Tenant) ClientIDs() []string {
	return []string{t.UUID, strconv.FormatUint(uint64(t.ID), 10)}
}

// Prefix normalises a tenant name into a table prefix: lowercase, every run
// of characters outside [a-z0-9] collapsed into one underscore.
func Prefix(name string) string {
	return prefixSeparator.ReplaceAllString(strings.ToLower(name), "_")
}

// ReportsTable derives "{prefix}_reports".
func ReportsTable(prefix string) string { return prefix + reportsSuffix }

// BranchesTable derives "{prefix}_branches".
func BranchesTable(prefix string) string { return prefix + branchesSuffix }

// TenantResolver maps client identifiers to tenants.
type TenantResolver struct {
	db *gorm.DB
}

// NewTenantResolver creates a resolver over the clients table.
func NewTenantResolver(db *gorm.DB) *TenantResolver {
	return &TenantResolver{db: db}
}

// Resolve looks the identifier up as a numeric id first, then as a uuid.
func (r *TenantResolver) Resolve(ctx context.Context, identifier string) (*Tenant, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.NewValidationError("client_id", "Client ID is required")
	}

	db := r.db.WithContext(ctx)
	var client models.Client

	if id, err := strconv.ParseUint(identifier, 10, 64); err == nil {
		err := db.Where("id = ?", id).First(&client).Error
		if err == nil {
			return newTenant(&client)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewPersistenceError("Failed to look up client", err)
		}
	}

	err := db.Where("uuid = ?", identifier).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("Client")
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to look up client", err)
	}
	return newTenant(&client)
}

// ResolvePrefix finds the client whose name normalises to prefix. Names are
// not stored normalised, so every client is scanned.
func (r *TenantResolver) ResolvePrefix(ctx context.Context, prefix string) (*Tenant, error) {
	var clients []models.Client
	if err := r.db.WithContext(ctx).Select("id", "uuid", "name", "domain_name").Order("id").Find(&clients).Error; err != nil {
		return nil, apperrors.NewPersistenceError("Failed to look up client", err)
	}
	for i := range clients {
		if Prefix(clients[i].Name) == prefix {
			return newTenant(&clients[i])
		}
	}
	return nil, apperrors.NewNotFoundError("Client")
}

// List returns every client as a tenant, skipping names that cannot form a prefix.
func (r *TenantResolver) List(ctx context.Context) ([]*Tenant, error) {
	var clients []models.Client
	if err := r.db.WithContext(ctx).Order("id").Find(&clients).Error; err != nil {
		return nil, apperrors.NewPersistenceError("Failed to list clients", err)
	}
	tenants := make([]*Tenant, 0, len(clients))
	for i := range clients {
		t, err := newTenant(&clients[i])
		if err != nil {
			continue
		}
		tenants = append(tenants, t)
	}
	return tenants, nil
}

// FromClient builds a Tenant for an already loaded client row.
func FromClient(client *models.Client) (*Tenant, error) {
	return newTenant(client)
}

func newTenant(client *models.Client) (*Tenant, error) {
	prefix := Prefix(client.Name)
	if strings.Trim(prefix, "_") == "" {
		return nil, apperrors.NewValidationError("name", "client name must contain a letter or digit")
	}
	// The longest derived name must still be a valid identifier.
	if err := security.ValidateIdentifier(prefix + responsesSuffix); err != nil {
		return nil, apperrors.NewValidationError("name", "client name cannot be used as a table prefix: "+err.Error())
	}
	return &Tenant{
		ID:         client.ID,
		UUID:       client.UUID,
		Name:       client.Name,
		DomainName: client.DomainName,
		Prefix:     prefix,
	}, nil
}
