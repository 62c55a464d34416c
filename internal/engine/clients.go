package engine

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ClientInput carries the editable fields of a client.
type ClientInput struct {
	FirstName  string  `json:"first_name" validate:"required"`
	LastName   string  `json:"last_name"`
	Email      string  `json:"email" validate:"omitempty,email"`
	Phone      string  `json:"phone"`
	DomainName *string `json:"domain_name"`
}

// FullName is the stored client name and the source of the table prefix.
func (in ClientInput) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(in.FirstName) + " " + strings.TrimSpace(in.LastName))
}

// ClientDeletion summarises what removing a client took with it.
type ClientDeletion struct {
	DeletedUsers        int64    `json:"deleted_users"`
	DeletedPerformances int64    `json:"deleted_performance_rows"`
	DroppedTables       []string `json:"dropped_tables"`
}

// ClientService manages clients together with their tenant tables.
type ClientService struct {
	db       *gorm.DB
	tenants  *TenantResolver
	tables   *TableManager
	validate *validator.Validate
	log      *zap.Logger
}

// NewClientService creates a service over the clients table.
func NewClientService(db *gorm.DB, tenants *TenantResolver, tables *TableManager, log *zap.Logger) *ClientService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ClientService{db: db, tenants: tenants, tables: tables, validate: validator.New(), log: log}
}

// List returns every client, newest first.
func (s *ClientService) List(ctx context.Context) ([]models.Client, error) {
	var clients []models.Client
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&clients).Error; err != nil {
		return nil, apperrors.NewPersistenceError("Error fetching clients!", err)
	}
	return clients, nil
}

// View loads one client by id or uuid.
func (s *ClientService) View(ctx context.Context, identifier string) (*models.Client, error) {
	tenant, err := s.tenants.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	var client models.Client
	if err := s.db.WithContext(ctx).First(&client, tenant.ID).Error; err != nil {
		return nil, apperrors.NewPersistenceError("Failed to load client", err)
	}
	return &client, nil
}

// Create inserts a client. Its tables are created lazily by the first report
// save or branch import.
func (s *ClientService) Create(ctx context.Context, in ClientInput) (*models.Client, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	client := &models.Client{
		UUID:       uuid.NewString(),
		FirstName:  strings.TrimSpace(in.FirstName),
		LastName:   strings.TrimSpace(in.LastName),
		Name:       in.FullName(),
		Email:      in.Email,
		Phone:      in.Phone,
		DomainName: in.DomainName,
	}
	tenant, err := FromClient(client)
	if err != nil {
		return nil, err
	}
	s.warnOnPrefixCollision(ctx, tenant, 0)

	if err := s.db.WithContext(ctx).Create(client).Error; err != nil {
		return nil, apperrors.NewPersistenceError("Failed to create client", err)
	}
	s.log.Info("client created", zap.String("uuid", client.UUID), zap.String("prefix", tenant.Prefix))
	return client, nil
}

// Update changes a client's details. A name change renames its tables in the
// same transaction as the row update.
func (s *ClientService) Update(ctx context.Context, identifier string, in ClientInput) (*models.Client, bool, error) {
	if err := s.validateInput(in); err != nil {
		return nil, false, err
	}
	old, err := s.tenants.Resolve(ctx, identifier)
	if err != nil {
		return nil, false, err
	}

	next, err := FromClient(&models.Client{ID: old.ID, UUID: old.UUID, Name: in.FullName()})
	if err != nil {
		return nil, false, err
	}
	renamed := next.Prefix != old.Prefix
	if renamed {
		s.warnOnPrefixCollision(ctx, next, old.ID)
	}

	var client models.Client
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&client, old.ID).Error; err != nil {
			return err
		}
		client.FirstName = strings.TrimSpace(in.FirstName)
		client.LastName = strings.TrimSpace(in.LastName)
		client.Name = in.FullName()
		client.DomainName = in.DomainName
		if in.Email != "" {
			client.Email = in.Email
		}
		if in.Phone != "" {
			client.Phone = in.Phone
		}
		if err := tx.Save(&client).Error; err != nil {
			return err
		}
		if renamed {
			return s.tables.RenameTenantTables(tx, old.Prefix, next.Prefix)
		}
		return nil
	})
	if err != nil {
		var appErr apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, false, err
		}
		return nil, false, apperrors.NewPersistenceError("Failed to update client", err)
	}
	return &client, renamed, nil
}

// Delete removes a client with its users, their sessions, its performance
// rows and every tenant table.
func (s *ClientService) Delete(ctx context.Context, identifier string) (*ClientDeletion, error) {
	tenant, err := s.tenants.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	out := &ClientDeletion{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tenant.ClientIDs()
		userIDs := tx.Model(&models.User{}).Select("id").Where("client_id IN ?", ids)
		if err := tx.Where("user_id IN (?)", userIDs).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		res := tx.Where("client_id IN ?", ids).Delete(&models.User{})
		if res.Error != nil {
			return res.Error
		}
		out.DeletedUsers = res.RowsAffected

		res = tx.Where("client_id = ?", tenant.ID).Delete(&models.UserPerformance{})
		if res.Error != nil {
			return res.Error
		}
		out.DeletedPerformances = res.RowsAffected

		for _, suffix := range []string{branchesSuffix, reportsSuffix, responsesSuffix} {
			if tx.Migrator().HasTable(tenant.Prefix + suffix) {
				out.DroppedTables = append(out.DroppedTables, tenant.Prefix+suffix)
			}
		}
		if err := s.tables.DropTenantTables(tx, tenant.Prefix); err != nil {
			return err
		}
		return tx.Delete(&models.Client{}, tenant.ID).Error
	})
	if err != nil {
		var appErr apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.NewPersistenceError("Failed to delete client", err)
	}
	s.log.Info("client deleted",
		zap.String("uuid", tenant.UUID),
		zap.Int64("users", out.DeletedUsers),
		zap.Strings("dropped_tables", out.DroppedTables))
	return out, nil
}

func (s *ClientService) validateInput(in ClientInput) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "FirstName":
				return apperrors.NewValidationError("first_name", "First Name is required.")
			case "Email":
				return apperrors.NewValidationError("email", "Email is invalid.")
			}
		}
		return apperrors.NewValidationError("client", err.Error())
	}
	return nil
}

// warnOnPrefixCollision logs when another client already normalises to the
// same prefix; both would share tables.
func (s *ClientService) warnOnPrefixCollision(ctx context.Context, tenant *Tenant, self uint) {
	others, err := s.tenants.List(ctx)
	if err != nil {
		return
	}
	for _, o := range others {
		if o.ID != self && o.Prefix == tenant.Prefix {
			s.log.Warn("client name shares a table prefix with another client",
				zap.String("prefix", tenant.Prefix),
				zap.String("name", tenant.Name),
				zap.String("other_uuid", o.UUID))
			return
		}
	}
}
