package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/metrics"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SignInResult is returned to a user who signed in.
type SignInResult struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// NewUser describes an account to create.
type NewUser struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email" validate:"required,email"`
	Phone     string  `json:"phone"`
	Password  string  `json:"password" validate:"required,min=6"`
	Role      string  `json:"role"`
	ClientID  *string `json:"client_id"`
}

// Authenticator signs users in and out and resolves bearer tokens.
type Authenticator struct {
	db       *gorm.DB
	jwt      *JWTService
	sessions SessionStore
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewAuthenticator wires the token service and session store.
func NewAuthenticator(db *gorm.DB, jwtSvc *JWTService, sessions SessionStore, m *metrics.Metrics, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{
		db:       db,
		jwt:      jwtSvc,
		sessions: sessions,
		validate: validator.New(),
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Sessions exposes the store, used by the cleanup timer.
func (a *Authenticator) Sessions() SessionStore {
	return a.sessions
}

// SignIn checks credentials, issues a token and replaces the user's sessions
// with it.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperrors.NewValidationError("email", "Email and password are required.")
	}

	var user models.User
	err := a.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !CheckPassword(password, user.Password)) {
		a.metrics.AuthAttempt("failure")
		return nil, apperrors.NewUnauthorizedError("Invalid email or password.")
	}
	if err != nil {
		a.metrics.AuthAttempt("error")
		return nil, apperrors.NewPersistenceError("Error signing in", err)
	}

	token, expiresAt, err := a.jwt.GenerateToken(user.ID, user.Email, user.SystemRole)
	if err != nil {
		a.metrics.AuthAttempt("error")
		return nil, apperrors.NewPersistenceError("Error signing in", err)
	}
	if err := a.sessions.Replace(ctx, user.ID, token, expiresAt); err != nil {
		a.metrics.AuthAttempt("error")
		return nil, apperrors.NewPersistenceError("Error signing in", err)
	}

	a.metrics.AuthAttempt("success")
	a.log.Info("user signed in", zap.Uint("user_id", user.ID))
	return &SignInResult{User: &user, Token: token}, nil
}

// SignOut revokes token, or every session of its owner when all is set.
func (a *Authenticator) SignOut(ctx context.Context, token string, all bool) error {
	if token == "" {
		return apperrors.NewValidationError("token", "Authorization token is missing.")
	}
	if !all {
		if err := a.sessions.Revoke(ctx, token); err != nil {
			return apperrors.NewPersistenceError("Error logging out", err)
		}
		return nil
	}

	claims, err := a.jwt.ValidateToken(token)
	if err != nil {
		return tokenError(err)
	}
	if err := a.sessions.RevokeAll(ctx, claims.UserID); err != nil {
		return apperrors.NewPersistenceError("Error logging out", err)
	}
	return nil
}

// Authenticate resolves a bearer token to its user. The token must verify,
// have a live session and belong to an existing user.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperrors.NewUnauthorizedError("Authorization token is missing.")
	}
	claims, err := a.jwt.ValidateToken(token)
	if err != nil {
		return nil, tokenError(err)
	}

	session, err := a.sessions.Validate(ctx, token, a.now())
	if errors.Is(err, ErrSessionNotFound) {
		return nil, apperrors.NewUnauthorizedError("Session expired or invalid. Please login again.")
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("Error validating session", err)
	}

	var user models.User
	err = a.db.WithContext(ctx).First(&user, session.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && user.ID != claims.UserID) {
		return nil, apperrors.NewNotFoundErrorf("User", "User not found or token mismatch.")
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("Error loading user", err)
	}
	return &user, nil
}

// CreateUser registers an account. A user bound to a client always gets the
// restricted role.
func (a *Authenticator) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := a.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Password" {
			return nil, apperrors.NewValidationError("password", "Password must be at least 6 characters.")
		}
		return nil, apperrors.NewValidationError("email", "A valid email is required.")
	}

	role := in.Role
	if role == "" {
		role = models.RoleAdmin
	}
	if in.ClientID != nil && *in.ClientID != "" {
		role = models.RoleClientUser
	} else {
		in.ClientID = nil
	}
	if role != models.RoleAdmin && role != models.RoleClientUser && role != models.RoleReportingUser {
		return nil, apperrors.NewValidationError("role", "Invalid role. Must be one of: admin, client_user, reporting_user")
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apperrors.NewPersistenceError("Error creating user", err)
	}

	user := &models.User{
		UUID:       uuid.NewString(),
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		Name:       strings.TrimSpace(in.FirstName + " " + in.LastName),
		Email:      in.Email,
		Phone:      in.Phone,
		Password:   hash,
		Role:       role,
		SystemRole: role,
		ClientID:   in.ClientID,
	}

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("email = ?", in.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperrors.NewValidationError("email", "Email is already in use.")
		}
		if user.ClientID != nil {
			if err := tx.Model(&models.Client{}).Where("uuid = ?", *user.ClientID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return apperrors.NewValidationError("client_id", "Invalid client_id. The specified client does not exist.")
			}
		}
		return tx.Create(user).Error
	})
	if err != nil {
		var appErr apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.NewPersistenceError("Error creating user", err)
	}

	a.log.Info("user created", zap.Uint("user_id", user.ID), zap.String("role", role))
	return user, nil
}

func tokenError(err error) error {
	if errors.Is(err, ErrTokenExpired) {
		return apperrors.NewUnauthorizedError("Token has expired.")
	}
	return apperrors.NewUnauthorizedError("Invalid token.")
}
