package auth

import (
	"context"
	"testing"
	"time"

	"github.com/aethra/reportdesk/internal/database"
	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var bg = context.Background()

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

func newAuthenticator(t *testing.T, db *gorm.DB) *Authenticator {
	t.Helper()
	return NewAuthenticator(db, NewJWTService("test-secret", time.Hour), NewGormSessionStore(db), nil, nil)
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	token, expiresAt, err := svc.GenerateToken(42, "a@x.com", models.RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, "42", claims.Subject)

	_, err = NewJWTService("other", time.Hour).ValidateToken(token)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenExpired)
}

func TestJWTExpired(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := svc.GenerateToken(1, "a@x.com", models.RoleAdmin)
	require.NoError(t, err)

	_, err = NewJWTService("secret", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)
	assert.True(t, CheckPassword("hunter22", hash))
	assert.False(t, CheckPassword("hunter23", hash))
}

func TestCheckPermission(t *testing.T) {
	assert.True(t, CheckPermission(models.RoleAdmin, ResourceClients, ActionDelete))
	assert.True(t, CheckPermission(models.RoleReportingUser, ResourceReports, ActionCreate))
	assert.False(t, CheckPermission(models.RoleReportingUser, ResourceReports, ActionDelete))
	assert.False(t, CheckPermission(models.RoleReportingUser, ResourceBranches, ActionImport))
	assert.True(t, CheckPermission(models.RoleClientUser, ResourceBranches, ActionExport))
	assert.False(t, CheckPermission(models.RoleClientUser, ResourceReports, ActionEdit))
	assert.False(t, CheckPermission(models.RoleClientUser, ResourceClients, ActionView))
	assert.False(t, CheckPermission("stranger", ResourceReports, ActionView))
	assert.False(t, CheckPermission(models.RoleAdmin, ResourceReports, Action("approve")))
}

func TestCreateUser(t *testing.T) {
	db := setupTestDB(t)
	a := newAuthenticator(t, db)

	admin, err := a.CreateUser(bg, NewUser{FirstName: "Ada", LastName: "Ops", Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.SystemRole)
	assert.Equal(t, "Ada Ops", admin.Name)
	assert.NotEqual(t, "secret1", admin.Password)

	_, err = a.CreateUser(bg, NewUser{Email: "ada@x.com", Password: "secret1"})
	require.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "Email is already in use.", err.Error())

	missing := "no-such-client"
	_, err = a.CreateUser(bg, NewUser{Email: "bob@x.com", Password: "secret1", ClientID: &missing})
	require.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "Invalid client_id. The specified client does not exist.", err.Error())

	client := &models.Client{UUID: uuid.NewString(), Name: "Acme"}
	require.NoError(t, db.Create(client).Error)
	bob, err := a.CreateUser(bg, NewUser{Email: "bob@x.com", Password: "secret1", Role: models.RoleAdmin, ClientID: &client.UUID})
	require.NoError(t, err)
	assert.Equal(t, models.RoleClientUser, bob.SystemRole, "client binding forces the restricted role")

	_, err = a.CreateUser(bg, NewUser{Email: "carl@x.com", Password: "123"})
	assert.True(t, apperrors.IsValidation(err))
	_, err = a.CreateUser(bg, NewUser{Email: "not-an-email", Password: "secret1"})
	assert.True(t, apperrors.IsValidation(err))
	_, err = a.CreateUser(bg, NewUser{Email: "dora@x.com", Password: "secret1", Role: "root"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestSignInReplacesSessions(t *testing.T) {
	db := setupTestDB(t)
	a := newAuthenticator(t, db)
	_, err := a.CreateUser(bg, NewUser{Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = a.SignIn(bg, "", "")
	assert.Equal(t, "Email and password are required.", err.Error())
	_, err = a.SignIn(bg, "ada@x.com", "wrong")
	var unauth *apperrors.UnauthorizedError
	require.ErrorAs(t, err, &unauth)
	assert.Equal(t, "Invalid email or password.", err.Error())
	_, err = a.SignIn(bg, "nobody@x.com", "secret1")
	require.ErrorAs(t, err, &unauth)

	first, err := a.SignIn(bg, "ada@x.com", "secret1")
	require.NoError(t, err)
	second, err := a.SignIn(bg, " ada@x.com ", "secret1")
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&models.Session{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	_, err = a.Authenticate(bg, first.Token)
	require.ErrorAs(t, err, &unauth)
	assert.Equal(t, "Session expired or invalid. Please login again.", err.Error())

	user, err := a.Authenticate(bg, second.Token)
	require.NoError(t, err)
	assert.Equal(t, "ada@x.com", user.Email)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	db := setupTestDB(t)
	a := newAuthenticator(t, db)

	_, err := a.Authenticate(bg, "garbage")
	assert.Equal(t, "Invalid token.", err.Error())

	stale := NewJWTService("test-secret", time.Hour)
	stale.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	token, _, err := stale.GenerateToken(1, "a@x.com", models.RoleAdmin)
	require.NoError(t, err)
	_, err = a.Authenticate(bg, token)
	assert.Equal(t, "Token has expired.", err.Error())
}

func TestAuthenticateUserGone(t *testing.T) {
	db := setupTestDB(t)
	a := newAuthenticator(t, db)
	user, err := a.CreateUser(bg, NewUser{Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)
	res, err := a.SignIn(bg, "ada@x.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, db.Delete(&models.User{}, user.ID).Error)
	_, err = a.Authenticate(bg, res.Token)
	require.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, "User not found or token mismatch.", err.Error())
}

func TestSignOut(t *testing.T) {
	db := setupTestDB(t)
	a := newAuthenticator(t, db)
	_, err := a.CreateUser(bg, NewUser{Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)

	assert.True(t, apperrors.IsValidation(a.SignOut(bg, "", false)))

	res, err := a.SignIn(bg, "ada@x.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, a.SignOut(bg, res.Token, false))
	_, err = a.Authenticate(bg, res.Token)
	assert.Error(t, err)

	res, err = a.SignIn(bg, "ada@x.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, a.SignOut(bg, res.Token, true))
	var n int64
	require.NoError(t, db.Model(&models.Session{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestDeleteExpiredSessions(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormSessionStore(db)
	now := time.Now()
	require.NoError(t, db.Create(&models.Session{UserID: 1, Token: "old", ExpiresAt: now.Add(-time.Minute)}).Error)
	require.NoError(t, db.Create(&models.Session{UserID: 2, Token: "live", ExpiresAt: now.Add(time.Hour)}).Error)

	n, err := store.DeleteExpired(bg, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Validate(bg, "live", now)
	assert.NoError(t, err)
	_, err = store.Validate(bg, "old", now)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
