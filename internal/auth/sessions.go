package auth

import (
	"context"
	"errors"
	"time"

	"github.com/aethra/reportdesk/internal/models"
	"gorm.io/gorm"
)

// ErrSessionNotFound is returned when a token has no live session.
var ErrSessionNotFound = errors.New("session expired or invalid")

// SessionStore persists issued tokens. A token is honoured only while its
// session row exists and has not expired.
type SessionStore interface {
	Replace(ctx context.Context, userID uint, token string, expiresAt time.Time) error
	Validate(ctx context.Context, token string, now time.Time) (*models.Session, error)
	Revoke(ctx context.Context, token string) error
	RevokeAll(ctx context.Context, userID uint) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// GormSessionStore is the SessionStore backed by the sessions table.
type GormSessionStore struct {
	db *gorm.DB
}

// NewGormSessionStore creates a store over db.
func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

// Replace drops every session of the user and stores the new token, in one
// transaction.
func (s *GormSessionStore) Replace(ctx context.Context, userID uint, token string, expiresAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Session{UserID: userID, Token: token, ExpiresAt: expiresAt}).Error
	})
}

// Validate returns the live session for token.
func (s *GormSessionStore) Validate(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, now).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Revoke deletes one session.
func (s *GormSessionStore) Revoke(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.Session{}).Error
}

// RevokeAll deletes every session of a user.
func (s *GormSessionStore) RevokeAll(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Session{}).Error
}

// DeleteExpired removes sessions past their expiry and returns how many.
func (s *GormSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}
