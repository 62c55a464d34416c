// Package api contains the HTTP API handlers for reportdesk
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aethra/reportdesk/internal/auth"
	"github.com/aethra/reportdesk/internal/engine"
	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler contains all API handlers
type Handler struct {
	db       *gorm.DB
	reports  *engine.ReportService
	branches *engine.BranchService
	clients  *engine.ClientService
	auth     *auth.Authenticator
	limiter  *LoginRateLimiter
	now      func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(db *gorm.DB, reports *engine.ReportService, branches *engine.BranchService, clients *engine.ClientService, authenticator *auth.Authenticator, limiter *LoginRateLimiter) *Handler {
	return &Handler{
		db:       db,
		reports:  reports,
		branches: branches,
		clients:  clients,
		auth:     authenticator,
		limiter:  limiter,
		now:      time.Now,
	}
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// Health returns the health status
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	dbStatus := "ok"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status = http.StatusServiceUnavailable
		dbStatus = "unavailable"
	}
	c.JSON(status, gin.H{
		"status":   http.StatusText(status),
		"service":  "reportdesk",
		"database": dbStatus,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// respondError writes err as JSON. Unknown errors are logged and reported as
// a generic 500.
func respondError(c *gin.Context, err error) {
	status, body := apperrors.ToHTTPError(err)
	var appErr apperrors.AppError
	if !errors.As(err, &appErr) || status >= http.StatusInternalServerError {
		logger.FromContext(c).Error("request failed", zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

func parseIntParam(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

// parseID reads a positive numeric path or query value.
func parseID(value, field string) (uint, error) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.NewValidationError(field, "Invalid "+field)
	}
	return uint(id), nil
}

// parseOptionalID is parseID for values that may be absent.
func parseOptionalID(value, field string) (*uint, error) {
	if value == "" {
		return nil, nil
	}
	id, err := parseID(value, field)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// parseDate accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
func parseDate(value, field string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, apperrors.NewValidationError(field, "Invalid "+field+", expected YYYY-MM-DD")
}
