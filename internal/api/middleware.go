package api

import (
	"strings"

	"github.com/aethra/reportdesk/internal/auth"
	"github.com/aethra/reportdesk/internal/engine"
	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/gin-gonic/gin"
)

const (
	userKey  = "user"
	tokenKey = "token"
)

// =============================================================================
// MIDDLEWARE
// =============================================================================

// AuthMiddleware resolves the bearer token to a user and aborts with 401
// (or 404 for a vanished user) otherwise.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			respondError(c, apperrors.NewUnauthorizedError("Authorization token is missing."))
			c.Abort()
			return
		}

		user, err := h.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(userKey, user)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// PermissionMiddleware checks the signed-in user's role against the
// permission matrix.
func (h *Handler) PermissionMiddleware(resource auth.Resource, action auth.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || !auth.CheckPermission(user.SystemRole, resource, action) {
			respondError(c, apperrors.NewPermissionDeniedError(string(action)+" "+string(resource)))
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(userKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

// viewerFor returns the identity reads are filtered for. Admins may preview
// another identity through user_email and user_role.
func viewerFor(c *gin.Context, user *models.User, email, role string) *engine.Viewer {
	if user.SystemRole == models.RoleAdmin && role != "" {
		return &engine.Viewer{Email: email, Role: role}
	}
	return &engine.Viewer{UserID: user.ID, Email: user.Email, Role: user.SystemRole}
}

// scopeClient pins a client-bound user to their own tenant. An empty
// clientID defaults to it; any other tenant is refused.
func (h *Handler) scopeClient(c *gin.Context, user *models.User, clientID string) (string, error) {
	if user.SystemRole != models.RoleClientUser {
		return clientID, nil
	}
	if user.ClientID == nil {
		return "", apperrors.NewAccessDeniedError("client",
			"You don't have permission to access this client",
			"This user is not assigned to a client")
	}
	if clientID == "" {
		return *user.ClientID, nil
	}
	tenant, err := h.reports.Tenants().Resolve(c.Request.Context(), clientID)
	if err != nil {
		return "", err
	}
	if tenant.UUID != *user.ClientID {
		return "", apperrors.NewAccessDeniedError("client",
			"You don't have permission to access this client",
			"Client users can only access their own client's data")
	}
	return clientID, nil
}
