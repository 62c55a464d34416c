// Package api - Authentication handlers
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aethra/reportdesk/internal/auth"
	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/gin-gonic/gin"
)

const (
	maxLoginAttempts = 5
	loginWindow      = 5 * time.Minute
	loginBlock       = 15 * time.Minute
)

// LoginRateLimiter implements rate limiting for login attempts
type LoginRateLimiter struct {
	attempts map[string]*loginAttempt
	mu       sync.Mutex
	now      func() time.Time
}

type loginAttempt struct {
	count     int
	firstTry  time.Time
	blockedAt *time.Time
}

// NewLoginRateLimiter creates a rate limiter whose cleanup loop runs until
// ctx is done.
func NewLoginRateLimiter(ctx context.Context) *LoginRateLimiter {
	rl := &LoginRateLimiter{
		attempts: make(map[string]*loginAttempt),
		now:      time.Now,
	}
	go rl.cleanup(ctx)
	return rl
}

// Allow checks if a login attempt is allowed
func (rl *LoginRateLimiter) Allow(key string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	attempt, exists := rl.attempts[key]

	if !exists {
		rl.attempts[key] = &loginAttempt{count: 1, firstTry: now}
		return true, maxLoginAttempts - 1, 0
	}

	if attempt.blockedAt != nil {
		if elapsed := now.Sub(*attempt.blockedAt); elapsed < loginBlock {
			return false, 0, loginBlock - elapsed
		}
		attempt.count = 1
		attempt.firstTry = now
		attempt.blockedAt = nil
		return true, maxLoginAttempts - 1, 0
	}

	if now.Sub(attempt.firstTry) > loginWindow {
		attempt.count = 1
		attempt.firstTry = now
		return true, maxLoginAttempts - 1, 0
	}

	attempt.count++
	if attempt.count > maxLoginAttempts {
		attempt.blockedAt = &now
		return false, 0, loginBlock
	}

	return true, maxLoginAttempts - attempt.count, 0
}

// Reset resets the attempts for a key (on successful login)
func (rl *LoginRateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// cleanup removes old entries periodically
func (rl *LoginRateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, attempt := range rl.attempts {
				if now.Sub(attempt.firstTry) > 30*time.Minute {
					delete(rl.attempts, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// SignInRequest represents login credentials
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn authenticates a user and returns a token
// POST /api/auth/sign-in
func (h *Handler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("email", "Email and password are required."))
		return
	}

	rateLimitKey := c.ClientIP() + ":" + strings.ToLower(strings.TrimSpace(req.Email))
	if h.limiter != nil {
		allowed, remaining, retryAfter := h.limiter.Allow(rateLimitKey)
		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"error":       "too many login attempts",
				"retry_after": retryAfter.Seconds(),
				"message":     "Please wait before trying again",
			})
			return
		}
		c.Header("X-RateLimit-Remaining", fmt.Sprint(remaining))
	}

	result, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.limiter != nil {
		h.limiter.Reset(rateLimitKey)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Sign in successful!",
		"user":    result.User,
		"token":   result.Token,
	})
}

// SignOut revokes the caller's token, or all their sessions with ?all=true
// POST /api/auth/sign-out
func (h *Handler) SignOut(c *gin.Context) {
	all := c.Query("all") == "true"
	if err := h.auth.SignOut(c.Request.Context(), bearerToken(c), all); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out user successfully!"})
}

// Me returns the signed-in user
// GET /api/auth/me
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Current user retrieved successfully!",
		"data":    gin.H{"user": currentUser(c)},
	})
}

// Register creates a user account
// POST /api/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req auth.NewUser
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("body", "Invalid request body"))
		return
	}

	user, err := h.auth.CreateUser(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "User created successfully!",
		"user":    user,
	})
}
