// Package api - Admin handlers for client management
package api

import (
	"math"
	"net/http"

	"github.com/aethra/reportdesk/internal/engine"
	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/gin-gonic/gin"
)

// UpdateClientRequest is the body of POST /api/client/update.
type UpdateClientRequest struct {
	ClientID string `json:"client_id"`
	engine.ClientInput
}

// =============================================================================
// CLIENT MANAGEMENT
// =============================================================================

// ListClients returns all clients, paginated when page or limit is given
// GET /api/client/fetch
func (h *Handler) ListClients(c *gin.Context) {
	clients, err := h.clients.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("page") == "" && c.Query("limit") == "" {
		c.JSON(http.StatusOK, gin.H{"data": clients, "message": "All clients fetched!"})
		return
	}

	page := parseIntParam(c.Query("page"), 1)
	limit := parseIntParam(c.Query("limit"), 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	start := (page - 1) * limit
	if start > len(clients) {
		start = len(clients)
	}
	end := start + limit
	if end > len(clients) {
		end = len(clients)
	}

	c.JSON(http.StatusOK, gin.H{
		"data": clients[start:end],
		"pagination": engine.Pagination{
			Total:       int64(len(clients)),
			CurrentPage: page,
			TotalPages:  int(math.Ceil(float64(len(clients)) / float64(limit))),
			Limit:       limit,
		},
		"message": "All clients fetched!",
	})
}

// CreateClient creates a client
// POST /api/client/create
func (h *Handler) CreateClient(c *gin.Context) {
	var input engine.ClientInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, apperrors.NewValidationError("body", "Invalid request body"))
		return
	}

	client, err := h.clients.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Client created successfully!", "client": client})
}

// UpdateClient changes a client, renaming its tables when the name changes
// POST /api/client/update
func (h *Handler) UpdateClient(c *gin.Context) {
	var req UpdateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("body", "Invalid request body"))
		return
	}
	if req.ClientID == "" {
		respondError(c, apperrors.NewValidationError("client_id", "Client id is required."))
		return
	}

	client, renamed, err := h.clients.Update(c.Request.Context(), req.ClientID, req.ClientInput)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "Client updated successfully!",
		"client":         client,
		"tables_renamed": renamed,
	})
}

// ViewClient returns one client
// GET /api/client/view
func (h *Handler) ViewClient(c *gin.Context) {
	client, err := h.clients.View(c.Request.Context(), c.Query("client_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Client found successfully!", "data": client})
}

// DeleteClient removes a client, its users and its tables
// DELETE /api/client/delete
func (h *Handler) DeleteClient(c *gin.Context) {
	clientID := c.Query("client_id")
	if clientID == "" {
		respondError(c, apperrors.NewValidationError("client_id", "Client id is required."))
		return
	}

	out, err := h.clients.Delete(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Client deleted successfully!", "data": out})
}
