package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aethra/reportdesk/internal/engine"
	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

// SaveReportRequest is the body of POST /api/reports and PUT /api/reports/:id.
type SaveReportRequest struct {
	ID           *uint              `json:"id"`
	ClientID     string             `json:"client_id"`
	TemplateName string             `json:"template_name"`
	Colors       json.RawMessage    `json:"colors"`
	Content      json.RawMessage    `json:"content"`
	Status       string             `json:"status"`
	UserID       *uint              `json:"user_id"`
	MediaLinks   *engine.MediaLinks `json:"media_links"`
	VisitsAdd    bool               `json:"visits_add"`
	Table        string             `json:"table"`
	TimestampURL *string            `json:"timestamp_url"`
}

// StatusRequest is the body of the status endpoint.
type StatusRequest struct {
	Status string `json:"status"`
	UserID *uint  `json:"user_id"`
}

// DashboardRequest is the body of POST /api/reports/client-dashboard-data.
type DashboardRequest struct {
	ClientID string `json:"client_id"`
}

// SaveReport creates or updates a report
// POST /api/reports
// PUT /api/reports/:id
func (h *Handler) SaveReport(c *gin.Context) {
	user := currentUser(c)
	var req SaveReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("body", "Invalid request body"))
		return
	}

	if idParam := c.Param("id"); idParam != "" {
		id, err := parseID(idParam, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		req.ID = &id
	}
	if req.Table == "" {
		req.Table = c.Query("table")
	}
	if req.UserID == nil {
		req.UserID = &user.ID
	}

	clientID, err := h.scopeClient(c, user, req.ClientID)
	if err != nil {
		respondError(c, err)
		return
	}
	content, err := decodeContent(req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.reports.Save(c.Request.Context(), engine.SaveInput{
		ReportID:     req.ID,
		ClientID:     clientID,
		TemplateName: req.TemplateName,
		Colors:       datatypes.JSON(req.Colors),
		Content:      content,
		Status:       req.Status,
		UserID:       req.UserID,
		MediaLinks:   req.MediaLinks,
		VisitsAdd:    req.VisitsAdd,
		Table:        req.Table,
		TimestampURL: req.TimestampURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	message := fmt.Sprintf("Report with ID %d updated successfully in %s", res.ID, res.Table)
	if res.Created {
		status = http.StatusCreated
		message = "Report saved successfully to " + res.Table
	}
	c.JSON(status, gin.H{"success": true, "message": message, "data": res})
}

// ListReports returns a client's reports
// GET /api/reports/client/:client_id
func (h *Handler) ListReports(c *gin.Context) {
	user := currentUser(c)
	clientID, err := h.scopeClient(c, user, c.Param("client_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	userID, err := parseOptionalID(c.Query("user_id"), "user_id")
	if err != nil {
		respondError(c, err)
		return
	}

	viewer := viewerFor(c, user, c.Query("user_email"), c.Query("user_role"))
	res, err := h.reports.List(c.Request.Context(), clientID, userID, viewer)
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{"success": true, "data": res.Reports}
	if res.Message != "" {
		body["message"] = res.Message
	}
	c.JSON(http.StatusOK, body)
}

// GetReport returns one report
// GET /api/reports/:id
func (h *Handler) GetReport(c *gin.Context) {
	user := currentUser(c)
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		respondError(c, err)
		return
	}
	loc, err := h.locator(c, user)
	if err != nil {
		respondError(c, err)
		return
	}

	viewer := viewerFor(c, user, c.Query("user_email"), c.Query("user_role"))
	report, err := h.reports.Get(c.Request.Context(), loc, id, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
}

// DeleteReport removes a report
// DELETE /api/reports/:id
func (h *Handler) DeleteReport(c *gin.Context) {
	user := currentUser(c)
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		respondError(c, err)
		return
	}
	loc, err := h.locator(c, user)
	if err != nil {
		respondError(c, err)
		return
	}

	table, err := h.reports.Delete(c.Request.Context(), loc, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Report deleted successfully from " + table})
}

// UpdateReportStatus moves a report to a new status
// PATCH /api/reports/:id/status
// PUT /api/reports/:id/status
func (h *Handler) UpdateReportStatus(c *gin.Context) {
	user := currentUser(c)
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("status", "Status is required"))
		return
	}
	if req.UserID == nil {
		req.UserID = &user.ID
	}
	loc, err := h.locator(c, user)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.reports.UpdateStatus(c.Request.Context(), loc, id, req.Status, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Report status updated successfully to " + res.Status,
		"data":    res,
	})
}

// ClientDashboardData returns a client's approved reports with scores
// POST /api/reports/client-dashboard-data
func (h *Handler) ClientDashboardData(c *gin.Context) {
	user := currentUser(c)
	var req DashboardRequest
	_ = c.ShouldBindJSON(&req)
	if req.ClientID == "" && user.SystemRole != models.RoleClientUser {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Client ID is required"})
		return
	}
	clientID, err := h.scopeClient(c, user, req.ClientID)
	if err != nil {
		respondError(c, err)
		return
	}

	data, err := h.reports.DashboardData(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Reports fetched successfully",
		"data":    data,
	})
}

// UserPerformance returns one user's performance summary
// GET /api/reports/user-performance/:user_id
func (h *Handler) UserPerformance(c *gin.Context) {
	user := currentUser(c)
	userID, err := parseID(c.Param("user_id"), "user_id")
	if err != nil {
		respondError(c, err)
		return
	}
	if user.SystemRole != models.RoleAdmin && userID != user.ID {
		respondError(c, apperrors.NewAccessDeniedError("performance",
			"You don't have permission to view this user's performance", ""))
		return
	}

	filter, err := h.performanceFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if clientID := c.Query("client_id"); clientID != "" {
		tenant, err := h.reports.Tenants().Resolve(c.Request.Context(), clientID)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.ClientID = &tenant.ID
	}

	report, err := h.reports.Tracker().UserPerformance(c.Request.Context(), userID, filter, h.now())
	if err != nil {
		respondError(c, err)
		return
	}
	if report.Summary == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "No performance data found for this user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
}

// ClientPerformance pages per-user performance for a client
// GET /api/reports/client-performance/:client_id
func (h *Handler) ClientPerformance(c *gin.Context) {
	tenant, err := h.reports.Tenants().Resolve(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	filter, err := h.performanceFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}

	page := parseIntParam(c.Query("page"), 1)
	limit := parseIntParam(c.Query("limit"), 10)
	report, err := h.reports.Tracker().ClientPerformance(c.Request.Context(), tenant.ID, filter, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": report, "pagination": report.Pagination})
}

func (h *Handler) performanceFilter(c *gin.Context) (engine.PerformanceFilter, error) {
	var f engine.PerformanceFilter
	var err error
	if f.StartDate, err = parseDate(c.Query("start_date"), "start_date"); err != nil {
		return f, err
	}
	if f.EndDate, err = parseDate(c.Query("end_date"), "end_date"); err != nil {
		return f, err
	}
	return f, nil
}

// locator reads ?client_id= and ?table=, pinning client users to their tenant.
func (h *Handler) locator(c *gin.Context, user *models.User) (engine.Locator, error) {
	clientID, err := h.scopeClient(c, user, c.Query("client_id"))
	if err != nil {
		return engine.Locator{}, err
	}
	return engine.Locator{ClientID: clientID, Table: c.Query("table")}, nil
}

// decodeContent accepts the content object either inline or as a JSON
// encoded string.
func decodeContent(raw json.RawMessage) (models.JSONB, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, apperrors.NewValidationError("content", "Invalid content")
		}
		raw = []byte(s)
	}
	var content models.JSONB
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, apperrors.NewValidationError("content", "Content must be a JSON object")
	}
	return content, nil
}
