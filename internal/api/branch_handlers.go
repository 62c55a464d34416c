package api

import (
	"bytes"
	"net/http"

	"github.com/aethra/reportdesk/internal/engine"
	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// UploadBranches replaces a client's branches with an uploaded sheet
// POST /api/branch/upload
func (h *Handler) UploadBranches(c *gin.Context) {
	clientID, ok := h.branchClient(c, c.PostForm("client_id"))
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, apperrors.NewValidationError("file", "No file provided."))
		return
	}
	f, err := header.Open()
	if err != nil {
		respondError(c, apperrors.NewValidationError("file", "No file provided."))
		return
	}
	defer f.Close()

	sheet, err := engine.ReadBranchSheet(f, header.Filename)
	if err != nil {
		respondError(c, err)
		return
	}
	list, err := h.branches.Import(c.Request.Context(), clientID, sheet)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Data processed and inserted successfully into " + list.Table + ".",
		"data":    list,
	})
}

// FetchBranches lists a client's branches
// GET /api/branch/fetch
func (h *Handler) FetchBranches(c *gin.Context) {
	clientID, ok := h.branchClient(c, c.Query("client_id"))
	if !ok {
		return
	}
	list, err := h.branches.List(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    list,
		"message": "Branches fetched successfully.",
	})
}

// AddBranch inserts one branch row
// POST /api/branch/add
func (h *Handler) AddBranch(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperrors.NewValidationError("body", "Invalid request body"))
		return
	}
	requested, _ := body["client_id"].(string)
	clientID, ok := h.branchClient(c, requested)
	if !ok {
		return
	}
	delete(body, "client_id")

	row, err := h.branches.Add(c.Request.Context(), clientID, body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Branch added successfully.", "data": row})
}

// DeleteBranch removes one branch row
// DELETE /api/branch/delete
func (h *Handler) DeleteBranch(c *gin.Context) {
	if c.Query("client_id") == "" || c.Query("branch_id") == "" {
		respondError(c, apperrors.NewValidationError("branch_id", "client_id and branch_id are required."))
		return
	}
	clientID, ok := h.branchClient(c, c.Query("client_id"))
	if !ok {
		return
	}
	id, err := parseID(c.Query("branch_id"), "branch_id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.branches.Delete(c.Request.Context(), clientID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Branch deleted successfully."})
}

// DownloadBranches streams a client's branches as a workbook
// GET /api/branch/download-data
func (h *Handler) DownloadBranches(c *gin.Context) {
	clientID, ok := h.branchClient(c, c.Query("client_id"))
	if !ok {
		return
	}
	buf := &bytes.Buffer{}
	if err := h.branches.Export(c.Request.Context(), clientID, buf); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="branch_data.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// branchClient validates and scopes the client a branch call is for. It
// writes the error response itself.
func (h *Handler) branchClient(c *gin.Context, clientID string) (string, bool) {
	user := currentUser(c)
	if clientID == "" && user.ClientID == nil {
		respondError(c, apperrors.NewValidationError("client_id", "client_id is required."))
		return "", false
	}
	clientID, err := h.scopeClient(c, user, clientID)
	if err != nil {
		respondError(c, err)
		return "", false
	}
	return clientID, true
}
