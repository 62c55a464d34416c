package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aethra/reportdesk/internal/auth"
	"github.com/aethra/reportdesk/internal/config"
	"github.com/aethra/reportdesk/internal/database"
	"github.com/aethra/reportdesk/internal/engine"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	t       *testing.T
	db      *gorm.DB
	router  *gin.Engine
	auth    *auth.Authenticator
	reports *engine.ReportService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.RunMigrations(db, nil))

	reports := engine.NewReportService(db, nil, nil)
	t.Cleanup(reports.Wait)
	branches := engine.NewBranchService(db, reports.Tenants(), reports.Tables(), nil, nil)
	clients := engine.NewClientService(db, reports.Tenants(), reports.Tables(), nil)
	authenticator := auth.NewAuthenticator(db, auth.NewJWTService("test-secret", time.Hour), auth.NewGormSessionStore(db), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	handler := NewHandler(db, reports, branches, clients, authenticator, NewLoginRateLimiter(ctx))
	router := SetupRouter(handler, config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}, nil)

	return &testServer{t: t, db: db, router: router, auth: authenticator, reports: reports}
}

func (s *testServer) user(email, role string, clientUUID *string) string {
	s.t.Helper()
	_, err := s.auth.CreateUser(context.Background(), auth.NewUser{
		Email: email, Password: "secret1", Role: role, ClientID: clientUUID,
	})
	require.NoError(s.t, err)
	res, err := s.auth.SignIn(context.Background(), email, "secret1")
	require.NoError(s.t, err)
	return res.Token
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) createClient(token, first, last string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/client/create", token, map[string]string{"first_name": first, "last_name": last})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	client := decode(s.t, w)["client"].(map[string]interface{})
	return client["uuid"].(string)
}

func reportBody(clientID, value string) map[string]interface{} {
	return map[string]interface{}{
		"client_id":     clientID,
		"template_name": "Branch Visit",
		"content": map[string]interface{}{
			"primaryField": map[string]interface{}{"name": "branch_code", "value": value},
		},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reportdesk", decode(t, w)["service"])
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	_, err := s.auth.CreateUser(context.Background(), auth.NewUser{Email: "ada@x.com", Password: "secret1"})
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/api/auth/sign-in", "", map[string]string{"email": "ada@x.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Email and password are required.", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/api/auth/sign-in", "", map[string]string{"email": "ada@x.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/auth/sign-in", "", map[string]string{"email": "ada@x.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Sign in successful!", body["message"])
	assert.NotContains(t, body["user"], "password")
	token := body["token"].(string)

	w = s.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := decode(t, w)["data"].(map[string]interface{})["user"].(map[string]interface{})
	assert.Equal(t, "ada@x.com", user["email"])

	w = s.do(http.MethodPost, "/api/auth/sign-out", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Logged out user successfully!", decode(t, w)["message"])

	w = s.do(http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Session expired or invalid. Please login again.", decode(t, w)["error"])

	w = s.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Authorization token is missing.", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/api/auth/sign-out", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	admin := s.user("admin@x.com", models.RoleAdmin, nil)
	reporter := s.user("rep@x.com", models.RoleReportingUser, nil)

	newUser := map[string]string{"email": "new@x.com", "password": "secret1", "role": models.RoleReportingUser}
	w := s.do(http.MethodPost, "/api/auth/register", reporter, newUser)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/auth/register", admin, newUser)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/auth/register", admin, newUser)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Email is already in use.", decode(t, w)["error"])
}

func TestReportLifecycle(t *testing.T) {
	s := newTestServer(t)
	admin := s.user("admin@x.com", models.RoleAdmin, nil)
	clientID := s.createClient(admin, "Acme", "Co")

	w := s.do(http.MethodPost, "/api/reports", admin, map[string]string{"client_id": clientID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/reports", admin, reportBody("no-such-client", "BR1"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/reports", admin, reportBody(clientID, "BR1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "acme_co_reports", first["table"])
	assert.Equal(t, "BR1", first["primary_field"].(map[string]interface{})["value"])

	w = s.do(http.MethodPost, "/api/reports", admin, reportBody(clientID, "BR1"))
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "BR1-1", second["primary_field"].(map[string]interface{})["value"])
	id := int(second["id"].(float64))

	update := reportBody(clientID, "BR1")
	w = s.do(http.MethodPut, fmt.Sprintf("/api/reports/%d", id), admin, update)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "BR1", decode(t, w)["data"].(map[string]interface{})["primary_field"].(map[string]interface{})["value"])

	w = s.do(http.MethodGet, "/api/reports/client/"+clientID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 2)

	w = s.do(http.MethodGet, fmt.Sprintf("/api/reports/%d?client_id=%s", id, clientID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Branch Visit", decode(t, w)["data"].(map[string]interface{})["template_name"])

	w = s.do(http.MethodGet, fmt.Sprintf("/api/reports/%d", id), admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "falls back to the legacy table only")

	w = s.do(http.MethodPatch, fmt.Sprintf("/api/reports/%d/status?client_id=%s", id, clientID), admin, map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, fmt.Sprintf("/api/reports/%d/status?table=acme_co_reports", id), admin, map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Report status updated successfully to approved", decode(t, w)["message"])

	w = s.do(http.MethodPost, "/api/reports/client-dashboard-data", admin, map[string]string{"client_id": clientID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)

	w = s.do(http.MethodDelete, fmt.Sprintf("/api/reports/%d?client_id=%s", id, clientID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodDelete, fmt.Sprintf("/api/reports/%d?client_id=%s", id, clientID), admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClientUserIsScoped(t *testing.T) {
	s := newTestServer(t)
	admin := s.user("admin@x.com", models.RoleAdmin, nil)
	acme := s.createClient(admin, "Acme", "Co")
	globex := s.createClient(admin, "Globex", "")

	sheet := &engine.BranchSheet{
		Headers: []string{"Branch Code", "Manager Email"},
		Rows:    [][]string{{"ALPHA", "viewer@acme.test"}, {"BRAVO", "other@acme.test"}},
	}
	_, err := engine.NewBranchService(s.db, s.reports.Tenants(), s.reports.Tables(), nil, nil).
		Import(context.Background(), acme, sheet)
	require.NoError(t, err)
	for _, code := range []string{"ALPHA", "BRAVO"} {
		w := s.do(http.MethodPost, "/api/reports", admin, reportBody(acme, code))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	viewer := s.user("viewer@acme.test", models.RoleClientUser, &acme)

	w := s.do(http.MethodGet, "/api/reports/client/"+acme, viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].([]interface{})
	require.Len(t, data, 1)
	field := data[0].(map[string]interface{})["primary_field"].(map[string]interface{})
	assert.Equal(t, "ALPHA", field["value"])

	w = s.do(http.MethodGet, "/api/reports/client/"+globex, viewer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/reports", viewer, reportBody(acme, "ALPHA"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/client/fetch", viewer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/branch/fetch", viewer, nil)
	require.Equal(t, http.StatusOK, w.Code, "defaults to the user's own client")
	assert.Len(t, decode(t, w)["data"].(map[string]interface{})["data"], 2)
}

func TestClientEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.user("admin@x.com", models.RoleAdmin, nil)

	w := s.do(http.MethodPost, "/api/client/create", admin, map[string]string{"last_name": "Co"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "First Name is required.", decode(t, w)["error"])

	acme := s.createClient(admin, "Acme", "Co")
	s.createClient(admin, "Globex", "")

	w = s.do(http.MethodGet, "/api/client/fetch?page=1&limit=1", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, 2.0, body["pagination"].(map[string]interface{})["totalPages"])

	w = s.do(http.MethodPost, "/api/client/update", admin, map[string]string{"client_id": acme, "first_name": "Acme", "last_name": "Retail"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["tables_renamed"])

	w = s.do(http.MethodGet, "/api/client/view?client_id="+acme, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Acme Retail", decode(t, w)["data"].(map[string]interface{})["name"])

	w = s.do(http.MethodDelete, "/api/client/delete", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodDelete, "/api/client/delete?client_id="+acme, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, "/api/client/view?client_id="+acme, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBranchUploadAndDownload(t *testing.T) {
	s := newTestServer(t)
	admin := s.user("admin@x.com", models.RoleAdmin, nil)
	acme := s.createClient(admin, "Acme", "Co")

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	require.NoError(t, mw.WriteField("client_id", acme))
	part, err := mw.CreateFormFile("file", "branches.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("Branch Code,Region\nALPHA,North\nBRAVO,South\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/branch/upload", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+admin)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/branch/add", admin, map[string]string{"client_id": acme, "branch_code": "CHARLIE", "region": "East"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	added := decode(t, w)["data"].(map[string]interface{})

	w = s.do(http.MethodGet, "/api/branch/fetch?client_id="+acme, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"].(map[string]interface{})["data"], 3)

	w = s.do(http.MethodDelete, "/api/branch/delete?client_id="+acme, admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodDelete, fmt.Sprintf("/api/branch/delete?client_id=%s&branch_id=%v", acme, added["id"]), admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/branch/download-data?client_id="+acme, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(engine.BranchExportSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Branch Code", "Region"}, rows[0])
	assert.Len(t, rows, 3)
}

func TestPerformanceEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.user("admin@x.com", models.RoleAdmin, nil)
	reporter := s.user("rep@x.com", models.RoleReportingUser, nil)
	acme := s.createClient(admin, "Acme", "Co")

	w := s.do(http.MethodPost, "/api/reports", reporter, reportBody(acme, "ALPHA"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s.reports.Wait()

	var rep models.User
	require.NoError(t, s.db.Where("email = ?", "rep@x.com").First(&rep).Error)

	w = s.do(http.MethodGet, fmt.Sprintf("/api/reports/user-performance/%d", rep.ID), reporter, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := decode(t, w)["data"].(map[string]interface{})["summary"].(map[string]interface{})
	assert.Equal(t, 1.0, summary["total_reports"])

	w = s.do(http.MethodGet, "/api/reports/user-performance/1", reporter, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the user's own numbers")

	w = s.do(http.MethodGet, "/api/reports/user-performance/1", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/reports/client-performance/"+acme+"?start_date=bogus", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/reports/client-performance/"+acme, admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 1.0, body["pagination"].(map[string]interface{})["total"])

	w = s.do(http.MethodGet, "/api/reports/client-performance/"+acme, reporter, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLoginRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewLoginRateLimiter(ctx)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < maxLoginAttempts; i++ {
		allowed, _, _ := rl.Allow("ip:a@x.com")
		require.True(t, allowed, "attempt %d", i+1)
	}
	allowed, remaining, retry := rl.Allow("ip:a@x.com")
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.Equal(t, loginBlock, retry)

	allowed, _, _ = rl.Allow("ip:b@x.com")
	assert.True(t, allowed, "keys are independent")

	now = now.Add(loginBlock + time.Second)
	allowed, _, _ = rl.Allow("ip:a@x.com")
	assert.True(t, allowed, "block expires")

	rl.Reset("ip:a@x.com")
	_, remaining, _ = rl.Allow("ip:a@x.com")
	assert.Equal(t, maxLoginAttempts-1, remaining)
}

func TestDecodeContent(t *testing.T) {
	c, err := decodeContent(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, 1.0, c["a"])

	c, err = decodeContent(json.RawMessage(`"{\"a\":2}"`))
	require.NoError(t, err)
	assert.Equal(t, 2.0, c["a"])

	c, err = decodeContent(nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = decodeContent(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}
