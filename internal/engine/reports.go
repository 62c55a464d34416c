package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/metrics"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/aethra/reportdesk/internal/security"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// trackTimeout bounds a background performance write.
const trackTimeout = 30 * time.Second

// ValidStatuses are the states a report may be moved to.
var ValidStatuses = []string{models.StatusDraft, models.StatusSubmitted, models.StatusApproved, models.StatusRejected}

// MediaLinks are the optional attachments submitted with a report.
type MediaLinks struct {
	VideoLink string `json:"video_link"`
	AudioLink string `json:"audio_link"`
	ImageLink string `json:"image_link"`
}

// SaveInput is a create (ReportID nil) or update request.
type SaveInput struct {
	ReportID     *uint
	ClientID     string
	TemplateName string
	Colors       datatypes.JSON
	Content      models.JSONB
	Status       string
	UserID       *uint
	MediaLinks   *MediaLinks
	VisitsAdd    bool
	Table        string
	TimestampURL *string
}

// SaveResult describes the written row.
type SaveResult struct {
	ID           uint         `json:"id"`
	Table        string       `json:"table"`
	PrimaryField PrimaryField `json:"primary_field"`
	TimestampURL *string      `json:"timestamp_url"`
	Created      bool         `json:"-"`
}

// Locator names a report table either directly or through its client.
type Locator struct {
	ClientID string
	Table    string
}

// UserRef is the embedded creator or updater of a report.
type UserRef struct {
	ID   uint    `json:"id"`
	Name string  `json:"name"`
	UUID *string `json:"uuid"`
}

// MediaView is the media section of a formatted report.
type MediaView struct {
	VideoURL   *string         `json:"video_url"`
	AudioURL   *string         `json:"audio_url"`
	ImagesURLs json.RawMessage `json:"images_urls"`
}

// ReportView is a report as returned to callers.
type ReportView struct {
	ID           uint            `json:"id"`
	ClientID     string          `json:"client_id"`
	ClientName   string          `json:"client_name"`
	Table        string          `json:"table,omitempty"`
	TemplateName string          `json:"template_name"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Content      models.JSONB    `json:"content"`
	Colors       json.RawMessage `json:"colors"`
	PrimaryField PrimaryField    `json:"primary_field"`
	Creator      *UserRef        `json:"creator"`
	Updater      *UserRef        `json:"updater"`
	DomainName   *string         `json:"domain_name"`
	MediaLinks   MediaView       `json:"media_links"`
	TimestampURL *string         `json:"timestamp_url"`
}

// ListResult carries the formatted reports and, when the tenant has no
// table yet, an explanatory message.
type ListResult struct {
	Reports []ReportView
	Message string
}

// StatusResult is returned by UpdateStatus.
type StatusResult struct {
	ID     uint   `json:"id"`
	Status string `json:"status"`
	Table  string `json:"table"`
}

// DashboardSection is one scored section of an approved report.
type DashboardSection struct {
	Heading   string `json:"heading"`
	Achieved  string `json:"achieved"`
	Weightage string `json:"weightage"`
}

// DashboardReport is an approved report with fields lifted out of its content.
type DashboardReport struct {
	ID                uint               `json:"id"`
	ClientID          string             `json:"client_id"`
	PrimaryFieldName  string             `json:"primary_field_name"`
	PrimaryFieldValue *string            `json:"primary_field_value"`
	TemplateName      string             `json:"template_name"`
	Status            string             `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	Content           models.JSONB       `json:"content"`
	BranchName        interface{}        `json:"branch_name,omitempty"`
	Score             interface{}        `json:"score,omitempty"`
	Sections          []DashboardSection `json:"sections,omitempty"`
	ReportType        interface{}        `json:"report_type,omitempty"`
	Date              interface{}        `json:"date,omitempty"`
}

// ReportService implements the report lifecycle over tenant tables.
type ReportService struct {
	db       *gorm.DB
	tenants  *TenantResolver
	tables   *TableManager
	identity *IdentityResolver
	tracker  *PerformanceTracker
	access   *AccessFilter
	metrics  *metrics.Metrics
	log      *zap.Logger

	now func() time.Time
	wg  sync.WaitGroup
}

// NewReportService wires the lifecycle components over one database handle.
func NewReportService(db *gorm.DB, m *metrics.Metrics, log *zap.Logger) *ReportService {
	if log == nil {
		log = zap.NewNop()
	}
	tables := NewTableManager(db, m, log)
	return &ReportService{
		db:       db,
		tenants:  NewTenantResolver(db),
		tables:   tables,
		identity: NewIdentityResolver(db, tables, m, log),
		tracker:  NewPerformanceTracker(db),
		access:   NewAccessFilter(db, tables, log),
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Tenants exposes the resolver used by the service.
func (s *ReportService) Tenants() *TenantResolver { return s.tenants }

// Tables exposes the table manager used by the service.
func (s *ReportService) Tables() *TableManager { return s.tables }

// Tracker exposes the performance tracker used by the service.
func (s *ReportService) Tracker() *PerformanceTracker { return s.tracker }

// Wait blocks until every background performance write has finished.
func (s *ReportService) Wait() {
	s.wg.Wait()
}

// =============================================================================
// SAVE
// =============================================================================

// Save creates a report, or updates one in place when in.ReportID is set.
// Performance tracking runs in the background and never fails the save.
func (s *ReportService) Save(ctx context.Context, in SaveInput) (*SaveResult, error) {
	if strings.TrimSpace(in.ClientID) == "" || strings.TrimSpace(in.TemplateName) == "" {
		return nil, apperrors.NewValidationError("client_id", "Client ID and template name are required")
	}
	tenant, err := s.tenants.Resolve(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}
	table, err := s.tableFor(tenant, in.Table)
	if err != nil {
		return nil, err
	}

	if in.Content == nil {
		in.Content = models.JSONB{}
	}
	if len(in.Colors) == 0 {
		in.Colors = datatypes.JSON("{}")
	}
	if in.Status == "" {
		in.Status = models.StatusDraft
	}
	field := ExtractPrimaryField(in.Content)
	elapsed := ElapsedSeconds(in.Content)

	var res *SaveResult
	if in.ReportID != nil {
		res, err = s.update(ctx, tenant, table, field, elapsed, in)
	} else {
		res, err = s.create(ctx, tenant, table, field, elapsed, in)
	}
	if err != nil {
		s.metrics.ReportSaved("error")
		return nil, err
	}
	if res.Created {
		s.metrics.ReportSaved("created")
	} else {
		s.metrics.ReportSaved("updated")
	}
	return res, nil
}

func (s *ReportService) create(ctx context.Context, tenant *Tenant, table string, field PrimaryField, elapsed float64, in SaveInput) (*SaveResult, error) {
	// Older tables lack the primary field columns until evolved, so ensure
	// runs before the collision lookup reads them.
	existed, err := s.tables.TableExists(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	if _, err := s.tables.EnsureReportsTable(ctx, strings.TrimSuffix(table, reportsSuffix)); err != nil {
		return nil, err
	}

	resolved, err := s.identity.resolve(ctx, tenant, field, in.VisitsAdd, existed)
	if err != nil {
		return nil, err
	}
	if resolved.HasValue() && resolved.ValueOrEmpty() != field.ValueOrEmpty() {
		RewritePrimaryValue(in.Content, resolved.ValueOrEmpty())
	}

	now := s.now()
	row := models.ReportRow{
		ClientID:          tenant.UUID,
		TemplateName:      in.TemplateName,
		PrimaryFieldName:  resolved.Name,
		PrimaryFieldValue: resolved.Value,
		Colors:            in.Colors,
		Content:           in.Content,
		Status:            in.Status,
		CreatedBy:         in.UserID,
		UpdatedBy:         in.UserID,
		CreatedAt:         now,
		UpdatedAt:         now,
		TimestampURL:      in.TimestampURL,
	}
	applyMedia(&row, in.MediaLinks)

	done := s.metrics.TrackDBOperation("insert_report")
	err = s.db.WithContext(ctx).Table(table).Create(&row).Error
	done()
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to save report", err)
	}

	s.log.Info("report created",
		zap.String("table", table),
		zap.Uint("report_id", row.ID),
		zap.String("primary_field_value", resolved.ValueOrEmpty()))

	if in.UserID != nil {
		minutes := ReportMinutes(elapsed)
		secs := int(elapsed)
		s.trackAsync(ctx, TrackInput{
			ClientID:          tenant.ID,
			UserID:            *in.UserID,
			ReportID:          row.ID,
			ReportName:        in.TemplateName,
			ReportTime:        &minutes,
			CreationTimestamp: &now,
			ElapsedSeconds:    &secs,
			Status:            in.Status,
		})
	}

	return &SaveResult{
		ID:           row.ID,
		Table:        table,
		PrimaryField: resolved,
		TimestampURL: in.TimestampURL,
		Created:      true,
	}, nil
}

func (s *ReportService) update(ctx context.Context, tenant *Tenant, table string, field PrimaryField, elapsed float64, in SaveInput) (*SaveResult, error) {
	id := *in.ReportID
	exists, err := s.tables.TableExists(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	if !exists {
		return nil, apperrors.NewNotFoundErrorf("Table", "Table %s does not exist", table)
	}
	if _, err := s.tables.EnsureReportsTable(ctx, strings.TrimSuffix(table, reportsSuffix)); err != nil {
		return nil, err
	}

	var previous models.ReportRow
	res := s.db.WithContext(ctx).Table(table).Where("id = ?", id).Limit(1).Find(&previous)
	if res.Error != nil {
		return nil, apperrors.NewPersistenceError("Failed to load report", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NewNotFoundErrorf("Report", "Report with ID %d not found in table %s", id, table)
	}

	now := s.now()
	row := models.ReportRow{TimestampURL: in.TimestampURL}
	applyMedia(&row, in.MediaLinks)
	updates := map[string]interface{}{
		"primary_field_name":  field.Name,
		"primary_field_value": field.Value,
		"colors":              in.Colors,
		"content":             in.Content,
		"status":              in.Status,
		"updated_by":          in.UserID,
		"updated_at":          now,
		"template_name":       in.TemplateName,
		"video_url":           row.VideoURL,
		"audio_url":           row.AudioURL,
		"images_urls":         row.ImagesURLs,
		"timestamp_url":       row.TimestampURL,
	}

	done := s.metrics.TrackDBOperation("update_report")
	err = s.db.WithContext(ctx).Table(table).Where("id = ?", id).Updates(updates).Error
	done()
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to update report", err)
	}

	s.log.Info("report updated", zap.String("table", table), zap.Uint("report_id", id))

	if in.UserID != nil {
		var minutes int
		if elapsed > 0 {
			minutes = ReportMinutes(elapsed)
		} else {
			minutes = CalculateReportTime(previous.UpdatedAt, now)
		}
		secs := int(elapsed)
		s.trackAsync(ctx, TrackInput{
			ClientID:          tenant.ID,
			UserID:            *in.UserID,
			ReportID:          id,
			ReportName:        in.TemplateName,
			ReportTime:        &minutes,
			CreationTimestamp: &now,
			ElapsedSeconds:    &secs,
			Status:            in.Status,
		})
	}

	return &SaveResult{
		ID:           id,
		Table:        table,
		PrimaryField: field,
		TimestampURL: in.TimestampURL,
	}, nil
}

func applyMedia(row *models.ReportRow, links *MediaLinks) {
	if links == nil {
		return
	}
	row.VideoURL = optionalString(links.VideoLink, true)
	row.AudioURL = optionalString(links.AudioLink, true)
	if links.ImageLink != "" {
		encoded, _ := json.Marshal([]string{links.ImageLink})
		row.ImagesURLs = datatypes.JSON(encoded)
	}
}

// ElapsedSeconds reads the client-reported editing time from the first of
// timerInfo, the top level, reportInfo or metadata that carries a positive value.
func ElapsedSeconds(content models.JSONB) float64 {
	for _, path := range [][]string{
		{"timerInfo", "elapsedTimeSeconds"},
		{"elapsedTimeSeconds"},
		{"reportInfo", "elapsedTimeSeconds"},
		{"metadata", "elapsedTimeSeconds"},
	} {
		if v, ok := content.Float(path...); ok && v > 0 {
			return v
		}
	}
	return 0
}

func (s *ReportService) trackAsync(ctx context.Context, in TrackInput) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackTimeout)
		defer cancel()
		if err := s.tracker.Track(tctx, in); err != nil {
			s.metrics.TrackingFailed()
			s.log.Warn("failed to track user performance",
				zap.Uint("client_id", in.ClientID),
				zap.Uint("user_id", in.UserID),
				zap.Uint("report_id", in.ReportID),
				zap.Error(err))
		}
	}()
}

// =============================================================================
// READ
// =============================================================================

// List returns the tenant's reports newest first, optionally only those
// created by userID, narrowed by the viewer's branch access.
func (s *ReportService) List(ctx context.Context, clientID string, userID *uint, viewer *Viewer) (*ListResult, error) {
	tenant, err := s.tenants.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}
	table := tenant.ReportsTable()
	exists, err := s.tables.TableExists(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	if !exists {
		return &ListResult{Reports: []ReportView{}, Message: "No reports found for this client"}, nil
	}

	q := s.db.WithContext(ctx).Table(table).Where("client_id IN ?", tenant.ClientIDs())
	if userID != nil {
		q = q.Where("created_by = ?", *userID)
	}
	var rows []models.ReportRow
	if err := q.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, apperrors.NewPersistenceError("Failed to fetch reports", err)
	}

	rows, err = s.access.FilterReports(ctx, tenant, viewer, rows)
	if err != nil {
		return nil, err
	}
	if viewer.Restricted() && len(rows) == 0 {
		return &ListResult{Reports: []ReportView{}, Message: "No reports found for this user's branch assignments"}, nil
	}

	users, err := s.usersFor(ctx, rows)
	if err != nil {
		return nil, err
	}
	views := make([]ReportView, 0, len(rows))
	for i := range rows {
		views = append(views, formatReport(&rows[i], tenant, users))
	}
	return &ListResult{Reports: views}, nil
}

// Get returns one report from the located table, falling back to the legacy
// shared table. Restricted viewers get an AccessDeniedError for reports
// outside their branches.
func (s *ReportService) Get(ctx context.Context, loc Locator, id uint, viewer *Viewer) (*ReportView, error) {
	var (
		tenant *Tenant
		table  string
		err    error
	)
	if loc.ClientID != "" || loc.Table != "" {
		tenant, table, err = s.locate(ctx, loc)
		if err != nil {
			return nil, err
		}
	}

	row, found, err := s.findRow(ctx, table, id, nil)
	if err != nil {
		return nil, err
	}
	if !found {
		var scope []string
		if tenant != nil && tenant.ID != 0 {
			scope = tenant.ClientIDs()
		}
		table = LegacyReportsTable
		row, found, err = s.findRow(ctx, table, id, scope)
		if err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, apperrors.NewNotFoundError("Report")
	}
	if tenant == nil && row.ClientID != "" {
		tenant, err = s.tenants.Resolve(ctx, row.ClientID)
		if err != nil && !apperrors.IsNotFound(err) {
			return nil, err
		}
	}

	if viewer.Restricted() {
		allowed := false
		if tenant != nil {
			allowed, err = s.access.CanView(ctx, tenant, viewer, row)
			if err != nil {
				return nil, err
			}
		}
		if !allowed {
			return nil, apperrors.NewAccessDeniedError("report",
				"You don't have permission to access this report",
				"This report belongs to a branch you are not assigned to")
		}
	}

	users, err := s.usersFor(ctx, []models.ReportRow{*row})
	if err != nil {
		return nil, err
	}
	view := formatReport(row, tenant, users)
	view.Table = table
	return &view, nil
}

// findRow reads id from table when the table exists; scope, when set,
// restricts client_id.
func (s *ReportService) findRow(ctx context.Context, table string, id uint, scope []string) (*models.ReportRow, bool, error) {
	if table == "" {
		return nil, false, nil
	}
	exists, err := s.tables.TableExists(ctx, table)
	if err != nil {
		return nil, false, apperrors.NewSchemaError(table, err)
	}
	if !exists {
		return nil, false, nil
	}
	q := s.db.WithContext(ctx).Table(table).Where("id = ?", id)
	if scope != nil {
		q = q.Where("client_id IN ?", scope)
	}
	var row models.ReportRow
	res := q.Limit(1).Find(&row)
	if res.Error != nil {
		return nil, false, apperrors.NewPersistenceError("Failed to fetch report", res.Error)
	}
	return &row, res.RowsAffected > 0, nil
}

func (s *ReportService) usersFor(ctx context.Context, rows []models.ReportRow) (map[uint]models.User, error) {
	ids := map[uint]bool{}
	for _, r := range rows {
		if r.CreatedBy != nil {
			ids[*r.CreatedBy] = true
		}
		if r.UpdatedBy != nil {
			ids[*r.UpdatedBy] = true
		}
	}
	users := make(map[uint]models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	list := make([]uint, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	var found []models.User
	if err := s.db.WithContext(ctx).Select("id", "uuid", "name").Where("id IN ?", list).Find(&found).Error; err != nil {
		return nil, apperrors.NewPersistenceError("Failed to load report authors", err)
	}
	for _, u := range found {
		users[u.ID] = u
	}
	return users, nil
}

func userRef(id *uint, users map[uint]models.User) *UserRef {
	if id == nil {
		return nil
	}
	ref := &UserRef{ID: *id, Name: "Unknown"}
	if u, ok := users[*id]; ok {
		if u.Name != "" {
			ref.Name = u.Name
		}
		if u.UUID != "" {
			uuid := u.UUID
			ref.UUID = &uuid
		}
	}
	return ref
}

func formatReport(row *models.ReportRow, tenant *Tenant, users map[uint]models.User) ReportView {
	name := row.PrimaryFieldName
	if name == "" {
		name = DefaultPrimaryFieldName
	}
	content := row.Content
	if content == nil {
		content = models.JSONB{}
	}
	view := ReportView{
		ID:           row.ID,
		ClientID:     row.ClientID,
		TemplateName: row.TemplateName,
		Status:       row.Status,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		Content:      content,
		Colors:       rawJSON(row.Colors, "{}"),
		PrimaryField: PrimaryField{Name: name, Value: row.PrimaryFieldValue},
		Creator:      userRef(row.CreatedBy, users),
		Updater:      userRef(row.UpdatedBy, users),
		MediaLinks: MediaView{
			VideoURL:   emptyToNil(row.VideoURL),
			AudioURL:   emptyToNil(row.AudioURL),
			ImagesURLs: rawJSON(row.ImagesURLs, "null"),
		},
		TimestampURL: row.TimestampURL,
	}
	if tenant != nil {
		view.ClientName = tenant.Name
		view.DomainName = tenant.DomainName
	}
	return view
}

// rawJSON returns stored JSON as-is; some drivers hand back a JSON string
// literal wrapping the document, which is unwrapped.
func rawJSON(v datatypes.JSON, fallback string) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage(fallback)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	if !json.Valid(v) {
		return json.RawMessage(fallback)
	}
	return json.RawMessage(v)
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// =============================================================================
// DELETE / STATUS
// =============================================================================

// Delete removes report id from the located table and returns the table name.
func (s *ReportService) Delete(ctx context.Context, loc Locator, id uint) (string, error) {
	_, table, err := s.locate(ctx, loc)
	if err != nil {
		return "", err
	}
	if _, err := s.existingRow(ctx, table, id); err != nil {
		return "", err
	}
	done := s.metrics.TrackDBOperation("delete_report")
	err = s.db.WithContext(ctx).Table(table).Where("id = ?", id).Delete(&models.ReportRow{}).Error
	done()
	if err != nil {
		return "", apperrors.NewPersistenceError("Failed to delete report", err)
	}
	s.log.Info("report deleted", zap.String("table", table), zap.Uint("report_id", id))
	return table, nil
}

// UpdateStatus moves a report to status and re-tracks it for its creator.
// Stored durations and score are left untouched.
func (s *ReportService) UpdateStatus(ctx context.Context, loc Locator, id uint, status string, userID *uint) (*StatusResult, error) {
	if strings.TrimSpace(status) == "" {
		return nil, apperrors.NewValidationError("status", "Status is required")
	}
	if !isValidStatus(status) {
		return nil, apperrors.NewValidationError("status",
			"Invalid status. Must be one of: "+strings.Join(ValidStatuses, ", "))
	}
	tenant, table, err := s.locate(ctx, loc)
	if err != nil {
		return nil, err
	}
	row, err := s.existingRow(ctx, table, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"status":     status,
		"updated_by": userID,
		"updated_at": s.now(),
	}
	if err := s.db.WithContext(ctx).Table(table).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, apperrors.NewPersistenceError("Failed to update report status", err)
	}
	s.log.Info("report status updated",
		zap.String("table", table),
		zap.Uint("report_id", id),
		zap.String("status", status))

	if row.CreatedBy != nil && tenant.ID != 0 {
		created := row.CreatedAt
		s.trackAsync(ctx, TrackInput{
			ClientID:          tenant.ID,
			UserID:            *row.CreatedBy,
			ReportID:          id,
			ReportName:        row.TemplateName,
			CreationTimestamp: &created,
			Status:            status,
		})
	}
	return &StatusResult{ID: id, Status: status, Table: table}, nil
}

func isValidStatus(status string) bool {
	for _, s := range ValidStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *ReportService) existingRow(ctx context.Context, table string, id uint) (*models.ReportRow, error) {
	exists, err := s.tables.TableExists(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	if !exists {
		return nil, apperrors.NewNotFoundErrorf("Table", "Report table %s does not exist", table)
	}
	row, found, err := s.findRow(ctx, table, id, nil)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFoundError("Report")
	}
	return row, nil
}

// =============================================================================
// DASHBOARD
// =============================================================================

// DashboardData returns the tenant's approved reports with branch, score,
// sections, type and date lifted out of their content.
func (s *ReportService) DashboardData(ctx context.Context, clientID string) ([]DashboardReport, error) {
	tenant, err := s.tenants.Resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}
	table := tenant.ReportsTable()
	exists, err := s.tables.TableExists(ctx, table)
	if err != nil {
		return nil, apperrors.NewSchemaError(table, err)
	}
	if !exists {
		return nil, apperrors.NewNotFoundErrorf("Table", "Client reports table %s does not exist", table)
	}

	var rows []models.ReportRow
	err = s.db.WithContext(ctx).Table(table).
		Where("client_id IN ? AND status = ?", tenant.ClientIDs(), models.StatusApproved).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to fetch client dashboard data", err)
	}

	out := make([]DashboardReport, 0, len(rows))
	for i := range rows {
		out = append(out, dashboardReport(&rows[i]))
	}
	return out, nil
}

func dashboardReport(row *models.ReportRow) DashboardReport {
	d := DashboardReport{
		ID:                row.ID,
		ClientID:          row.ClientID,
		PrimaryFieldName:  row.PrimaryFieldName,
		PrimaryFieldValue: row.PrimaryFieldValue,
		TemplateName:      row.TemplateName,
		Status:            row.Status,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
		Content:           row.Content,
	}
	c := row.Content
	if c == nil {
		return d
	}
	if pf := c.Object("primaryField"); pf != nil {
		d.BranchName = pf["value"]
	}

	if sections, ok := c["reports"].([]interface{}); ok {
		total, count := 0.0, 0
		d.Sections = make([]DashboardSection, 0, len(sections))
		for _, raw := range sections {
			section, _ := raw.(map[string]interface{})
			if pct, ok := achievedPercent(section["achieved"]); ok {
				total += pct
				count++
			}
			d.Sections = append(d.Sections, DashboardSection{
				Heading:   stringOr(section["heading"], ""),
				Achieved:  stringOr(section["achieved"], "0%"),
				Weightage: stringOr(section["weightage"], "0%"),
			})
		}
		if count > 0 {
			d.Score = math.Round(total / float64(count))
		}
	} else if v, ok := c["score"]; ok {
		d.Score = v
	} else if v, ok := c["totalScore"]; ok {
		d.Score = v
	}

	if v, ok := c["reportType"]; ok && truthy(v) {
		d.ReportType = v
	}
	if v, ok := c["date"]; ok && truthy(v) {
		d.Date = v
	}
	return d
}

// achievedPercent parses "85%" style values. A missing value counts as zero;
// an unparseable one is skipped.
func achievedPercent(v interface{}) (float64, bool) {
	switch a := v.(type) {
	case nil:
		return 0, true
	case string:
		if a == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.Replace(a, "%", "", 1)), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return a, true
	default:
		return 0, false
	}
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := models.Stringify(v); ok && s != "" {
		return s
	}
	return fallback
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}

// =============================================================================
// TABLE LOCATION
// =============================================================================

// tableFor validates a report table override against the tenant. Writes never
// target another tenant's table.
func (s *ReportService) tableFor(tenant *Tenant, override string) (string, error) {
	if override == "" {
		return tenant.ReportsTable(), nil
	}
	if err := validateReportsTable(override); err != nil {
		return "", err
	}
	if override != tenant.ReportsTable() {
		return "", apperrors.NewValidationError("table",
			fmt.Sprintf("Table %s does not belong to client %s", override, tenant.Name))
	}
	return override, nil
}

// locate resolves a Locator into its tenant and report table. A table given
// without a client is matched back to a tenant by prefix; when no client
// matches, the returned tenant carries only the prefix.
func (s *ReportService) locate(ctx context.Context, loc Locator) (*Tenant, string, error) {
	if loc.ClientID == "" && loc.Table == "" {
		return nil, "", apperrors.NewValidationError("client_id", "Either client_id or table name is required")
	}
	if loc.ClientID != "" {
		tenant, err := s.tenants.Resolve(ctx, loc.ClientID)
		if err != nil {
			return nil, "", err
		}
		table, err := s.tableFor(tenant, loc.Table)
		if err != nil {
			return nil, "", err
		}
		return tenant, table, nil
	}

	if err := validateReportsTable(loc.Table); err != nil {
		return nil, "", err
	}
	prefix := strings.TrimSuffix(loc.Table, reportsSuffix)
	tenant, err := s.tenants.ResolvePrefix(ctx, prefix)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return nil, "", err
		}
		tenant = &Tenant{Prefix: prefix}
	}
	return tenant, loc.Table, nil
}

func validateReportsTable(table string) error {
	if err := security.ValidateIdentifier(table); err != nil {
		return apperrors.NewValidationError("table", "Invalid table name: "+err.Error())
	}
	if !strings.HasSuffix(table, reportsSuffix) || table == reportsSuffix {
		return apperrors.NewValidationError("table", "Invalid table name: must end with "+reportsSuffix)
	}
	return nil
}
