package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrackInput is one performance observation. Nil optional fields leave the
// stored value unchanged on update.
type TrackInput struct {
	ClientID          uint       `validate:"required"`
	UserID            uint       `validate:"required"`
	ReportID          uint       `validate:"required"`
	ReportName        string     `validate:"required"`
	ReportTime        *int       // minutes
	CreationTimestamp *time.Time
	ElapsedSeconds    *int
	Status            string
	Score             *float64
}

// PerformanceTracker upserts user_performance rows.
type PerformanceTracker struct {
	db       *gorm.DB
	validate *validator.Validate
}

// NewPerformanceTracker creates a tracker over user_performance.
func NewPerformanceTracker(db *gorm.DB) *PerformanceTracker {
	return &PerformanceTracker{db: db, validate: validator.New()}
}

// PerformanceStatus maps a free-form report status onto the stored enum.
func PerformanceStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.StatusDraft:
		return models.PerformanceDraft
	case "pending", models.StatusSubmitted:
		return models.PerformancePending
	case models.StatusRejected:
		return models.PerformanceRejected
	default:
		// approved, completed and anything unrecognised
		return models.PerformanceCompleted
	}
}

// Track inserts the (client, user, report) row or updates it in place. Missing
// required fields return a ValidationError without touching the database.
func (t *PerformanceTracker) Track(ctx context.Context, in TrackInput) error {
	if err := t.validate.Struct(in); err != nil {
		field := "input"
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			field = verrs[0].Field()
		}
		return apperrors.NewValidationError(field, "missing required performance field: "+field)
	}

	row := models.UserPerformance{
		ClientID:          in.ClientID,
		UserID:            in.UserID,
		ReportID:          in.ReportID,
		ReportName:        in.ReportName,
		ReportTime:        in.ReportTime,
		CreationTimestamp: in.CreationTimestamp,
		ElapsedSeconds:    in.ElapsedSeconds,
		Status:            PerformanceStatus(in.Status),
		Score:             in.Score,
	}

	updates := []string{"report_name", "status", "updated_at"}
	if in.ReportTime != nil {
		updates = append(updates, "report_time")
	}
	if in.CreationTimestamp != nil {
		updates = append(updates, "creation_timestamp")
	}
	if in.ElapsedSeconds != nil {
		updates = append(updates, "elapsed_seconds")
	}
	if in.Score != nil {
		updates = append(updates, "score")
	}

	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_id"}, {Name: "user_id"}, {Name: "report_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&row).Error
	if err != nil {
		return apperrors.NewPersistenceError("Failed to track user performance", err)
	}
	return nil
}

// Get returns the stored row for a key.
func (t *PerformanceTracker) Get(ctx context.Context, clientID, userID, reportID uint) (*models.UserPerformance, error) {
	var row models.UserPerformance
	err := t.db.WithContext(ctx).
		Where("client_id = ? AND user_id = ? AND report_id = ?", clientID, userID, reportID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("Performance record")
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to read user performance", err)
	}
	return &row, nil
}

// ReportMinutes converts elapsed seconds into stored minutes, never below one.
func ReportMinutes(elapsedSeconds float64) int {
	return int(math.Max(1, math.Round(elapsedSeconds/60)))
}

// CalculateReportTime is the fallback duration in minutes between two
// timestamps, clamped to [1, 1440].
func CalculateReportTime(start, end time.Time) int {
	minutes := int(math.Round(end.Sub(start).Minutes()))
	if minutes < 1 {
		return 1
	}
	if minutes > 24*60 {
		return 24 * 60
	}
	return minutes
}

// =============================================================================
// READ MODELS
// =============================================================================

// PerformanceFilter narrows summary queries.
type PerformanceFilter struct {
	ClientID  *uint
	StartDate *time.Time
	EndDate   *time.Time
}

// UserSummary aggregates one user's performance rows.
type UserSummary struct {
	UserID           uint     `json:"user_id"`
	UserName         string   `json:"user_name"`
	UserEmail        string   `json:"user_email"`
	TotalReports     int64    `json:"total_reports"`
	AvgReportTime    *float64 `json:"avg_report_time"`
	MinReportTime    *float64 `json:"min_report_time"`
	MaxReportTime    *float64 `json:"max_report_time"`
	CompletedReports int64    `json:"completed_reports"`
	PendingReports   int64    `json:"pending_reports"`
	RejectedReports  int64    `json:"rejected_reports"`
	AvgScore         *float64 `json:"avg_score"`
}

// RecentReport is one row of a user's latest tracked reports.
type RecentReport struct {
	ReportID       uint      `json:"report_id"`
	ReportName     string    `json:"report_name"`
	ReportTime     *int      `json:"report_time"`
	Status         string    `json:"status"`
	Score          *float64  `json:"score"`
	ElapsedSeconds *int      `json:"elapsed_seconds"`
	CreatedAt      time.Time `json:"created_at"`
	ClientName     string    `json:"client_name"`
}

// UserPerformanceReport is the payload of the per-user endpoint.
type UserPerformanceReport struct {
	Summary                *UserSummary   `json:"summary"`
	RecentReports          []RecentReport `json:"recent_reports"`
	AvgElapsedSeconds      *float64       `json:"avg_elapsed_seconds"`
	TodayReports           int64          `json:"today_reports"`
	TodayAvgElapsedSeconds *float64       `json:"today_avg_elapsed_seconds"`
}

const summarySelect = `up.user_id AS user_id, u.name AS user_name, u.email AS user_email,
	COUNT(up.report_id) AS total_reports,
	AVG(up.report_time) AS avg_report_time,
	MIN(up.report_time) AS min_report_time,
	MAX(up.report_time) AS max_report_time,
	COALESCE(SUM(CASE WHEN up.status = 'completed' THEN 1 ELSE 0 END), 0) AS completed_reports,
	COALESCE(SUM(CASE WHEN up.status = 'pending' THEN 1 ELSE 0 END), 0) AS pending_reports,
	COALESCE(SUM(CASE WHEN up.status = 'rejected' THEN 1 ELSE 0 END), 0) AS rejected_reports,
	AVG(up.score) AS avg_score`

func (t *PerformanceTracker) filtered(ctx context.Context, f PerformanceFilter) *gorm.DB {
	q := t.db.WithContext(ctx).Table("user_performance AS up").
		Joins("JOIN users u ON u.id = up.user_id")
	if f.ClientID != nil {
		q = q.Where("up.client_id = ?", *f.ClientID)
	}
	if f.StartDate != nil {
		q = q.Where("up.created_at >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("up.created_at <= ?", *f.EndDate)
	}
	return q
}

// UserPerformance builds the summary, recent rows and elapsed-time averages for one user.
func (t *PerformanceTracker) UserPerformance(ctx context.Context, userID uint, f PerformanceFilter, now time.Time) (*UserPerformanceReport, error) {
	var summaries []UserSummary
	err := t.filtered(ctx, f).
		Select(summarySelect).
		Where("up.user_id = ?", userID).
		Group("up.user_id, u.name, u.email").
		Scan(&summaries).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to read user performance", err)
	}

	report := &UserPerformanceReport{RecentReports: []RecentReport{}}
	if len(summaries) > 0 {
		report.Summary = &summaries[0]
	}

	err = t.db.WithContext(ctx).Table("user_performance AS up").
		Select("up.report_id, up.report_name, up.report_time, up.status, up.score, up.elapsed_seconds, up.created_at, c.name AS client_name").
		Joins("LEFT JOIN clients c ON c.id = up.client_id").
		Where("up.user_id = ?", userID).
		Order("up.created_at DESC").
		Limit(10).
		Scan(&report.RecentReports).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to read recent reports", err)
	}

	type elapsedRow struct {
		ElapsedSeconds *int
		CreatedAt      time.Time
	}
	var rows []elapsedRow
	err = t.db.WithContext(ctx).Table("user_performance").
		Select("elapsed_seconds, created_at").
		Where("user_id = ?", userID).
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to read elapsed times", err)
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)
	var all, today []int
	for _, r := range rows {
		isToday := !r.CreatedAt.Before(startOfDay) && r.CreatedAt.Before(endOfDay)
		if isToday {
			report.TodayReports++
		}
		if r.ElapsedSeconds == nil || *r.ElapsedSeconds <= 0 {
			continue
		}
		all = append(all, *r.ElapsedSeconds)
		if isToday {
			today = append(today, *r.ElapsedSeconds)
		}
	}
	report.AvgElapsedSeconds = average(all)
	report.TodayAvgElapsedSeconds = average(today)
	return report, nil
}

// ClientSummary aggregates all rows of one client.
type ClientSummary struct {
	TotalReports     int64    `json:"total_reports"`
	AvgReportTime    *float64 `json:"avg_report_time"`
	TotalUsers       int64    `json:"total_users"`
	CompletedReports int64    `json:"completed_reports"`
	AvgScore         *float64 `json:"avg_score"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	Limit       int   `json:"limit"`
}

// ClientPerformanceReport is the payload of the per-client endpoint.
type ClientPerformanceReport struct {
	ClientSummary ClientSummary `json:"clientSummary"`
	UserSummaries []UserSummary `json:"userSummaries"`
	Pagination    Pagination    `json:"-"`
}

// ClientPerformance pages per-user summaries for a client, busiest users first.
func (t *PerformanceTracker) ClientPerformance(ctx context.Context, clientID uint, f PerformanceFilter, page, limit int) (*ClientPerformanceReport, error) {
	if limit <= 0 {
		limit = 10
	}
	if page <= 0 {
		page = 1
	}
	f.ClientID = &clientID

	var total int64
	err := t.filtered(ctx, f).Distinct("up.user_id").Count(&total).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to count client users", err)
	}

	report := &ClientPerformanceReport{UserSummaries: []UserSummary{}}
	err = t.filtered(ctx, f).
		Select(summarySelect).
		Group("up.user_id, u.name, u.email").
		Order("total_reports DESC, avg_report_time ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Scan(&report.UserSummaries).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to read client users performance", err)
	}

	err = t.filtered(ctx, f).
		Select(`COUNT(up.report_id) AS total_reports,
			AVG(up.report_time) AS avg_report_time,
			COUNT(DISTINCT up.user_id) AS total_users,
			COALESCE(SUM(CASE WHEN up.status = 'completed' THEN 1 ELSE 0 END), 0) AS completed_reports,
			AVG(up.score) AS avg_score`).
		Scan(&report.ClientSummary).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError("Failed to read client summary", err)
	}

	report.Pagination = Pagination{
		Total:       total,
		CurrentPage: page,
		TotalPages:  int(math.Ceil(float64(total) / float64(limit))),
		Limit:       limit,
	}
	return report, nil
}

func average(values []int) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	avg := float64(sum) / float64(len(values))
	return &avg
}
