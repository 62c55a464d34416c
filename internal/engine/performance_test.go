package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	apperrors "github.com/aethra/reportdesk/internal/errors"
	"github.com/aethra/reportdesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func intPtr(v int) *int { return &v }

func TestTrackUpsertKeepsUnsetFields(t *testing.T) {
	db := setupTestDB(t)
	tracker := NewPerformanceTracker(db)
	created := testNow.Add(-time.Hour)
	score := 88.5

	require.NoError(t, tracker.Track(bg, TrackInput{
		ClientID: 1, UserID: 2, ReportID: 3, ReportName: "Visit",
		ReportTime: intPtr(12), ElapsedSeconds: intPtr(700), CreationTimestamp: &created,
		Status: models.StatusSubmitted, Score: &score,
	}))
	require.NoError(t, tracker.Track(bg, TrackInput{
		ClientID: 1, UserID: 2, ReportID: 3, ReportName: "Visit (final)",
		Status: models.StatusApproved,
	}))

	row, err := tracker.Get(bg, 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "Visit (final)", row.ReportName)
	assert.Equal(t, models.PerformanceCompleted, row.Status)
	assert.Equal(t, 12, *row.ReportTime)
	assert.Equal(t, 700, *row.ElapsedSeconds)
	require.NotNil(t, row.Score)
	assert.InDelta(t, 88.5, *row.Score, 0.001)

	var count int64
	require.NoError(t, db.Model(&models.UserPerformance{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTrackRejectsMissingKeys(t *testing.T) {
	db := setupTestDB(t)
	tracker := NewPerformanceTracker(db)

	err := tracker.Track(bg, TrackInput{ClientID: 1, UserID: 2, ReportID: 3})
	require.True(t, apperrors.IsValidation(err))

	err = tracker.Track(bg, TrackInput{ClientID: 1, ReportID: 3, ReportName: "Visit"})
	require.True(t, apperrors.IsValidation(err))

	var count int64
	require.NoError(t, db.Model(&models.UserPerformance{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPerformanceStatus(t *testing.T) {
	assert.Equal(t, models.PerformanceDraft, PerformanceStatus("Draft"))
	assert.Equal(t, models.PerformancePending, PerformanceStatus("submitted"))
	assert.Equal(t, models.PerformancePending, PerformanceStatus("pending"))
	assert.Equal(t, models.PerformanceRejected, PerformanceStatus("rejected"))
	assert.Equal(t, models.PerformanceCompleted, PerformanceStatus("approved"))
	assert.Equal(t, models.PerformanceCompleted, PerformanceStatus("whatever"))
}

func TestReportMinutes(t *testing.T) {
	assert.Equal(t, 1, ReportMinutes(0))
	assert.Equal(t, 1, ReportMinutes(20))
	assert.Equal(t, 2, ReportMinutes(90))
	assert.Equal(t, 10, ReportMinutes(600))
}

func TestCalculateReportTime(t *testing.T) {
	start := testNow
	assert.Equal(t, 1, CalculateReportTime(start, start))
	assert.Equal(t, 1, CalculateReportTime(start, start.Add(-time.Hour)))
	assert.Equal(t, 45, CalculateReportTime(start, start.Add(45*time.Minute)))
	assert.Equal(t, 1440, CalculateReportTime(start, start.Add(72*time.Hour)))
}

func TestUserAndClientPerformance(t *testing.T) {
	db := setupTestDB(t)
	tracker := NewPerformanceTracker(db)
	client := seedClient(t, db, "Acme Co")
	alice := seedUser(t, db, "alice@acme.test", models.RoleAdmin, nil)
	bob := seedUser(t, db, "bob@acme.test", models.RoleAdmin, nil)

	track := func(user uint, report uint, minutes, secs int, status string) {
		require.NoError(t, tracker.Track(bg, TrackInput{
			ClientID: client.ID, UserID: user, ReportID: report, ReportName: "Visit",
			ReportTime: intPtr(minutes), ElapsedSeconds: intPtr(secs), Status: status,
		}))
	}
	track(alice.ID, 1, 10, 600, models.StatusApproved)
	track(alice.ID, 2, 20, 1200, models.StatusSubmitted)
	track(bob.ID, 3, 5, 0, models.StatusRejected)

	up, err := tracker.UserPerformance(bg, alice.ID, PerformanceFilter{}, time.Now())
	require.NoError(t, err)
	require.NotNil(t, up.Summary)
	assert.Equal(t, int64(2), up.Summary.TotalReports)
	assert.Equal(t, int64(1), up.Summary.CompletedReports)
	assert.Equal(t, int64(1), up.Summary.PendingReports)
	require.NotNil(t, up.Summary.AvgReportTime)
	assert.InDelta(t, 15.0, *up.Summary.AvgReportTime, 0.001)
	assert.Len(t, up.RecentReports, 2)
	assert.Equal(t, "Acme Co", up.RecentReports[0].ClientName)
	require.NotNil(t, up.AvgElapsedSeconds)
	assert.InDelta(t, 900.0, *up.AvgElapsedSeconds, 0.001)
	assert.Equal(t, int64(2), up.TodayReports)

	cp, err := tracker.ClientPerformance(bg, client.ID, PerformanceFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.ClientSummary.TotalReports)
	assert.Equal(t, int64(2), cp.ClientSummary.TotalUsers)
	require.Len(t, cp.UserSummaries, 2)
	assert.Equal(t, alice.ID, cp.UserSummaries[0].UserID, "busiest user first")
	assert.Equal(t, Pagination{Total: 2, CurrentPage: 1, TotalPages: 1, Limit: 10}, cp.Pagination)

	page2, err := tracker.ClientPerformance(bg, client.ID, PerformanceFilter{}, 2, 1)
	require.NoError(t, err)
	require.Len(t, page2.UserSummaries, 1)
	assert.Equal(t, bob.ID, page2.UserSummaries[0].UserID)
	assert.Equal(t, 2, page2.Pagination.TotalPages)

	future := time.Now().Add(time.Hour)
	none, err := tracker.ClientPerformance(bg, client.ID, PerformanceFilter{StartDate: &future}, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, none.UserSummaries)
	assert.Zero(t, none.ClientSummary.TotalReports)
}

func TestTrackerSurfacesDriverErrors(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, DriverName: "postgres"}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "user_performance"`).WillReturnError(errors.New("connection reset"))

	_, err = NewPerformanceTracker(db).Get(bg, 1, 2, 3)
	var perr *apperrors.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "connection reset", perr.Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantResolverSurfacesDriverErrors(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB, DriverName: "postgres"}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "clients" WHERE id = \$1`).WillReturnError(errors.New("timeout"))

	_, err = NewTenantResolver(db).Resolve(bg, "7")
	var perr *apperrors.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.NoError(t, mock.ExpectationsWereMet())
}
