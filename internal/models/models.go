// Package models contains the static tables shared by every tenant and the row
// shape of the per-tenant report tables.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Roles understood by the API. RoleClientUser is the restricted role whose
// report visibility is narrowed to the branches assigned to its email.
const (
	RoleAdmin         = "admin"
	RoleClientUser    = "client_user"
	RoleReportingUser = "reporting_user"
)

// Report statuses accepted by the dedicated status endpoint.
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
)

// Performance statuses stored in user_performance.
const (
	PerformanceCompleted = "completed"
	PerformancePending   = "pending"
	PerformanceRejected  = "rejected"
	PerformanceDraft     = "draft"
)

// =============================================================================
// SYSTEM MODELS
// =============================================================================

// Client is a tenant organisation. Its table prefix is derived from Name on
// every access and never stored.
type Client struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UUID       string    `json:"uuid" gorm:"uniqueIndex;not null;size:36"`
	FirstName  string    `json:"first_name" gorm:"size:100"`
	LastName   string    `json:"last_name" gorm:"size:100"`
	Name       string    `json:"name" gorm:"not null;size:255"`
	Email      string    `json:"email" gorm:"size:255"`
	Phone      string    `json:"phone" gorm:"size:50"`
	DomainName *string   `json:"domain_name" gorm:"size:255"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// User is an operator or a client user.
type User struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UUID       string    `json:"uuid" gorm:"uniqueIndex;not null;size:36"`
	FirstName  string    `json:"first_name" gorm:"size:100"`
	LastName   string    `json:"last_name" gorm:"size:100"`
	Name       string    `json:"name" gorm:"size:255"`
	Email      string    `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Phone      string    `json:"phone" gorm:"size:50"`
	Password   string    `json:"-" gorm:"size:255"`
	Role       string    `json:"role" gorm:"size:100"`
	SystemRole string    `json:"system_role" gorm:"size:50;not null;default:'client_user'"`
	ClientID   *string   `json:"client_id" gorm:"size:36;index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsRestricted reports whether the user only sees branch-assigned reports.
func (u *User) IsRestricted() bool {
	return u != nil && u.SystemRole == RoleClientUser
}

// Session is an issued bearer token; a token is only honoured while its row exists.
type Session struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	Token     string    `json:"-" gorm:"uniqueIndex;not null;size:512"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

// UserPerformance is the per-(client, user, report) aggregate row.
type UserPerformance struct {
	ClientID          uint       `json:"client_id" gorm:"primaryKey;autoIncrement:false"`
	UserID            uint       `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	ReportID          uint       `json:"report_id" gorm:"primaryKey;autoIncrement:false"`
	ReportName        string     `json:"report_name" gorm:"size:255;not null"`
	ReportTime        *int       `json:"report_time"`
	CreationTimestamp *time.Time `json:"creation_timestamp"`
	ElapsedSeconds    *int       `json:"elapsed_seconds"`
	Status            string     `json:"status" gorm:"size:20;not null;default:'completed';check:chk_user_performance_status,status IN ('completed','pending','rejected','draft')"`
	Score             *float64   `json:"score" gorm:"type:decimal(5,2)"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName pins the historical table name.
func (UserPerformance) TableName() string {
	return "user_performance"
}

// TenantSchemaVersion records the evolution step a tenant table has reached.
type TenantSchemaVersion struct {
	TableName string    `json:"table_name" gorm:"column:table_name;primaryKey;size:128"`
	Version   int       `json:"version" gorm:"not null"`
	AppliedAt time.Time `json:"applied_at"`
}

// =============================================================================
// TENANT TABLE ROWS
// =============================================================================

// ReportRow maps a row of a {prefix}_reports table. The table name is chosen
// per call with db.Table.
type ReportRow struct {
	ID                uint           `json:"id" gorm:"column:id;primaryKey"`
	ClientID          string         `json:"client_id" gorm:"column:client_id"`
	TemplateName      string         `json:"template_name" gorm:"column:template_name"`
	PrimaryFieldName  string         `json:"primary_field_name" gorm:"column:primary_field_name"`
	PrimaryFieldValue *string        `json:"primary_field_value" gorm:"column:primary_field_value"`
	Colors            datatypes.JSON `json:"colors" gorm:"column:colors"`
	Content           JSONB          `json:"content" gorm:"column:content"`
	Status            string         `json:"status" gorm:"column:status"`
	CreatedBy         *uint          `json:"created_by" gorm:"column:created_by"`
	UpdatedBy         *uint          `json:"updated_by" gorm:"column:updated_by"`
	CreatedAt         time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"column:updated_at"`
	VideoURL          *string        `json:"video_url" gorm:"column:video_url"`
	AudioURL          *string        `json:"audio_url" gorm:"column:audio_url"`
	ImagesURLs        datatypes.JSON `json:"images_urls" gorm:"column:images_urls"`
	TimestampURL      *string        `json:"timestamp_url" gorm:"column:timestamp_url"`
}
