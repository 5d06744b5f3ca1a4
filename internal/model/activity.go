package model

import (
	"errors"
	"time"
)

// MetricStatus is the lifecycle state of a tracked request.
type MetricStatus string

const (
	MetricPending   MetricStatus = "pending"
	MetricCompleted MetricStatus = "completed"
	MetricFailed    MetricStatus = "failed"
)

// RequestMetric tracks one request from start to completion.
type RequestMetric struct {
	RequestID    string       `json:"request_id"`
	SubjectID    string       `json:"subject_id,omitempty"`
	Operation    string       `json:"operation"`
	StartTime    time.Time    `json:"start_time"`
	EndTime      *time.Time   `json:"end_time,omitempty"`
	DurationMs   *int64       `json:"duration_ms,omitempty"`
	TokenCount   *int         `json:"token_count,omitempty"`
	CostEstimate *float64     `json:"cost_estimate,omitempty"`
	Status       MetricStatus `json:"status"`
	ErrorSummary string       `json:"error_summary,omitempty"`
}

// ActivityType is an event observed by the anomaly detector.
type ActivityType string

const (
	ActivityRequest      ActivityType = "request"
	ActivityExport       ActivityType = "export"
	ActivityAuthFailure  ActivityType = "auth_failure"
	ActivitySessionStart ActivityType = "session_start"
	ActivitySessionEnd   ActivityType = "session_end"
)

// SubjectActivityWindow holds the rolling counters for one subject.
type SubjectActivityWindow struct {
	SubjectID              string     `json:"subject_id"`
	RequestCount           int64      `json:"request_count"`
	LastRequestAt          *time.Time `json:"last_request_at,omitempty"`
	HourStart              time.Time  `json:"hour_start"`
	HourlyRequestCount     int64      `json:"hourly_request_count"`
	DayStart               time.Time  `json:"day_start"`
	DailyCostAccrued       float64    `json:"daily_cost_accrued"`
	ExportCount            int64      `json:"export_count"`
	FailedAuthCount        int64      `json:"failed_auth_count"`
	LastFailedAuthAt       *time.Time `json:"last_failed_auth_at,omitempty"`
	ConcurrentSessionCount int64      `json:"concurrent_session_count"`
	LastActivityAt         time.Time  `json:"last_activity_at"`
}

// Severity grades a security alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert metric names.
const (
	MetricRequestRate        = "request_rate"
	MetricDailyCost          = "daily_cost"
	MetricExportRate         = "export_rate"
	MetricAuthFailure        = "auth_failure"
	MetricConcurrentSessions = "concurrent_sessions"
)

// SecurityAlert is emitted when a subject's counter exceeds its threshold.
type SecurityAlert struct {
	Kind      string    `json:"kind"`
	SubjectID string    `json:"subject_id"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Thresholds are the anomaly limits, each compared with strict greater-than.
type Thresholds struct {
	RequestsPerHour    int64   `json:"requests_per_hour" yaml:"requests_per_hour" mapstructure:"requests_per_hour"`
	ExportsPerHour     int64   `json:"exports_per_hour" yaml:"exports_per_hour" mapstructure:"exports_per_hour"`
	CostPerDay         float64 `json:"cost_per_day" yaml:"cost_per_day" mapstructure:"cost_per_day"`
	FailedAuthPerHour  int64   `json:"failed_auth_per_hour" yaml:"failed_auth_per_hour" mapstructure:"failed_auth_per_hour"`
	ConcurrentSessions int64   `json:"concurrent_sessions" yaml:"concurrent_sessions" mapstructure:"concurrent_sessions"`
}

// ErrNegativeThreshold is returned by Thresholds.Validate.
var ErrNegativeThreshold = errors.New("thresholds must not be negative")

// Validate rejects negative limits.
func (t Thresholds) Validate() error {
	if t.RequestsPerHour < 0 || t.ExportsPerHour < 0 || t.CostPerDay < 0 ||
		t.FailedAuthPerHour < 0 || t.ConcurrentSessions < 0 {
		return ErrNegativeThreshold
	}
	return nil
}

// DefaultThresholds returns the built-in anomaly limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RequestsPerHour:    100,
		ExportsPerHour:     10,
		CostPerDay:         50,
		FailedAuthPerHour:  5,
		ConcurrentSessions: 3,
	}
}
