package model

import "time"

// UsageStatus is the outcome recorded on a usage event.
type UsageStatus string

const (
	UsageCompleted UsageStatus = "completed"
	UsageFailed    UsageStatus = "failed"
)

// UsageEvent is one immutable billing record per orchestrated completion.
type UsageEvent struct {
	ID           string      `json:"id" db:"id"`
	SubjectID    string      `json:"subject_id" db:"subject_id"`
	ResourceID   string      `json:"resource_id" db:"resource_id"`
	RequestID    string      `json:"request_id" db:"request_id"`
	Provider     Provider    `json:"provider" db:"provider"`
	Model        string      `json:"model" db:"model"`
	InputTokens  int         `json:"input_tokens" db:"input_tokens"`
	OutputTokens int         `json:"output_tokens" db:"output_tokens"`
	CostEstimate float64     `json:"cost_estimate" db:"cost_estimate"`
	Status       UsageStatus `json:"status" db:"status"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// UsageSummary aggregates a subject's usage events since a point in time.
type UsageSummary struct {
	SubjectID    string    `json:"subject_id" db:"subject_id"`
	Since        time.Time `json:"since"`
	Requests     int64     `json:"requests" db:"requests"`
	Failed       int64     `json:"failed" db:"failed"`
	InputTokens  int64     `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64     `json:"output_tokens" db:"output_tokens"`
	CostEstimate float64   `json:"cost_estimate" db:"cost_estimate"`
}

// AuditEntry records one access-control decision.
type AuditEntry struct {
	ID           string    `json:"id" db:"id"`
	SubjectID    string    `json:"subject_id" db:"subject_id"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   string    `json:"resource_id" db:"resource_id"`
	Action       string    `json:"action" db:"action"`
	Success      bool      `json:"success" db:"success"`
	RequestID    string    `json:"request_id,omitempty" db:"request_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
