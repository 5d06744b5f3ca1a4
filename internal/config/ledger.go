package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canvasgate/canvasgate/internal/model"
)

// ---------------------------------------------------------------------------
// Usage ledger
// ---------------------------------------------------------------------------

// InsertUsageEvent appends a usage event. The ledger has no update path.
func (s *Store) InsertUsageEvent(ctx context.Context, e *model.UsageEvent) error {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}

	const q = `INSERT INTO usage_events
		(id, subject_id, resource_id, request_id, provider, model, input_tokens, output_tokens,
		 cost_estimate, status, created_at)
		VALUES
		(:id, :subject_id, :resource_id, :request_id, :provider, :model, :input_tokens, :output_tokens,
		 :cost_estimate, :status, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, e); err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

// ListUsageEvents returns a subject's events since the given time, newest
// first. An empty subject lists every subject.
func (s *Store) ListUsageEvents(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.UsageEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	where, args := subjectFilter(subjectID, since)
	q := s.db.Rebind("SELECT * FROM usage_events" + where + " ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	var events []model.UsageEvent
	if err := s.db.SelectContext(ctx, &events, q, args...); err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	return events, nil
}

type usageSummaryRow struct {
	Requests     int64   `db:"requests"`
	Failed       int64   `db:"failed"`
	InputTokens  int64   `db:"input_tokens"`
	OutputTokens int64   `db:"output_tokens"`
	CostEstimate float64 `db:"cost_estimate"`
}

// SummarizeUsage aggregates a subject's events since the given time. An
// empty subject aggregates every subject.
func (s *Store) SummarizeUsage(ctx context.Context, subjectID string, since time.Time) (*model.UsageSummary, error) {
	where, args := subjectFilter(subjectID, since)
	args = append([]any{string(model.UsageFailed)}, args...)
	q := s.db.Rebind(`SELECT
		COUNT(*) AS requests,
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
		COALESCE(SUM(input_tokens), 0) AS input_tokens,
		COALESCE(SUM(output_tokens), 0) AS output_tokens,
		COALESCE(SUM(cost_estimate), 0) AS cost_estimate
		FROM usage_events` + where)

	var row usageSummaryRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	return &model.UsageSummary{
		SubjectID:    subjectID,
		Since:        since,
		Requests:     row.Requests,
		Failed:       row.Failed,
		InputTokens:  row.InputTokens,
		OutputTokens: row.OutputTokens,
		CostEstimate: row.CostEstimate,
	}, nil
}

// ---------------------------------------------------------------------------
// Audit ledger
// ---------------------------------------------------------------------------

// InsertAuditEntry appends an access decision.
func (s *Store) InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}

	const q = `INSERT INTO audit_entries
		(id, subject_id, resource_type, resource_id, action, success, request_id, created_at)
		VALUES
		(:id, :subject_id, :resource_type, :resource_id, :action, :success, :request_id, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, e); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns a subject's audit entries since the given time,
// newest first. An empty subject lists every subject.
func (s *Store) ListAuditEntries(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	where, args := subjectFilter(subjectID, since)
	q := s.db.Rebind("SELECT * FROM audit_entries" + where + " ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	var entries []model.AuditEntry
	if err := s.db.SelectContext(ctx, &entries, q, args...); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

func subjectFilter(subjectID string, since time.Time) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if subjectID != "" {
		conds = append(conds, "subject_id = ?")
		args = append(args, subjectID)
	}
	if !since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, since.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
