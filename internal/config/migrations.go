package config

import (
	"fmt"
	"strings"
)

// migrations use types every supported backend accepts. Ciphertext is stored
// as base64 text so no dialect-specific binary type is needed.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS boards (
		id VARCHAR(64) PRIMARY KEY,
		owner_id VARCHAR(128) NOT NULL,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		is_public BOOLEAN NOT NULL,
		default_credential_id VARCHAR(64) NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS nodes (
		id VARCHAR(64) PRIMARY KEY,
		board_id VARCHAR(64) NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		role VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		model VARCHAR(100) NOT NULL,
		provider VARCHAR(16) NOT NULL,
		tokens INTEGER NOT NULL,
		streaming BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS edges (
		id VARCHAR(64) PRIMARY KEY,
		board_id VARCHAR(64) NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		source_id VARCHAR(64) NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		target_id VARCHAR(64) NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS share_grants (
		id VARCHAR(64) PRIMARY KEY,
		board_id VARCHAR(64) NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		subject_id VARCHAR(128) NOT NULL,
		capability VARCHAR(16) NOT NULL,
		created_by VARCHAR(128) NOT NULL,
		expires_at TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS credentials (
		id VARCHAR(64) PRIMARY KEY,
		owner_id VARCHAR(128) NOT NULL,
		provider VARCHAR(16) NOT NULL,
		nickname VARCHAR(64) NOT NULL,
		last4 VARCHAR(4) NOT NULL,
		ciphertext TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		revoked_at TIMESTAMP NULL
	)`,

	`CREATE TABLE IF NOT EXISTS usage_events (
		id VARCHAR(64) PRIMARY KEY,
		subject_id VARCHAR(128) NOT NULL,
		resource_id VARCHAR(64) NOT NULL,
		request_id VARCHAR(64) NOT NULL,
		provider VARCHAR(16) NOT NULL,
		model VARCHAR(100) NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_estimate DOUBLE PRECISION NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audit_entries (
		id VARCHAR(64) PRIMARY KEY,
		subject_id VARCHAR(128) NOT NULL,
		resource_type VARCHAR(32) NOT NULL,
		resource_id VARCHAR(64) NOT NULL,
		action VARCHAR(32) NOT NULL,
		success BOOLEAN NOT NULL,
		request_id VARCHAR(64) NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		name VARCHAR(128) PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE INDEX idx_boards_owner ON boards(owner_id)`,
	`CREATE INDEX idx_nodes_board ON nodes(board_id)`,
	`CREATE INDEX idx_edges_board ON edges(board_id)`,
	`CREATE INDEX idx_share_grants_board_subject ON share_grants(board_id, subject_id)`,
	`CREATE INDEX idx_credentials_owner_provider ON credentials(owner_id, provider)`,
	`CREATE INDEX idx_usage_events_subject_created ON usage_events(subject_id, created_at)`,
	`CREATE INDEX idx_audit_entries_subject_created ON audit_entries(subject_id, created_at)`,
}

// idempotentErrors are returned when a migration has already been applied.
// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes rely on this list on
// every backend.
var idempotentErrors = []string{
	"already exists",
	"duplicate column",
	"Duplicate key name",
}

func (s *Store) migrate() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if isIdempotent(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func isIdempotent(err error) bool {
	msg := err.Error()
	for _, e := range idempotentErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}
