package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/canvasgate/canvasgate/internal/model"
)

// SettingThresholds holds the operator-set anomaly thresholds as JSON.
const SettingThresholds = "anomaly.thresholds"

// GetSetting returns a setting value.
func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, s.db.Rebind("SELECT value FROM settings WHERE name = ?"), name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores a setting value, replacing any previous value. Upsert
// syntax differs per backend, so this deletes and inserts in one transaction.
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set setting: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM settings WHERE name = ?"), name); err != nil {
		return fmt.Errorf("clear setting: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO settings (name, value) VALUES (?, ?)"), name, value); err != nil {
		return fmt.Errorf("insert setting: %w", err)
	}
	return tx.Commit()
}

// GetThresholds returns the stored anomaly thresholds, or ErrNotFound if an
// operator never set any.
func (s *Store) GetThresholds(ctx context.Context) (*model.Thresholds, error) {
	raw, err := s.GetSetting(ctx, SettingThresholds)
	if err != nil {
		return nil, err
	}
	var th model.Thresholds
	if err := json.Unmarshal([]byte(raw), &th); err != nil {
		return nil, fmt.Errorf("decode thresholds: %w", err)
	}
	return &th, nil
}

// SetThresholds stores the anomaly thresholds.
func (s *Store) SetThresholds(ctx context.Context, th model.Thresholds) error {
	b, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("encode thresholds: %w", err)
	}
	return s.SetSetting(ctx, SettingThresholds, string(b))
}
