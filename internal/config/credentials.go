package config

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/canvasgate/canvasgate/internal/model"
)

// credentialRow is the flat table form of model.Credential. Ciphertext is
// kept as base64 text.
type credentialRow struct {
	ID         string     `db:"id"`
	OwnerID    string     `db:"owner_id"`
	Provider   string     `db:"provider"`
	Nickname   string     `db:"nickname"`
	Last4      string     `db:"last4"`
	Ciphertext string     `db:"ciphertext"`
	Status     string     `db:"status"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
}

func credentialRowFromModel(c *model.Credential) credentialRow {
	return credentialRow{
		ID:         c.ID,
		OwnerID:    c.OwnerID,
		Provider:   string(c.Provider),
		Nickname:   c.Nickname,
		Last4:      c.Last4,
		Ciphertext: base64.StdEncoding.EncodeToString(c.Ciphertext),
		Status:     string(c.Status),
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		RevokedAt:  c.RevokedAt,
	}
}

func (r credentialRow) toModel() (model.Credential, error) {
	ct, err := base64.StdEncoding.DecodeString(r.Ciphertext)
	if err != nil {
		return model.Credential{}, fmt.Errorf("decode ciphertext for credential %s: %w", r.ID, err)
	}
	return model.Credential{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		Provider:   model.Provider(r.Provider),
		Nickname:   r.Nickname,
		Last4:      r.Last4,
		Ciphertext: ct,
		Status:     model.CredentialStatus(r.Status),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		RevokedAt:  r.RevokedAt,
	}, nil
}

// CreateCredential inserts an already-sealed credential. ID is generated when
// empty so callers can bind it into the ciphertext first.
func (s *Store) CreateCredential(ctx context.Context, c *model.Credential) error {
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	if c.Status == "" {
		c.Status = model.CredentialActive
	}
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt

	const q = `INSERT INTO credentials
		(id, owner_id, provider, nickname, last4, ciphertext, status, created_at, updated_at, revoked_at)
		VALUES
		(:id, :owner_id, :provider, :nickname, :last4, :ciphertext, :status, :created_at, :updated_at, :revoked_at)`

	if _, err := s.db.NamedExecContext(ctx, q, credentialRowFromModel(c)); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential returns a credential by ID regardless of status.
func (s *Store) GetCredential(ctx context.Context, id string) (*model.Credential, error) {
	var row credentialRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT * FROM credentials WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	c, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCredentials returns every credential owned by ownerID, newest first.
func (s *Store) ListCredentials(ctx context.Context, ownerID string) ([]model.Credential, error) {
	var rows []credentialRow
	q := s.db.Rebind("SELECT * FROM credentials WHERE owner_id = ? ORDER BY created_at DESC, id DESC")
	if err := s.db.SelectContext(ctx, &rows, q, ownerID); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	creds := make([]model.Credential, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, nil
}

// FindActiveCredential returns the owner's newest active credential for the
// provider.
func (s *Store) FindActiveCredential(ctx context.Context, ownerID string, provider model.Provider) (*model.Credential, error) {
	var row credentialRow
	q := s.db.Rebind(`SELECT * FROM credentials
		WHERE owner_id = ? AND provider = ? AND status = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, q, ownerID, string(provider), string(model.CredentialActive)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find active credential: %w", err)
	}
	c, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RevokeCredential marks a credential revoked. Credentials are never deleted.
// Revoking an already revoked credential is a no-op.
func (s *Store) RevokeCredential(ctx context.Context, id string) error {
	t := now()
	q := s.db.Rebind("UPDATE credentials SET status = ?, revoked_at = ?, updated_at = ? WHERE id = ? AND status = ?")
	err := s.execOne(ctx, "revoke credential", q,
		string(model.CredentialRevoked), t, t, id, string(model.CredentialActive))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.GetCredential(ctx, id); getErr != nil {
			return getErr
		}
		return nil
	}
	return err
}
