package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/canvasgate/canvasgate/internal/model"
)

// ---------------------------------------------------------------------------
// Boards
// ---------------------------------------------------------------------------

// CreateBoard inserts a new board. ID, CreatedAt and UpdatedAt are populated.
func (s *Store) CreateBoard(ctx context.Context, b *model.Board) error {
	if b.ID == "" {
		b.ID = uuid.Must(uuid.NewV7()).String()
	}
	b.CreatedAt = now()
	b.UpdatedAt = b.CreatedAt

	const q = `INSERT INTO boards
		(id, owner_id, title, description, is_public, default_credential_id, created_at, updated_at)
		VALUES
		(:id, :owner_id, :title, :description, :is_public, :default_credential_id, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, b); err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

// GetBoard returns a board by ID.
func (s *Store) GetBoard(ctx context.Context, id string) (*model.Board, error) {
	var b model.Board
	if err := s.db.GetContext(ctx, &b, s.db.Rebind("SELECT * FROM boards WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get board: %w", err)
	}
	return &b, nil
}

// ListBoards returns the boards owned by ownerID, newest first.
func (s *Store) ListBoards(ctx context.Context, ownerID string) ([]model.Board, error) {
	var boards []model.Board
	q := s.db.Rebind("SELECT * FROM boards WHERE owner_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &boards, q, ownerID); err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return boards, nil
}

// SetBoardDefaultCredential sets or clears (empty id) the board's default
// credential.
func (s *Store) SetBoardDefaultCredential(ctx context.Context, boardID, credentialID string) error {
	q := s.db.Rebind("UPDATE boards SET default_credential_id = ?, updated_at = ? WHERE id = ?")
	return s.execOne(ctx, "set board default credential", q, credentialID, now(), boardID)
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

// CreateNode inserts a node on an existing board.
func (s *Store) CreateNode(ctx context.Context, n *model.Node) error {
	if n.ID == "" {
		n.ID = uuid.Must(uuid.NewV7()).String()
	}
	n.CreatedAt = now()
	n.UpdatedAt = n.CreatedAt

	const q = `INSERT INTO nodes
		(id, board_id, role, content, model, provider, tokens, streaming, created_at, updated_at)
		VALUES
		(:id, :board_id, :role, :content, :model, :provider, :tokens, :streaming, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, n); err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

// GetNode returns a node by ID.
func (s *Store) GetNode(ctx context.Context, id string) (*model.Node, error) {
	var n model.Node
	if err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT * FROM nodes WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get node: %w", err)
	}
	return &n, nil
}

// ListNodes returns a board's nodes in creation order.
func (s *Store) ListNodes(ctx context.Context, boardID string) ([]model.Node, error) {
	var nodes []model.Node
	q := s.db.Rebind("SELECT * FROM nodes WHERE board_id = ? ORDER BY created_at, id")
	if err := s.db.SelectContext(ctx, &nodes, q, boardID); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// UpdateNodeContent writes generated text onto a node. streaming marks the
// content as partial.
func (s *Store) UpdateNodeContent(ctx context.Context, nodeID, content string, tokens int, streaming bool) error {
	q := s.db.Rebind("UPDATE nodes SET content = ?, tokens = ?, streaming = ?, updated_at = ? WHERE id = ?")
	return s.execOne(ctx, "update node content", q, content, tokens, streaming, now(), nodeID)
}

// FinishNode writes the final generated text together with the provider and
// model that produced it, and clears the streaming flag.
func (s *Store) FinishNode(ctx context.Context, nodeID, content string, tokens int, p model.Provider, modelName string) error {
	q := s.db.Rebind("UPDATE nodes SET content = ?, tokens = ?, streaming = ?, provider = ?, model = ?, updated_at = ? WHERE id = ?")
	return s.execOne(ctx, "finish node", q, content, tokens, false, string(p), modelName, now(), nodeID)
}

// CreateEdge connects two nodes of the same board.
func (s *Store) CreateEdge(ctx context.Context, e *model.Edge) error {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	e.CreatedAt = now()

	const q = `INSERT INTO edges (id, board_id, source_id, target_id, created_at)
		VALUES (:id, :board_id, :source_id, :target_id, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, e); err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return nil
}

// GetEdge returns an edge by ID.
func (s *Store) GetEdge(ctx context.Context, id string) (*model.Edge, error) {
	var e model.Edge
	if err := s.db.GetContext(ctx, &e, s.db.Rebind("SELECT * FROM edges WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get edge: %w", err)
	}
	return &e, nil
}

// ---------------------------------------------------------------------------
// Share grants
// ---------------------------------------------------------------------------

// CreateShareGrant inserts a share grant on a board.
func (s *Store) CreateShareGrant(ctx context.Context, g *model.ShareGrant) error {
	if g.ID == "" {
		g.ID = uuid.Must(uuid.NewV7()).String()
	}
	g.CreatedAt = now()
	if g.ExpiresAt != nil {
		t := g.ExpiresAt.UTC().Truncate(time.Microsecond)
		g.ExpiresAt = &t
	}

	const q = `INSERT INTO share_grants
		(id, board_id, subject_id, capability, created_by, expires_at, created_at)
		VALUES
		(:id, :board_id, :subject_id, :capability, :created_by, :expires_at, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, g); err != nil {
		return fmt.Errorf("insert share grant: %w", err)
	}
	return nil
}

// GetShareGrant returns a share grant by ID.
func (s *Store) GetShareGrant(ctx context.Context, id string) (*model.ShareGrant, error) {
	var g model.ShareGrant
	if err := s.db.GetContext(ctx, &g, s.db.Rebind("SELECT * FROM share_grants WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get share grant: %w", err)
	}
	return &g, nil
}

// ListShareGrants returns every grant a subject holds on a board, including
// expired ones. Callers decide expiry.
func (s *Store) ListShareGrants(ctx context.Context, boardID, subjectID string) ([]model.ShareGrant, error) {
	var grants []model.ShareGrant
	q := s.db.Rebind("SELECT * FROM share_grants WHERE board_id = ? AND subject_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &grants, q, boardID, subjectID); err != nil {
		return nil, fmt.Errorf("list share grants: %w", err)
	}
	return grants, nil
}

// DeleteShareGrant removes a share grant.
func (s *Store) DeleteShareGrant(ctx context.Context, id string) error {
	q := s.db.Rebind("DELETE FROM share_grants WHERE id = ?")
	return s.execOne(ctx, "delete share grant", q, id)
}

// execOne runs a statement that must affect exactly one row.
func (s *Store) execOne(ctx context.Context, op, q string, args ...any) error {
	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
