package model

import "time"

// Board is the top-level canvas document. Access to its nodes and edges is
// derived from the board.
type Board struct {
	ID                  string    `json:"id" db:"id"`
	OwnerID             string    `json:"owner_id" db:"owner_id"`
	Title               string    `json:"title" db:"title"`
	Description         string    `json:"description" db:"description"`
	IsPublic            bool      `json:"is_public" db:"is_public"`
	DefaultCredentialID string    `json:"default_credential_id,omitempty" db:"default_credential_id"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// NodeRole tags a node as user input or generated output.
type NodeRole string

const (
	NodeRoleUser      NodeRole = "user"
	NodeRoleAssistant NodeRole = "assistant"
	NodeRoleSystem    NodeRole = "system"
)

// Node is a single card on a board. Assistant nodes receive generated text.
type Node struct {
	ID        string    `json:"id" db:"id"`
	BoardID   string    `json:"board_id" db:"board_id"`
	Role      NodeRole  `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	Model     string    `json:"model,omitempty" db:"model"`
	Provider  Provider  `json:"provider,omitempty" db:"provider"`
	Tokens    int       `json:"tokens" db:"tokens"`
	Streaming bool      `json:"streaming" db:"streaming"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Capability is the permission carried by a share grant.
type Capability string

const (
	CapabilityView    Capability = "view"
	CapabilityComment Capability = "comment"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return c == CapabilityView || c == CapabilityComment
}

// ShareGrant delegates access on a board to another subject until ExpiresAt.
type ShareGrant struct {
	ID         string     `json:"id" db:"id"`
	BoardID    string     `json:"board_id" db:"board_id"`
	SubjectID  string     `json:"subject_id" db:"subject_id"`
	Capability Capability `json:"capability" db:"capability"`
	CreatedBy  string     `json:"created_by" db:"created_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether the grant is past its expiry at now.
func (g *ShareGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// Edge connects two nodes on the same board.
type Edge struct {
	ID        string    `json:"id" db:"id"`
	BoardID   string    `json:"board_id" db:"board_id"`
	SourceID  string    `json:"source_id" db:"source_id"`
	TargetID  string    `json:"target_id" db:"target_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
