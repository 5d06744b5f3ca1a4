// Package acl resolves a subject's effective access level on boards, nodes,
// edges, credentials and share grants. Nodes, edges and share grants have no
// access of their own; they inherit from the owning board.
package acl

import (
	"context"
	"log/slog"
	"time"

	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/observability"
)

// Level is an effective access level. Higher levels satisfy lower ones.
type Level int

const (
	None Level = iota
	Read
	Write
	Admin
)

func (l Level) String() string {
	switch l {
	case Read:
		return "read"
	case Write:
		return "write"
	case Admin:
		return "admin"
	default:
		return "none"
	}
}

// ResourceType names an access-controlled entity.
type ResourceType string

const (
	ResourceBoard      ResourceType = "board"
	ResourceNode       ResourceType = "node"
	ResourceEdge       ResourceType = "edge"
	ResourceCredential ResourceType = "credential"
	ResourceShare      ResourceType = "share"
)

// DefaultAuditTimeout bounds each audit write.
const DefaultAuditTimeout = 250 * time.Millisecond

// ResourceStore reads the ownership metadata access decisions depend on.
// It is queried on every decision; nothing is cached.
type ResourceStore interface {
	GetBoard(ctx context.Context, id string) (*model.Board, error)
	GetNode(ctx context.Context, id string) (*model.Node, error)
	GetEdge(ctx context.Context, id string) (*model.Edge, error)
	GetCredential(ctx context.Context, id string) (*model.Credential, error)
	GetShareGrant(ctx context.Context, id string) (*model.ShareGrant, error)
	ListShareGrants(ctx context.Context, boardID, subjectID string) ([]model.ShareGrant, error)
}

// AuditWriter persists access decisions.
type AuditWriter interface {
	InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error
}

// Checker makes and audits access decisions.
type Checker struct {
	store        ResourceStore
	audit        AuditWriter
	logger       *slog.Logger
	auditTimeout time.Duration
	onAuditFail  func()
	now          func() time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithAuditTimeout bounds each audit write.
func WithAuditTimeout(d time.Duration) Option {
	return func(c *Checker) { c.auditTimeout = d }
}

// WithAuditFailureHook is called whenever an audit write fails.
func WithAuditFailureHook(fn func()) Option {
	return func(c *Checker) { c.onAuditFail = fn }
}

// WithClock overrides the time source used for grant expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// New creates a Checker. audit may be nil to disable auditing.
func New(store ResourceStore, audit AuditWriter, logger *slog.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		store:        store,
		audit:        audit,
		logger:       logger,
		auditTimeout: DefaultAuditTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Level returns the subject's effective level on the resource. Lookup misses
// and store errors resolve to None.
func (c *Checker) Level(ctx context.Context, subjectID string, rt ResourceType, id string) Level {
	if subjectID == "" || id == "" {
		return None
	}
	switch rt {
	case ResourceBoard:
		return c.boardLevel(ctx, subjectID, id)
	case ResourceNode:
		n, err := c.store.GetNode(ctx, id)
		if err != nil {
			c.lookupFailed(rt, id, err)
			return None
		}
		return c.boardLevel(ctx, subjectID, n.BoardID)
	case ResourceEdge:
		e, err := c.store.GetEdge(ctx, id)
		if err != nil {
			c.lookupFailed(rt, id, err)
			return None
		}
		return c.boardLevel(ctx, subjectID, e.BoardID)
	case ResourceShare:
		g, err := c.store.GetShareGrant(ctx, id)
		if err != nil {
			c.lookupFailed(rt, id, err)
			return None
		}
		return c.boardLevel(ctx, subjectID, g.BoardID)
	case ResourceCredential:
		cred, err := c.store.GetCredential(ctx, id)
		if err != nil {
			c.lookupFailed(rt, id, err)
			return None
		}
		if cred.OwnerID == subjectID {
			return Admin
		}
		return None
	}
	return None
}

func (c *Checker) boardLevel(ctx context.Context, subjectID, boardID string) Level {
	b, err := c.store.GetBoard(ctx, boardID)
	if err != nil {
		c.lookupFailed(ResourceBoard, boardID, err)
		return None
	}
	if b.OwnerID == subjectID {
		return Admin
	}

	level := None
	if b.IsPublic {
		level = Read
	}

	grants, err := c.store.ListShareGrants(ctx, boardID, subjectID)
	if err != nil {
		c.lookupFailed(ResourceShare, boardID, err)
		return level
	}
	now := c.now()
	for _, g := range grants {
		if g.Expired(now) {
			continue
		}
		if gl := capabilityLevel(g.Capability); gl > level {
			level = gl
		}
	}
	return level
}

func capabilityLevel(c model.Capability) Level {
	switch c {
	case model.CapabilityView:
		return Read
	case model.CapabilityComment:
		return Write
	}
	return None
}

func (c *Checker) lookupFailed(rt ResourceType, id string, err error) {
	c.logger.Debug("access lookup failed", "resource_type", string(rt), "resource_id", id, "error", err)
}

// CheckAccess reports whether the subject holds at least required on the
// resource, and audits the decision.
func (c *Checker) CheckAccess(ctx context.Context, subjectID string, rt ResourceType, id string, required Level) bool {
	ok := c.Level(ctx, subjectID, rt, id) >= required
	c.record(ctx, subjectID, rt, id, required.String(), ok)
	return ok
}

// RequireAccess is CheckAccess returning AccessDenied on failure. action
// names the operation in the audit ledger.
func (c *Checker) RequireAccess(ctx context.Context, subjectID string, rt ResourceType, id string, required Level, action string) error {
	ok := c.Level(ctx, subjectID, rt, id) >= required
	if action == "" {
		action = required.String()
	}
	c.record(ctx, subjectID, rt, id, action, ok)
	if !ok {
		return apierr.AccessDenied(string(rt), id)
	}
	return nil
}

// record writes an audit entry. Failures are logged and swallowed so the
// primary operation is never blocked past the audit timeout.
func (c *Checker) record(ctx context.Context, subjectID string, rt ResourceType, id, action string, ok bool) {
	if c.audit == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.auditTimeout)
	defer cancel()

	entry := &model.AuditEntry{
		SubjectID:    subjectID,
		ResourceType: string(rt),
		ResourceID:   id,
		Action:       action,
		Success:      ok,
		RequestID:    observability.RequestIDFromContext(ctx),
	}
	if err := c.audit.InsertAuditEntry(actx, entry); err != nil {
		if c.onAuditFail != nil {
			c.onAuditFail()
		}
		c.logger.Warn("audit write failed",
			"subject_id", subjectID, "resource_type", string(rt), "action", action, "error", err)
	}
}
