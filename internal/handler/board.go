package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/canvasgate/canvasgate/internal/acl"
	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/config"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/server/middleware"
	"github.com/canvasgate/canvasgate/internal/validate"
)

// BoardStore is the graph store behind the board endpoints.
type BoardStore interface {
	CreateBoard(ctx context.Context, b *model.Board) error
	GetBoard(ctx context.Context, id string) (*model.Board, error)
	CreateNode(ctx context.Context, n *model.Node) error
	ListNodes(ctx context.Context, boardID string) ([]model.Node, error)
	SetBoardDefaultCredential(ctx context.Context, boardID, credentialID string) error
	GetCredential(ctx context.Context, id string) (*model.Credential, error)
	CreateShareGrant(ctx context.Context, g *model.ShareGrant) error
	GetShareGrant(ctx context.Context, id string) (*model.ShareGrant, error)
	DeleteShareGrant(ctx context.Context, id string) error
}

// Authorizer gates access to boards and their children.
type Authorizer interface {
	RequireAccess(ctx context.Context, subjectID string, rt acl.ResourceType, id string, required acl.Level, action string) error
}

// ActivityTracker observes subject activity for anomaly detection.
type ActivityTracker interface {
	Track(ctx context.Context, subjectID string, activity model.ActivityType) []model.SecurityAlert
}

// BoardHandler serves boards, nodes, share grants and exports.
type BoardHandler struct {
	store    BoardStore
	acl      Authorizer
	detector ActivityTracker
	now      func() time.Time
}

// NewBoardHandler creates a new BoardHandler. detector may be nil.
func NewBoardHandler(store BoardStore, authz Authorizer, detector ActivityTracker) *BoardHandler {
	return &BoardHandler{store: store, acl: authz, detector: detector, now: time.Now}
}

type boardRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
}

// boardView is a board with its nodes.
type boardView struct {
	*model.Board
	Nodes []model.Node `json:"nodes"`
}

func boardParam(r *http.Request) (string, error) {
	return validate.ID("board_id", chi.URLParam(r, "boardID"))
}

// CreateBoard creates a board owned by the caller.
// POST /api/v1/boards
func (h *BoardHandler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectID(r.Context())
	if subject == "" {
		writeError(w, r, apierr.AuthenticationRequired())
		return
	}
	var req boardRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	title, err := validate.Title(req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	desc, err := validate.Description(req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}

	b := &model.Board{OwnerID: subject, Title: title, Description: desc, IsPublic: req.IsPublic}
	if err := h.store.CreateBoard(r.Context(), b); err != nil {
		writeError(w, r, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBoard returns a board and its nodes to anyone who can read it.
// GET /api/v1/boards/{boardID}
func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	view, err := h.readBoard(r, "read")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *BoardHandler) readBoard(r *http.Request, action string) (*boardView, error) {
	boardID, err := boardParam(r)
	if err != nil {
		return nil, err
	}
	subject := middleware.SubjectID(r.Context())
	if err := h.acl.RequireAccess(r.Context(), subject, acl.ResourceBoard, boardID, acl.Read, action); err != nil {
		return nil, err
	}
	b, err := h.store.GetBoard(r.Context(), boardID)
	if err != nil {
		return nil, notFoundAsDenied(err, acl.ResourceBoard, boardID)
	}
	nodes, err := h.store.ListNodes(r.Context(), boardID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if nodes == nil {
		nodes = []model.Node{}
	}
	return &boardView{Board: b, Nodes: nodes}, nil
}

type nodeRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CreateNode adds a node to a board the caller can write to. Assistant nodes
// may start empty; they receive generated text.
// POST /api/v1/boards/{boardID}/nodes
func (h *BoardHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	boardID, err := boardParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	subject := middleware.SubjectID(r.Context())
	if err := h.acl.RequireAccess(r.Context(), subject, acl.ResourceBoard, boardID, acl.Write, "create_node"); err != nil {
		writeError(w, r, err)
		return
	}
	var req nodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	role, err := validate.Role(req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	content := req.Content
	if role != string(model.NodeRoleAssistant) || strings.TrimSpace(content) != "" {
		if content, err = validate.Content("content", content); err != nil {
			writeError(w, r, err)
			return
		}
		if content, err = validate.SanitizeDisplay("content", content); err != nil {
			writeError(w, r, err)
			return
		}
	}

	n := &model.Node{BoardID: boardID, Role: model.NodeRole(role), Content: content}
	if err := h.store.CreateNode(r.Context(), n); err != nil {
		writeError(w, r, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

type defaultCredentialRequest struct {
	CredentialID string `json:"credential_id"`
}

// SetDefaultCredential makes one of the caller's credentials the board's
// default, or clears it with an empty id. Both the board and the credential
// must belong to the caller.
// PUT /api/v1/boards/{boardID}/default-credential
func (h *BoardHandler) SetDefaultCredential(w http.ResponseWriter, r *http.Request) {
	boardID, err := boardParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	subject := middleware.SubjectID(r.Context())
	if err := h.acl.RequireAccess(r.Context(), subject, acl.ResourceBoard, boardID, acl.Admin, "set_default_credential"); err != nil {
		writeError(w, r, err)
		return
	}
	var req defaultCredentialRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.CredentialID != "" {
		if _, err := validate.ID("credential_id", req.CredentialID); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.acl.RequireAccess(r.Context(), subject, acl.ResourceCredential, req.CredentialID, acl.Admin, "set_default_credential"); err != nil {
			writeError(w, r, err)
			return
		}
		cred, err := h.store.GetCredential(r.Context(), req.CredentialID)
		if err != nil {
			writeError(w, r, notFoundAsDenied(err, acl.ResourceCredential, req.CredentialID))
			return
		}
		if !cred.IsActive() {
			writeError(w, r, apierr.Validation("credential_id", "credential is revoked"))
			return
		}
	}
	if err := h.store.SetBoardDefaultCredential(r.Context(), boardID, req.CredentialID); err != nil {
		writeError(w, r, notFoundAsDenied(err, acl.ResourceBoard, boardID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"board_id": boardID, "default_credential_id": req.CredentialID})
}

type shareRequest struct {
	SubjectID  string     `json:"subject_id"`
	Capability string     `json:"capability"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Share grants another subject view or comment access to the board.
// POST /api/v1/boards/{boardID}/shares
func (h *BoardHandler) Share(w http.ResponseWriter, r *http.Request) {
	boardID, err := boardParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	subject := middleware.SubjectID(r.Context())
	if err := h.acl.RequireAccess(r.Context(), subject, acl.ResourceBoard, boardID, acl.Admin, "share"); err != nil {
		writeError(w, r, err)
		return
	}
	var req shareRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	grantee, err := validate.ID("subject_id", req.SubjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if grantee == subject {
		writeError(w, r, apierr.Validation("subject_id", "cannot share a board with its owner"))
		return
	}
	c := model.Capability(req.Capability)
	if !c.Valid() {
		writeError(w, r, apierr.Validation("capability", "must be view or comment"))
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(h.now()) {
		writeError(w, r, apierr.Validation("expires_at", "must be in the future"))
		return
	}

	g := &model.ShareGrant{BoardID: boardID, SubjectID: grantee, Capability: c, CreatedBy: subject, ExpiresAt: req.ExpiresAt}
	if err := h.store.CreateShareGrant(r.Context(), g); err != nil {
		writeError(w, r, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// Unshare removes a share grant.
// DELETE /api/v1/boards/{boardID}/shares/{shareID}
func (h *BoardHandler) Unshare(w http.ResponseWriter, r *http.Request) {
	boardID, err := boardParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	shareID, err := validate.ID("share_id", chi.URLParam(r, "shareID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	subject := middleware.SubjectID(r.Context())
	if err := h.acl.RequireAccess(r.Context(), subject, acl.ResourceShare, shareID, acl.Admin, "unshare"); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := h.store.GetShareGrant(r.Context(), shareID)
	if err != nil || g.BoardID != boardID {
		writeError(w, r, apierr.AccessDenied(string(acl.ResourceShare), shareID))
		return
	}
	if err := h.store.DeleteShareGrant(r.Context(), shareID); err != nil {
		writeError(w, r, notFoundAsDenied(err, acl.ResourceShare, shareID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export returns the board document for download and counts the export
// towards the caller's anomaly window.
// POST /api/v1/boards/{boardID}/exports
func (h *BoardHandler) Export(w http.ResponseWriter, r *http.Request) {
	view, err := h.readBoard(r, "export")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.detector != nil {
		h.detector.Track(r.Context(), middleware.SubjectID(r.Context()), model.ActivityExport)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exported_at": h.now().UTC(),
		"board":       view,
	})
}

// notFoundAsDenied keeps missing resources indistinguishable from
// forbidden ones.
func notFoundAsDenied(err error, rt acl.ResourceType, id string) error {
	if errors.Is(err, config.ErrNotFound) {
		return apierr.AccessDenied(string(rt), id)
	}
	return apierr.Internal(err)
}
