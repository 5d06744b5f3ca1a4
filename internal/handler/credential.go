package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/server/middleware"
	"github.com/canvasgate/canvasgate/internal/validate"
	"github.com/canvasgate/canvasgate/internal/vault"
)

// CredentialVault is the subset of the vault used over HTTP.
type CredentialVault interface {
	AddCredential(ctx context.Context, ownerID string, req vault.AddRequest) (*model.Credential, error)
	ListCredentials(ctx context.Context, ownerID string) ([]model.Credential, error)
	RevokeCredential(ctx context.Context, subjectID, credentialID string) error
	VerifyCredential(ctx context.Context, subjectID, credentialID string) error
}

// CredentialHandler manages a subject's own provider credentials.
type CredentialHandler struct {
	vault CredentialVault
}

// NewCredentialHandler creates a new CredentialHandler.
func NewCredentialHandler(v CredentialVault) *CredentialHandler {
	return &CredentialHandler{vault: v}
}

type addCredentialRequest struct {
	Provider string `json:"provider"`
	Nickname string `json:"nickname"`
	Secret   string `json:"secret"`
}

// Add stores a new credential. The response carries only the last four
// characters of the key.
// POST /api/v1/credentials
func (h *CredentialHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addCredentialRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cred, err := h.vault.AddCredential(r.Context(), middleware.SubjectID(r.Context()), vault.AddRequest{
		Provider: req.Provider,
		Nickname: req.Nickname,
		Secret:   []byte(req.Secret),
	})
	req.Secret = ""
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cred)
}

// List returns the caller's credentials.
// GET /api/v1/credentials
func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	creds, err := h.vault.ListCredentials(r.Context(), middleware.SubjectID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewListResponse(creds))
}

// Revoke marks a credential revoked. Credentials are never hard-deleted.
// DELETE /api/v1/credentials/{credentialID}
func (h *CredentialHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := validate.ID("credential_id", chi.URLParam(r, "credentialID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.vault.RevokeCredential(r.Context(), middleware.SubjectID(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": model.CredentialRevoked})
}

// Verify runs the provider liveness check against a stored credential and
// reports only whether the provider accepted it.
// POST /api/v1/credentials/{credentialID}/verify
func (h *CredentialHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := validate.ID("credential_id", chi.URLParam(r, "credentialID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = h.vault.VerifyCredential(r.Context(), middleware.SubjectID(r.Context()), id)
	if err != nil && apierr.KindOf(err) != apierr.KindUpstreamProvider {
		writeError(w, r, err)
		return
	}
	// A rejected key is a result, not a failure of this endpoint.
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "ok": err == nil})
}
