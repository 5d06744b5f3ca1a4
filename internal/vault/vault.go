// Package vault stores provider credentials encrypted at rest and resolves
// the credential a completion should use. Plaintext exists only inside a
// *Secret for the duration of one upstream call.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/canvasgate/canvasgate/internal/acl"
	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/config"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/validate"
)

const (
	minKeyLength = 20
	maxKeyLength = 256
)

// Store is the credential persistence the vault depends on.
type Store interface {
	CreateCredential(ctx context.Context, c *model.Credential) error
	GetCredential(ctx context.Context, id string) (*model.Credential, error)
	ListCredentials(ctx context.Context, ownerID string) ([]model.Credential, error)
	FindActiveCredential(ctx context.Context, ownerID string, provider model.Provider) (*model.Credential, error)
	RevokeCredential(ctx context.Context, id string) error
	GetBoard(ctx context.Context, id string) (*model.Board, error)
}

// Authorizer gates credential operations.
type Authorizer interface {
	RequireAccess(ctx context.Context, subjectID string, rt acl.ResourceType, id string, required acl.Level, action string) error
}

// Verifier performs a minimal authenticated call against a provider.
type Verifier interface {
	Verify(ctx context.Context, provider model.Provider, apiKey string) error
}

// Vault encrypts, stores and resolves provider credentials.
type Vault struct {
	store    Store
	cipher   *Cipher
	authz    Authorizer
	verifier Verifier
	verify   bool
	logger   *slog.Logger

	mu       sync.RWMutex
	fallback map[model.Provider]*fallbackKey
}

// Option configures a Vault.
type Option func(*Vault)

// WithVerifier enables liveness checks when credentials are added.
func WithVerifier(v Verifier) Option {
	return func(vt *Vault) {
		vt.verifier = v
		vt.verify = v != nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// New creates a Vault.
func New(store Store, c *Cipher, authz Authorizer, opts ...Option) *Vault {
	v := &Vault{
		store:    store,
		cipher:   c,
		authz:    authz,
		logger:   slog.Default(),
		fallback: make(map[model.Provider]*fallbackKey),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// SetFallback installs a process-wide credential for provider. An empty key
// removes it.
func (v *Vault) SetFallback(provider model.Provider, key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if key == "" {
		delete(v.fallback, provider)
		return
	}
	v.fallback[provider] = newFallbackKey(key)
}

// HasFallback reports whether provider has a process-wide credential.
func (v *Vault) HasFallback(provider model.Provider) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.fallback[provider]
	return ok
}

// AddRequest is a credential submitted by its owner. Secret is wiped by
// AddCredential.
type AddRequest struct {
	Provider string
	Nickname string
	Secret   []byte
}

// AddCredential checks, optionally verifies, encrypts and stores a credential.
func (v *Vault) AddCredential(ctx context.Context, ownerID string, req AddRequest) (*model.Credential, error) {
	defer wipe(req.Secret)

	if ownerID == "" {
		return nil, apierr.AuthenticationRequired()
	}
	provider, err := validate.Provider(req.Provider)
	if err != nil {
		return nil, err
	}
	nickname, err := validate.Nickname(req.Nickname)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(string(req.Secret))
	if err := checkKeyShape(provider, key); err != nil {
		return nil, err
	}

	if v.verify {
		if err := v.verifier.Verify(ctx, provider, key); err != nil {
			v.logger.Info("credential verification failed", "owner_id", ownerID, "provider", string(provider), "error", err)
			return nil, apierr.Validation("secret", "provider rejected the key")
		}
	}

	cred := &model.Credential{
		ID:       uuid.Must(uuid.NewV7()).String(),
		OwnerID:  ownerID,
		Provider: provider,
		Nickname: nickname,
		Last4:    key[len(key)-4:],
		Status:   model.CredentialActive,
	}
	cred.Ciphertext, err = v.cipher.Seal([]byte(key), credentialAAD(cred.ID, cred.OwnerID))
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if err := v.store.CreateCredential(ctx, cred); err != nil {
		return nil, apierr.Internal(err)
	}

	v.logger.Info("credential added", "owner_id", ownerID, "provider", string(provider), "credential_id", cred.ID)
	return cred, nil
}

// checkKeyShape is the structural sanity check run before any network call.
func checkKeyShape(provider model.Provider, key string) error {
	if len(key) < minKeyLength || len(key) > maxKeyLength {
		return apierr.Validation("secret", fmt.Sprintf("must be %d to %d characters", minKeyLength, maxKeyLength))
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return apierr.Validation("secret", "must not contain whitespace")
	}
	var ok bool
	switch provider {
	case model.ProviderOpenAI:
		ok = strings.HasPrefix(key, "sk-") && !strings.HasPrefix(key, "sk-ant-")
	case model.ProviderAnthropic:
		ok = strings.HasPrefix(key, "sk-ant-")
	case model.ProviderGoogle:
		ok = strings.HasPrefix(key, "AIza")
	}
	if !ok {
		return apierr.Validation("secret", fmt.Sprintf("does not look like a %s key", provider))
	}
	return nil
}

// ListCredentials returns the owner's credentials. Ciphertext never leaves
// the vault.
func (v *Vault) ListCredentials(ctx context.Context, ownerID string) ([]model.Credential, error) {
	if ownerID == "" {
		return nil, apierr.AuthenticationRequired()
	}
	creds, err := v.store.ListCredentials(ctx, ownerID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	for i := range creds {
		creds[i].Ciphertext = nil
	}
	return creds, nil
}

// RevokeCredential marks a credential revoked. Only its owner may revoke it.
func (v *Vault) RevokeCredential(ctx context.Context, subjectID, credentialID string) error {
	if subjectID == "" {
		return apierr.AuthenticationRequired()
	}
	if err := v.authz.RequireAccess(ctx, subjectID, acl.ResourceCredential, credentialID, acl.Admin, "revoke"); err != nil {
		return err
	}
	if err := v.store.RevokeCredential(ctx, credentialID); err != nil {
		return apierr.Internal(err)
	}
	v.logger.Info("credential revoked", "subject_id", subjectID, "credential_id", credentialID)
	return nil
}

// Decrypt returns the plaintext of one of the subject's own active
// credentials. The caller must Destroy the result.
func (v *Vault) Decrypt(ctx context.Context, subjectID, credentialID string) (*Secret, *model.Credential, error) {
	if subjectID == "" {
		return nil, nil, apierr.AuthenticationRequired()
	}
	if err := v.authz.RequireAccess(ctx, subjectID, acl.ResourceCredential, credentialID, acl.Admin, "decrypt"); err != nil {
		return nil, nil, err
	}
	cred, err := v.store.GetCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, nil, apierr.AccessDenied(string(acl.ResourceCredential), credentialID)
		}
		return nil, nil, apierr.Internal(err)
	}
	if !cred.IsActive() {
		return nil, nil, apierr.CredentialNotFound(cred.Provider)
	}
	s, err := v.open(cred)
	if err != nil {
		return nil, nil, err
	}
	return s, cred, nil
}

// VerifyCredential decrypts a credential and runs the provider liveness call.
func (v *Vault) VerifyCredential(ctx context.Context, subjectID, credentialID string) error {
	s, cred, err := v.Decrypt(ctx, subjectID, credentialID)
	if err != nil {
		return err
	}
	defer s.Destroy()
	if v.verifier == nil {
		return nil
	}
	if err := v.verifier.Verify(ctx, cred.Provider, s.Reveal()); err != nil {
		return apierr.Upstream(cred.Provider, err)
	}
	return nil
}

// Source names where a resolved credential came from.
type Source string

const (
	SourceBoardDefault Source = "board_default"
	SourceSubject      Source = "subject"
	SourceFallback     Source = "fallback"
)

// Resolved is the outcome of Resolve. Secret must be destroyed by the caller.
type Resolved struct {
	Secret       *Secret
	Source       Source
	CredentialID string
}

// Resolve picks the credential for a completion on boardID. First match
// wins: the board's default credential when its provider matches, then the
// subject's newest active credential, then the process-wide fallback.
// Nothing is cached; two calls with the same inputs decrypt twice.
func (v *Vault) Resolve(ctx context.Context, subjectID, boardID string, provider model.Provider) (*Resolved, error) {
	if subjectID == "" {
		return nil, apierr.AuthenticationRequired()
	}

	if boardID != "" {
		b, err := v.store.GetBoard(ctx, boardID)
		if err != nil && !errors.Is(err, config.ErrNotFound) {
			return nil, apierr.Internal(err)
		}
		if b != nil && b.DefaultCredentialID != "" {
			cred, err := v.store.GetCredential(ctx, b.DefaultCredentialID)
			switch {
			case err == nil && cred.IsActive() && cred.Provider == provider:
				s, err := v.open(cred)
				if err != nil {
					return nil, err
				}
				return &Resolved{Secret: s, Source: SourceBoardDefault, CredentialID: cred.ID}, nil
			case err != nil && !errors.Is(err, config.ErrNotFound):
				return nil, apierr.Internal(err)
			}
		}
	}

	cred, err := v.store.FindActiveCredential(ctx, subjectID, provider)
	switch {
	case err == nil:
		s, err := v.open(cred)
		if err != nil {
			return nil, err
		}
		return &Resolved{Secret: s, Source: SourceSubject, CredentialID: cred.ID}, nil
	case !errors.Is(err, config.ErrNotFound):
		return nil, apierr.Internal(err)
	}

	v.mu.RLock()
	fb := v.fallback[provider]
	v.mu.RUnlock()
	if fb != nil {
		s, err := fb.open()
		if err != nil {
			return nil, apierr.Internal(err)
		}
		return &Resolved{Secret: s, Source: SourceFallback}, nil
	}

	return nil, apierr.CredentialNotFound(provider)
}

func (v *Vault) open(cred *model.Credential) (*Secret, error) {
	plain, err := v.cipher.Open(cred.Ciphertext, credentialAAD(cred.ID, cred.OwnerID))
	if err != nil {
		v.logger.Error("credential decryption failed", "credential_id", cred.ID, "error", err)
		return nil, apierr.Internal(err)
	}
	return NewSecret(plain), nil
}
