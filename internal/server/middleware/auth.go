package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated subject.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Validator verifies bearer tokens.
type Validator interface {
	ValidateJWT(ctx context.Context, token string) (*service.Subject, error)
}

// AuthFailureFunc observes rejected credentials, e.g. to feed the anomaly
// detector.
type AuthFailureFunc func(r *http.Request)

// Authenticate returns an HTTP middleware that validates the JWT bearer
// token in the Authorization header. On success, the Subject is attached
// to the request context. On failure, a 401 JSON error response is
// returned and onFailure, if set, is called for presented but invalid
// tokens.
func Authenticate(auth Validator, onFailure AuthFailureFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeAuthError(w, r, apierr.AuthenticationRequired())
				return
			}

			subj, err := auth.ValidateJWT(r.Context(), strings.TrimSpace(token))
			if err != nil {
				if onFailure != nil {
					onFailure(r)
				}
				e := apierr.AuthenticationRequired()
				if errors.Is(err, service.ErrTokenExpired) {
					e.Message = "token expired"
				}
				writeAuthError(w, r, e)
				return
			}

			noteSubject(r.Context(), subj.ID)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), subj)))
		})
	}
}

// RequireOperator returns an HTTP middleware that enforces the operator
// role. It must be used after Authenticate in the middleware chain.
func RequireOperator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !GetPrincipal(r.Context()).IsOperator() {
				writeAuthError(w, r, apierr.AccessDenied("operator", ""))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated subject from the context.
// Returns nil if no subject is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *service.Subject {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Subject); ok {
		return p
	}
	return nil
}

// SubjectID returns the authenticated subject id, or "".
func SubjectID(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.ID
	}
	return ""
}

// WithPrincipal attaches subj to ctx.
func WithPrincipal(ctx context.Context, subj *service.Subject) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, subj)
}

func writeAuthError(w http.ResponseWriter, r *http.Request, e *apierr.Error) {
	status := e.Kind.HTTPStatus()
	ctx := e.Context()
	if id := GetRequestID(r.Context()); id != "" {
		ctx["request_id"] = id
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: e.Message, Context: ctx},
	})
}
