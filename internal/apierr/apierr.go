// Package apierr defines the gateway's error taxonomy. Every failure that can
// reach a caller is an *Error with a Kind, a stable message that is safe to
// display, and an optional wrapped cause that is never rendered to callers.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/canvasgate/canvasgate/internal/model"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthenticationRequired
	KindAccessDenied
	KindValidation
	KindRateLimitExceeded
	KindCredentialNotFound
	KindUpstreamProvider
	KindStreamInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationRequired:
		return "AuthenticationRequired"
	case KindAccessDenied:
		return "AccessDenied"
	case KindValidation:
		return "ValidationError"
	case KindRateLimitExceeded:
		return "RateLimitExceeded"
	case KindCredentialNotFound:
		return "CredentialNotFound"
	case KindUpstreamProvider:
		return "UpstreamProviderError"
	case KindStreamInterrupted:
		return "StreamInterrupted"
	default:
		return "Internal"
	}
}

// HTTPStatus returns the response status used for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthenticationRequired:
		return http.StatusUnauthorized
	case KindAccessDenied:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindCredentialNotFound:
		return http.StatusFailedDependency
	case KindUpstreamProvider, KindStreamInterrupted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified gateway error.
type Error struct {
	Kind         Kind
	Message      string
	Field        string
	ResourceType string
	ResourceID   string
	Provider     model.Provider
	RetryAfter   time.Duration

	cause error
}

// Error returns the stable message, never the cause.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error of the same kind, so sentinel-style checks like
// errors.Is(err, apierr.ErrAccessDenied) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons by kind.
var (
	ErrAuthenticationRequired = &Error{Kind: KindAuthenticationRequired}
	ErrAccessDenied           = &Error{Kind: KindAccessDenied}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrRateLimitExceeded      = &Error{Kind: KindRateLimitExceeded}
	ErrCredentialNotFound     = &Error{Kind: KindCredentialNotFound}
	ErrUpstreamProvider       = &Error{Kind: KindUpstreamProvider}
	ErrStreamInterrupted      = &Error{Kind: KindStreamInterrupted}
)

// AuthenticationRequired is returned when no subject identity is present.
func AuthenticationRequired() *Error {
	return &Error{Kind: KindAuthenticationRequired, Message: "authentication required"}
}

// AccessDenied carries the resource type and id, never its content.
func AccessDenied(resourceType, resourceID string) *Error {
	return &Error{
		Kind:         KindAccessDenied,
		Message:      fmt.Sprintf("access denied to %s", resourceType),
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Validation describes a violated input constraint on field.
func Validation(field, reason string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
		Field:   field,
	}
}

// RateLimited is returned when an operation's window is exhausted.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimitExceeded,
		Message:    "rate limit exceeded, retry later",
		RetryAfter: retryAfter,
	}
}

// CredentialNotFound names the provider but nothing about any key.
func CredentialNotFound(provider model.Provider) *Error {
	return &Error{
		Kind:     KindCredentialNotFound,
		Message:  fmt.Sprintf("no usable credential for provider %s", provider),
		Provider: provider,
	}
}

// Upstream wraps a provider failure.
func Upstream(provider model.Provider, cause error) *Error {
	return &Error{
		Kind:     KindUpstreamProvider,
		Message:  fmt.Sprintf("upstream provider %s failed", provider),
		Provider: provider,
		cause:    cause,
	}
}

// StreamInterrupted wraps a transport failure in the middle of a stream.
func StreamInterrupted(provider model.Provider, cause error) *Error {
	return &Error{
		Kind:     KindStreamInterrupted,
		Message:  fmt.Sprintf("stream from provider %s was interrupted", provider),
		Provider: provider,
		cause:    cause,
	}
}

// Internal wraps an unexpected failure behind a generic message.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// From classifies any error, mapping unclassified errors to Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// KindOf returns the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	return From(err).Kind
}

// Context returns the non-sensitive fields suitable for an error envelope.
func (e *Error) Context() map[string]interface{} {
	ctx := map[string]interface{}{"kind": e.Kind.String()}
	if e.Field != "" {
		ctx["field"] = e.Field
	}
	if e.ResourceType != "" {
		ctx["resource_type"] = e.ResourceType
	}
	if e.Provider != "" {
		ctx["provider"] = string(e.Provider)
	}
	if e.RetryAfter > 0 {
		ctx["retry_after_seconds"] = int(e.RetryAfter.Round(time.Second) / time.Second)
	}
	return ctx
}
