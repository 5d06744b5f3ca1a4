// Package provider adapts upstream language-model APIs to one interface.
// Each provider is a separate implementation; adding one means adding a
// type, not extending a switch.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/canvasgate/canvasgate/internal/model"
)

// Request is a validated upstream request. Messages are already ordered and
// may start with a system instruction.
type Request struct {
	Model       string
	Messages    []model.Message
	Temperature float64
	MaxTokens   int
	WebSearch   bool
}

// Response is a complete non-streaming answer.
type Response struct {
	Text  string
	Usage model.TokenUsage
}

// Chunk is one increment of a stream. Usage is set on the chunk that
// carries the provider's reported counts, usually the last one.
type Chunk struct {
	Text  string
	Usage *model.TokenUsage
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Provider is one upstream language-model service. apiKey is the transient
// plaintext credential for this call only; implementations must not retain it.
type Provider interface {
	Name() model.Provider
	Complete(ctx context.Context, apiKey string, req *Request) (*Response, error)
	Stream(ctx context.Context, apiKey string, req *Request) (Stream, error)
	Verify(ctx context.Context, apiKey string) error
}

// defaultModels are used when a request names no model.
var defaultModels = map[model.Provider]string{
	model.ProviderOpenAI:    "gpt-4o-mini",
	model.ProviderAnthropic: "claude-3-5-haiku-latest",
	model.ProviderGoogle:    "gemini-2.0-flash",
}

// DefaultModel returns the model used when a request names none.
func DefaultModel(p model.Provider) string {
	return defaultModels[p]
}

// Options configures a provider endpoint.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// StatusError is a non-2xx upstream response. It never carries the response
// body.
type StatusError struct {
	Provider   model.Provider
	StatusCode int
	Type       string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s returned HTTP %d (%s)", e.Provider, e.StatusCode, e.Type)
	}
	return fmt.Sprintf("%s returned HTTP %d", e.Provider, e.StatusCode)
}

// ErrEmptyResponse is returned when a provider answers without any choice.
var ErrEmptyResponse = errors.New("provider returned no content")

// ErrUnknownProvider is returned by Registry.Get for unregistered providers.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry maps provider names to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[model.Provider]Provider
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[model.Provider]Provider, len(ps))}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name model.Provider) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]model.Provider, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Verify runs the named provider's liveness check.
func (r *Registry) Verify(ctx context.Context, name model.Provider, apiKey string) error {
	p, err := r.Get(name)
	if err != nil {
		return err
	}
	return p.Verify(ctx, apiKey)
}

// Defaults builds the standard registry. opts is keyed by provider; missing
// entries use the public endpoints.
func Defaults(opts map[model.Provider]Options) *Registry {
	return NewRegistry(
		NewOpenAI(opts[model.ProviderOpenAI]),
		NewGoogle(opts[model.ProviderGoogle]),
		NewAnthropic(opts[model.ProviderAnthropic]),
	)
}
