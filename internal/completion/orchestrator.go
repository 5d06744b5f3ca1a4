// Package completion runs the gateway's request lifecycle: authenticate,
// rate-limit, authorize, validate, resolve a credential, call the provider,
// persist output and record usage. Both the synchronous and the streaming
// path share one preflight.
package completion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/canvasgate/canvasgate/internal/acl"
	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/observability"
	"github.com/canvasgate/canvasgate/internal/provider"
	"github.com/canvasgate/canvasgate/internal/ratelimit"
	"github.com/canvasgate/canvasgate/internal/validate"
	"github.com/canvasgate/canvasgate/internal/vault"
)

// Operation names used for rate limits, metrics and logs.
const (
	OpComplete = "completion"
	OpStream   = "completion_stream"
)

// Defaults match the platform constants.
const (
	DefaultFlushEveryChunks = 10
	DefaultFlushInterval    = 750 * time.Millisecond
	DefaultWriteTimeout     = 2 * time.Second
	finalWriteTimeout       = 5 * time.Second
)

var tracer = otel.Tracer("github.com/canvasgate/canvasgate/internal/completion")

// NodeStore is the graph collaborator: node lookup plus content writes.
type NodeStore interface {
	NodeWriter
	GetNode(ctx context.Context, id string) (*model.Node, error)
	FinishNode(ctx context.Context, nodeID, content string, tokens int, p model.Provider, modelName string) error
}

// Authorizer gates access to the target node.
type Authorizer interface {
	RequireAccess(ctx context.Context, subjectID string, rt acl.ResourceType, id string, required acl.Level, action string) error
}

// RateLimiter enforces per-operation limits.
type RateLimiter interface {
	Check(ctx context.Context, rule ratelimit.Rule, subjectID string) error
}

// CredentialResolver resolves and decrypts the credential for a call.
type CredentialResolver interface {
	Resolve(ctx context.Context, subjectID, boardID string, p model.Provider) (*vault.Resolved, error)
}

// Providers looks up provider implementations.
type Providers interface {
	Get(name model.Provider) (provider.Provider, error)
}

// UsageRecorder writes the usage ledger.
type UsageRecorder interface {
	Record(ctx context.Context, e model.UsageEvent) error
}

// ActivityTracker observes subject activity for anomaly detection.
type ActivityTracker interface {
	Track(ctx context.Context, subjectID string, activity model.ActivityType) []model.SecurityAlert
}

// Deps are the collaborators of an Orchestrator. Detector, Tracker and
// Metrics may be nil.
type Deps struct {
	Nodes     NodeStore
	ACL       Authorizer
	Limiter   RateLimiter
	Vault     CredentialResolver
	Providers Providers
	Usage     UsageRecorder
	Detector  ActivityTracker
	Tracker   *observability.Tracker
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Config tunes the orchestrator.
type Config struct {
	CompletionRule   ratelimit.Rule
	StreamRule       ratelimit.Rule
	FlushEveryChunks int
	FlushInterval    time.Duration
	WriteTimeout     time.Duration
	Search           SearchPredicate
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		CompletionRule:   ratelimit.Rule{Operation: OpComplete, MaxRequests: 20, Window: time.Minute},
		StreamRule:       ratelimit.Rule{Operation: OpStream, MaxRequests: 10, Window: time.Minute},
		FlushEveryChunks: DefaultFlushEveryChunks,
		FlushInterval:    DefaultFlushInterval,
		WriteTimeout:     DefaultWriteTimeout,
		Search:           LexicalSearch,
	}
}

// Orchestrator runs completions.
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New creates an Orchestrator. Zero Config fields take their defaults.
func New(deps Deps, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.CompletionRule.Operation == "" {
		cfg.CompletionRule = def.CompletionRule
	}
	if cfg.StreamRule.Operation == "" {
		cfg.StreamRule = def.StreamRule
	}
	if cfg.FlushEveryChunks <= 0 {
		cfg.FlushEveryChunks = def.FlushEveryChunks
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Search == nil {
		cfg.Search = def.Search
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

// Target addresses the node that receives the generated text.
type Target struct {
	BoardID string
	NodeID  string
}

// call is the output of preflight: everything needed to invoke a provider.
type call struct {
	requestID string
	subjectID string
	node      *model.Node
	provider  provider.Provider
	request   *provider.Request
	secret    *vault.Resolved
}

func (c *call) providerName() model.Provider { return c.provider.Name() }

// preflight runs every check that must pass before network or decryption
// work, cheapest first.
func (o *Orchestrator) preflight(ctx context.Context, rule ratelimit.Rule, subjectID string, target Target, req model.CompletionRequest) (*call, error) {
	ctx, span := tracer.Start(ctx, "completion.preflight")
	defer span.End()

	if subjectID == "" {
		return nil, apierr.AuthenticationRequired()
	}
	if o.deps.Detector != nil {
		o.deps.Detector.Track(ctx, subjectID, model.ActivityRequest)
	}

	if err := o.deps.Limiter.Check(ctx, rule, subjectID); err != nil {
		return nil, err
	}

	if err := o.deps.ACL.RequireAccess(ctx, subjectID, acl.ResourceNode, target.NodeID, acl.Write, rule.Operation); err != nil {
		return nil, err
	}
	node, err := o.deps.Nodes.GetNode(ctx, target.NodeID)
	if err != nil {
		return nil, apierr.AccessDenied(string(acl.ResourceNode), target.NodeID)
	}
	if target.BoardID != "" && node.BoardID != target.BoardID {
		return nil, apierr.AccessDenied(string(acl.ResourceNode), target.NodeID)
	}

	providerName, err := validate.Provider(string(req.Provider))
	if err != nil {
		return nil, err
	}
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = provider.DefaultModel(providerName)
	}
	if modelName, err = validate.Model(modelName); err != nil {
		return nil, err
	}
	temperature, err := validate.Temperature(req.Temperature)
	if err != nil {
		return nil, err
	}
	maxTokens, err := validate.MaxTokens(req.MaxTokens)
	if err != nil {
		return nil, err
	}
	msgs, err := validate.Messages(req.Messages)
	if err != nil {
		return nil, err
	}

	impl, err := o.deps.Providers.Get(providerName)
	if err != nil {
		return nil, apierr.Validation("provider", "is not enabled")
	}

	search := o.cfg.Search(msgs)
	if search {
		msgs = append([]model.Message{{Role: string(model.NodeRoleSystem), Content: SearchInstruction}}, msgs...)
	}

	resolved, err := o.deps.Vault.Resolve(ctx, subjectID, node.BoardID, providerName)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("provider", string(providerName)),
		attribute.String("model", modelName),
		attribute.Bool("web_search", search),
		attribute.String("credential_source", string(resolved.Source)),
	)
	return &call{
		subjectID: subjectID,
		node:      node,
		provider:  impl,
		secret:    resolved,
		request: &provider.Request{
			Model:       modelName,
			Messages:    msgs,
			Temperature: temperature,
			MaxTokens:   maxTokens,
			WebSearch:   search,
		},
	}, nil
}

// begin starts tracking and tracing for one invocation.
func (o *Orchestrator) begin(ctx context.Context, op, subjectID string) (context.Context, string, trace.Span) {
	requestID := observability.RequestIDFromContext(ctx)
	if o.deps.Tracker != nil {
		requestID = o.deps.Tracker.StartWithID(requestID, op, subjectID)
	}
	ctx = observability.WithRequestID(ctx, requestID)
	ctx, span := tracer.Start(ctx, "completion."+op, trace.WithAttributes(attribute.String("request_id", requestID)))
	return ctx, requestID, span
}

// finish closes tracking and tracing. tokens and cost are nil for
// invocations that never reached the provider.
func (o *Orchestrator) finish(span trace.Span, requestID string, tokens *int, cost *float64, err error) {
	status := model.MetricCompleted
	if err != nil {
		status = model.MetricFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, apierr.From(err).Message)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	if o.deps.Tracker != nil {
		o.deps.Tracker.Complete(requestID, status, observability.Outcome{Tokens: tokens, Cost: cost, Err: err})
	}
}

// record writes the single usage event for an invocation that reached the
// provider. It runs on every exit path through a defer.
func (o *Orchestrator) record(ctx context.Context, c *call, usage model.TokenUsage, cost float64, failed bool) {
	status := model.UsageCompleted
	if failed {
		status = model.UsageFailed
	}
	e := model.UsageEvent{
		SubjectID:    c.subjectID,
		ResourceID:   c.node.ID,
		RequestID:    c.requestID,
		Provider:     c.providerName(),
		Model:        c.request.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostEstimate: cost,
		Status:       status,
	}
	if err := o.deps.Usage.Record(ctx, e); err != nil {
		o.deps.Logger.Error("usage record failed", "request_id", c.requestID, "error", err)
	}
	if o.deps.Metrics != nil {
		p := string(c.providerName())
		o.deps.Metrics.TokensTotal.WithLabelValues(p, "input").Add(float64(usage.InputTokens))
		o.deps.Metrics.TokensTotal.WithLabelValues(p, "output").Add(float64(usage.OutputTokens))
		o.deps.Metrics.CostTotal.WithLabelValues(p).Add(cost)
	}
}

// Complete runs a synchronous completion and writes the result onto the
// target node.
func (o *Orchestrator) Complete(ctx context.Context, subjectID string, target Target, req model.CompletionRequest) (res *model.CompletionResult, err error) {
	ctx, requestID, span := o.begin(ctx, OpComplete, subjectID)
	var (
		tokens *int
		cost   *float64
	)
	defer func() { o.finish(span, requestID, tokens, cost, err) }()

	c, err := o.preflight(ctx, o.cfg.CompletionRule, subjectID, target, req)
	if err != nil {
		return nil, err
	}
	c.requestID = requestID
	defer c.secret.Secret.Destroy()

	var (
		usage  model.TokenUsage
		failed = true
	)
	defer func() {
		est := provider.EstimateCost(c.providerName(), c.request.Model, usage)
		total := usage.InputTokens + usage.OutputTokens
		tokens, cost = &total, &est
		o.record(ctx, c, usage, est, failed)
	}()

	pctx, pspan := tracer.Start(ctx, "provider.complete", trace.WithAttributes(attribute.String("provider", string(c.providerName()))))
	resp, err := c.provider.Complete(pctx, c.secret.Secret.Reveal(), c.request)
	pspan.End()
	c.secret.Secret.Destroy()
	if err != nil {
		o.deps.Logger.Warn("provider call failed",
			"request_id", requestID, "provider", string(c.providerName()), "model", c.request.Model, "error", err)
		return nil, apierr.Upstream(c.providerName(), err)
	}

	usage, failed = resp.Usage, false
	o.persistFinal(ctx, c, resp.Text, usage.OutputTokens)

	return &model.CompletionResult{
		RequestID:    requestID,
		Text:         resp.Text,
		Usage:        usage,
		CostEstimate: provider.EstimateCost(c.providerName(), c.request.Model, usage),
		WebSearch:    c.request.WebSearch,
	}, nil
}

// Emitter receives stream text in order. Returning an error aborts the
// stream, e.g. when the client has gone away.
type Emitter func(text string) error

// CompleteStream runs a streaming completion. Partial text is written to
// the node as it accumulates; the final text and token counts are written
// once the stream ends, also when it ends early.
func (o *Orchestrator) CompleteStream(ctx context.Context, subjectID string, target Target, req model.CompletionRequest, emit Emitter) (res *model.CompletionResult, err error) {
	ctx, requestID, span := o.begin(ctx, OpStream, subjectID)
	var (
		tokens *int
		cost   *float64
	)
	defer func() { o.finish(span, requestID, tokens, cost, err) }()

	c, err := o.preflight(ctx, o.cfg.StreamRule, subjectID, target, req)
	if err != nil {
		return nil, err
	}
	c.requestID = requestID
	defer c.secret.Secret.Destroy()

	if o.deps.Detector != nil {
		o.deps.Detector.Track(ctx, subjectID, model.ActivitySessionStart)
		defer o.deps.Detector.Track(context.WithoutCancel(ctx), subjectID, model.ActivitySessionEnd)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.ActiveStreams.Inc()
		defer o.deps.Metrics.ActiveStreams.Dec()
	}

	var (
		text     strings.Builder
		chunks   int
		reported *model.TokenUsage
		failed   = true
	)
	// Usage is the provider's report when present, otherwise the number of
	// content chunks received.
	observed := func() model.TokenUsage {
		if reported != nil {
			return *reported
		}
		return model.TokenUsage{OutputTokens: chunks}
	}
	defer func() {
		u := observed()
		est := provider.EstimateCost(c.providerName(), c.request.Model, u)
		total := u.InputTokens + u.OutputTokens
		tokens, cost = &total, &est
		o.record(ctx, c, u, est, failed)
	}()

	pctx, pspan := tracer.Start(ctx, "provider.stream", trace.WithAttributes(attribute.String("provider", string(c.providerName()))))
	defer pspan.End()
	stream, err := c.provider.Stream(pctx, c.secret.Secret.Reveal(), c.request)
	c.secret.Secret.Destroy()
	if err != nil {
		o.deps.Logger.Warn("provider stream failed to start",
			"request_id", requestID, "provider", string(c.providerName()), "model", c.request.Model, "error", err)
		return nil, apierr.Upstream(c.providerName(), err)
	}
	defer stream.Close()

	var onDrop func()
	if o.deps.Metrics != nil {
		onDrop = o.deps.Metrics.StreamWritesDropped.Inc
	}
	queue := newWriteQueue(ctx, o.deps.Nodes, c.node.ID, o.cfg.WriteTimeout, o.deps.Logger, onDrop)
	queueClosed := false
	closeQueue := func() {
		if !queueClosed {
			queue.close()
			queueClosed = true
		}
	}
	// The final write must follow every partial write.
	defer func() {
		closeQueue()
		o.persistFinal(ctx, c, text.String(), observed().OutputTokens)
	}()

	sinceFlush, lastFlush := 0, o.now()
	for {
		chunk, rerr := stream.Recv()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			o.deps.Logger.Warn("provider stream interrupted",
				"request_id", requestID, "provider", string(c.providerName()), "chunks", chunks, "error", rerr)
			if ctx.Err() != nil {
				return nil, apierr.StreamInterrupted(c.providerName(), ctx.Err())
			}
			return nil, apierr.StreamInterrupted(c.providerName(), rerr)
		}
		if chunk.Usage != nil {
			u := *chunk.Usage
			reported = &u
		}
		if chunk.Text == "" {
			continue
		}

		text.WriteString(chunk.Text)
		chunks++
		sinceFlush++
		if emit != nil {
			if eerr := emit(chunk.Text); eerr != nil {
				o.deps.Logger.Info("stream consumer went away", "request_id", requestID, "chunks", chunks)
				return nil, apierr.StreamInterrupted(c.providerName(), eerr)
			}
		}
		if now := o.now(); sinceFlush >= o.cfg.FlushEveryChunks || now.Sub(lastFlush) >= o.cfg.FlushInterval {
			queue.offer(text.String(), chunks)
			sinceFlush, lastFlush = 0, now
		}
	}

	failed = false
	u := observed()
	return &model.CompletionResult{
		RequestID:    requestID,
		Text:         text.String(),
		Usage:        u,
		CostEstimate: provider.EstimateCost(c.providerName(), c.request.Model, u),
		WebSearch:    c.request.WebSearch,
	}, nil
}

// persistFinal writes the final node content, sanitized for display, and
// the provider and model that generated it. A failure is logged; the
// completion itself has already happened and been billed.
func (o *Orchestrator) persistFinal(ctx context.Context, c *call, text string, tokens int) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	content := validate.SanitizeOutput(text)
	if err := o.deps.Nodes.FinishNode(wctx, c.node.ID, content, tokens, c.providerName(), c.request.Model); err != nil {
		o.deps.Logger.Error("final node write failed", "request_id", c.requestID, "node_id", c.node.ID, "error", err)
	}
}
