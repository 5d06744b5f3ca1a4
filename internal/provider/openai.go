package provider

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/canvasgate/canvasgate/internal/model"
)

const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	GoogleBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// webSearchTool is the tool entry requesting provider-side search.
var webSearchTool = openai.Tool{Type: openai.ToolType("web_search")}

// chatCompletions speaks the OpenAI chat completions protocol. Google's
// Gemini API exposes the same protocol at its own base URL.
type chatCompletions struct {
	name       model.Provider
	opts       Options
	searchTool bool
}

// NewOpenAI returns the OpenAI provider.
func NewOpenAI(opts Options) Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = OpenAIBaseURL
	}
	return &chatCompletions{name: model.ProviderOpenAI, opts: opts, searchTool: true}
}

// NewGoogle returns the Gemini provider over its OpenAI-compatible endpoint.
// That endpoint has no search tool; search intent is carried by the system
// instruction alone.
func NewGoogle(opts Options) Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = GoogleBaseURL
	}
	return &chatCompletions{name: model.ProviderGoogle, opts: opts}
}

func (c *chatCompletions) Name() model.Provider { return c.name }

// newClient builds a client per call so the key is never held beyond it.
func (c *chatCompletions) newClient(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = c.opts.BaseURL
	cfg.HTTPClient = c.opts.client()
	return openai.NewClientWithConfig(cfg)
}

func (c *chatCompletions) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.WebSearch && c.searchTool {
		out.Tools = []openai.Tool{webSearchTool}
	}
	return out
}

func (c *chatCompletions) Complete(ctx context.Context, apiKey string, req *Request) (*Response, error) {
	resp, err := c.newClient(apiKey).CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, c.convertError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text: resp.Choices[0].Message.Content,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (c *chatCompletions) Stream(ctx context.Context, apiKey string, req *Request) (Stream, error) {
	s, err := c.newClient(apiKey).CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, c.convertError(err)
	}
	return &chatStream{provider: c, s: s}, nil
}

// Verify lists models, the cheapest authenticated call.
func (c *chatCompletions) Verify(ctx context.Context, apiKey string) error {
	if _, err := c.newClient(apiKey).ListModels(ctx); err != nil {
		return c.convertError(err)
	}
	return nil
}

// convertError strips provider messages that may echo key fragments.
func (c *chatCompletions) convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		typ := apiErr.Type
		if code, ok := apiErr.Code.(string); ok && code != "" {
			typ = code
		}
		return &StatusError{Provider: c.name, StatusCode: apiErr.HTTPStatusCode, Type: typ}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{Provider: c.name, StatusCode: reqErr.HTTPStatusCode}
	}
	return err
}

type chatStream struct {
	provider *chatCompletions
	s        *openai.ChatCompletionStream
}

func (cs *chatStream) Recv() (Chunk, error) {
	for {
		resp, err := cs.s.Recv()
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		if err != nil {
			return Chunk{}, cs.provider.convertError(err)
		}

		var chunk Chunk
		if len(resp.Choices) > 0 {
			chunk.Text = resp.Choices[0].Delta.Content
		}
		if resp.Usage != nil {
			chunk.Usage = &model.TokenUsage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}
		}
		// Role-only and empty keep-alive deltas carry nothing.
		if chunk.Text == "" && chunk.Usage == nil {
			continue
		}
		return chunk, nil
	}
}

func (cs *chatStream) Close() error {
	return cs.s.Close()
}
