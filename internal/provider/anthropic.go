package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/canvasgate/canvasgate/internal/model"
)

const (
	AnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	maxSSELineSize   = 1 << 20
)

// anthropicSearchTool is Anthropic's server-side web search tool.
var anthropicSearchTool = map[string]any{
	"type":     "web_search_20250305",
	"name":     "web_search",
	"max_uses": 3,
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []map[string]any   `json:"tools,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicErrorBody struct {
	Error struct {
		Type string `json:"type"`
	} `json:"error"`
}

// anthropic talks to the Messages API directly over HTTP.
type anthropic struct {
	opts Options
}

// NewAnthropic returns the Anthropic provider.
func NewAnthropic(opts Options) Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = AnthropicBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &anthropic{opts: opts}
}

func (a *anthropic) Name() model.Provider { return model.ProviderAnthropic }

// buildRequest lifts system messages into the top-level system field.
func (a *anthropic) buildRequest(req *Request, stream bool) anthropicRequest {
	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	out.System = strings.Join(system, "\n\n")
	if req.WebSearch {
		out.Tools = []map[string]any{anthropicSearchTool}
	}
	return out
}

func (a *anthropic) do(ctx context.Context, method, path, apiKey string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, a.opts.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.opts.client().Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, anthropicStatusError(resp)
	}
	return resp, nil
}

// anthropicStatusError keeps only the status and the error type.
func anthropicStatusError(resp *http.Response) error {
	var body anthropicErrorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &StatusError{Provider: model.ProviderAnthropic, StatusCode: resp.StatusCode, Type: body.Error.Type}
}

func (a *anthropic) Complete(ctx context.Context, apiKey string, req *Request) (*Response, error) {
	resp, err := a.do(ctx, http.MethodPost, "/messages", apiKey, a.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.New("decode anthropic response: malformed body")
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 && len(out.Content) == 0 {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:  text.String(),
		Usage: model.TokenUsage{InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens},
	}, nil
}

func (a *anthropic) Stream(ctx context.Context, apiKey string, req *Request) (Stream, error) {
	resp, err := a.do(ctx, http.MethodPost, "/messages", apiKey, a.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxSSELineSize)
	return &anthropicStream{body: resp.Body, sc: sc}, nil
}

// Verify lists models, which needs a valid key and costs nothing.
func (a *anthropic) Verify(ctx context.Context, apiKey string) error {
	resp, err := a.do(ctx, http.MethodGet, "/models?limit=1", apiKey, nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// anthropicEvent covers the fields of every streaming event type we read.
type anthropicEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
	Error struct {
		Type string `json:"type"`
	} `json:"error"`
}

type anthropicStream struct {
	body  io.ReadCloser
	sc    *bufio.Scanner
	usage model.TokenUsage
	done  bool
}

// Recv parses SSE frames. Only data lines matter; the JSON carries its own
// type so event lines are skipped.
func (s *anthropicStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	for s.sc.Scan() {
		line := s.sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return Chunk{}, io.EOF
		}

		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return Chunk{}, errors.New("malformed anthropic stream event")
		}
		switch ev.Type {
		case "message_start":
			s.usage.InputTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				return Chunk{Text: ev.Delta.Text}, nil
			}
		case "message_delta":
			s.usage.OutputTokens = ev.Usage.OutputTokens
		case "message_stop":
			s.done = true
			u := s.usage
			return Chunk{Usage: &u}, nil
		case "error":
			return Chunk{}, &StatusError{Provider: model.ProviderAnthropic, StatusCode: http.StatusBadGateway, Type: ev.Error.Type}
		}
	}
	if err := s.sc.Err(); err != nil {
		return Chunk{}, err
	}
	// Body ended without message_stop.
	return Chunk{}, io.ErrUnexpectedEOF
}

func (s *anthropicStream) Close() error {
	return s.body.Close()
}
