package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/canvasgate/canvasgate/internal/model"
)

const testKey = "sk-test-0123456789abcdef"

func testRequest(search bool) *Request {
	return &Request{
		Model: "gpt-4o-mini",
		Messages: []model.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "What's new today?"},
		},
		Temperature: 0.5,
		MaxTokens:   256,
		WebSearch:   search,
	}
}

func writeSSE(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, f := range frames {
		fmt.Fprintf(w, "%s\n\n", f)
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
	}
}

func drain(t *testing.T, s Stream) (string, *model.TokenUsage) {
	t.Helper()
	defer s.Close()
	var (
		text  strings.Builder
		usage *model.TokenUsage
	)
	for {
		c, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), usage
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		text.WriteString(c.Text)
		if c.Usage != nil {
			usage = c.Usage
		}
	}
}

func TestOpenAIComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer "+testKey {
			t.Errorf("authorization header = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Sunny."}}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
	}))
	defer srv.Close()

	p := NewOpenAI(Options{BaseURL: srv.URL})
	resp, err := p.Complete(context.Background(), testKey, testRequest(true))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Sunny." || resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("response = %+v", resp)
	}

	if got["model"] != "gpt-4o-mini" || got["max_tokens"] != float64(256) {
		t.Errorf("request body = %v", got)
	}
	tools, _ := got["tools"].([]any)
	if len(tools) != 1 || tools[0].(map[string]any)["type"] != "web_search" {
		t.Errorf("tools = %v, want web_search", got["tools"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Errorf("messages = %v", got["messages"])
	}
}

func TestOpenAINoSearchToolWhenNotRequested(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}],"usage":{}}`)
	}))
	defer srv.Close()

	if _, err := NewOpenAI(Options{BaseURL: srv.URL}).Complete(context.Background(), testKey, testRequest(false)); err != nil {
		t.Fatal(err)
	}
	if _, ok := got["tools"]; ok {
		t.Errorf("tools sent without search: %v", got["tools"])
	}
}

func TestOpenAIStreamParsesDoneAndUsage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeSSE(w,
			`data: {"id":"s1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			`data: {"id":"s1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`data: {"id":"s1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`data: {"id":"s1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
			`data: [DONE]`,
		)
	}))
	defer srv.Close()

	s, err := NewOpenAI(Options{BaseURL: srv.URL}).Stream(context.Background(), testKey, testRequest(false))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, usage := drain(t, s)
	if text != "Hello" {
		t.Errorf("text = %q, want Hello", text)
	}
	if usage == nil || usage.InputTokens != 7 || usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", usage)
	}
	if got["stream"] != true {
		t.Errorf("stream flag not sent: %v", got)
	}
	if opts, _ := got["stream_options"].(map[string]any); opts["include_usage"] != true {
		t.Errorf("stream_options = %v", got["stream_options"])
	}
}

func TestOpenAIErrorDropsProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided: sk-test-01***","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	err := NewOpenAI(Options{BaseURL: srv.URL}).Verify(context.Background(), testKey)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T %v, want *StatusError", err, err)
	}
	if se.StatusCode != http.StatusUnauthorized || se.Type != "invalid_api_key" {
		t.Errorf("status error = %+v", se)
	}
	if strings.Contains(err.Error(), "sk-test") {
		t.Errorf("error leaks key fragment: %q", err.Error())
	}
}

func TestGoogleUsesInstructionOnly(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	}))
	defer srv.Close()

	p := NewGoogle(Options{BaseURL: srv.URL})
	if p.Name() != model.ProviderGoogle {
		t.Errorf("name = %s", p.Name())
	}
	if _, err := p.Complete(context.Background(), "AIza-test", testRequest(true)); err != nil {
		t.Fatal(err)
	}
	if path != "/chat/completions" {
		t.Errorf("path = %s", path)
	}
	if _, ok := got["tools"]; ok {
		t.Error("google request must not carry the search tool")
	}
}

func TestAnthropicComplete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != testKey || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("headers = %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"content":[{"type":"text","text":"Bonjour"},{"type":"text","text":"!"}],"usage":{"input_tokens":20,"output_tokens":4}}`)
	}))
	defer srv.Close()

	req := testRequest(true)
	req.Model = "claude-3-5-haiku-latest"
	resp, err := NewAnthropic(Options{BaseURL: srv.URL + "/"}).Complete(context.Background(), testKey, req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Bonjour!" || resp.Usage.InputTokens != 20 || resp.Usage.OutputTokens != 4 {
		t.Errorf("response = %+v", resp)
	}
	if got.System != "be brief" {
		t.Errorf("system = %q", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if len(got.Tools) != 1 || got.Tools[0]["name"] != "web_search" {
		t.Errorf("tools = %v", got.Tools)
	}
}

func TestAnthropicStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":11,\"output_tokens\":1}}}",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0}",
			"event: ping\ndata: {\"type\":\"ping\"}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Par\"}}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"is\"}}",
			"event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":6}}",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}",
		)
	}))
	defer srv.Close()

	s, err := NewAnthropic(Options{BaseURL: srv.URL}).Stream(context.Background(), testKey, testRequest(false))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, usage := drain(t, s)
	if text != "Paris" {
		t.Errorf("text = %q", text)
	}
	if usage == nil || usage.InputTokens != 11 || usage.OutputTokens != 6 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestAnthropicStreamTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Par\"}}")
	}))
	defer srv.Close()

	s, err := NewAnthropic(Options{BaseURL: srv.URL}).Stream(context.Background(), testKey, testRequest(false))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if c, err := s.Recv(); err != nil || c.Text != "Par" {
		t.Fatalf("first Recv = %+v, %v", c, err)
	}
	if _, err := s.Recv(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want unexpected EOF", err)
	}
}

func TestAnthropicErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"echo of your prompt"}}`)
	}))
	defer srv.Close()

	_, err := NewAnthropic(Options{BaseURL: srv.URL}).Complete(context.Background(), testKey, testRequest(false))
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests || se.Type != "rate_limit_error" {
		t.Fatalf("err = %v", err)
	}
	if strings.Contains(err.Error(), "prompt") {
		t.Errorf("error leaks body: %q", err.Error())
	}
}

func TestAnthropicVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/models" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	if err := NewAnthropic(Options{BaseURL: srv.URL}).Verify(context.Background(), testKey); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := Defaults(nil)
	names := r.Names()
	if len(names) != 3 || names[0] != model.ProviderAnthropic {
		t.Errorf("names = %v", names)
	}
	p, err := r.Get(model.ProviderOpenAI)
	if err != nil || p.Name() != model.ProviderOpenAI {
		t.Fatalf("Get openai = %v, %v", p, err)
	}
	if _, err := r.Get("cohere"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		provider model.Provider
		model    string
		usage    model.TokenUsage
		want     float64
	}{
		{model.ProviderOpenAI, "gpt-4o-mini-2024-07-18", model.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 0.75},
		{model.ProviderOpenAI, "gpt-4o", model.TokenUsage{InputTokens: 1000, OutputTokens: 500}, 0.0075},
		{model.ProviderAnthropic, "claude-3-5-haiku-latest", model.TokenUsage{InputTokens: 1000, OutputTokens: 1000}, 0.0048},
		{model.ProviderGoogle, "unknown-model", model.TokenUsage{InputTokens: 1_000_000}, 0.30},
		{model.ProviderOpenAI, "gpt-4o", model.TokenUsage{}, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.provider)+"/"+tt.model, func(t *testing.T) {
			if got := EstimateCost(tt.provider, tt.model, tt.usage); got != tt.want {
				t.Errorf("cost = %v, want %v", got, tt.want)
			}
		})
	}
}
