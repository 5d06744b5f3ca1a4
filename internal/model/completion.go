package model

// Message is one turn of the conversation sent upstream. The validate tags
// use the rules registered by package validate.
type Message struct {
	Role    string `json:"role" validate:"oneof=user assistant system"`
	Content string `json:"content" validate:"notblank,runemax=32000"`
}

// CompletionRequest is the body accepted by the completion endpoints.
// Temperature and MaxTokens are optional; zero values fall back to defaults.
type CompletionRequest struct {
	Provider    Provider  `json:"provider" validate:"required,oneof=openai anthropic google"`
	Model       string    `json:"model" validate:"omitempty,max=100,modelname"`
	Messages    []Message `json:"messages" validate:"required,min=1,max=200,dive"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// TokenUsage reports provider token counts.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionResult is returned by both completion paths.
type CompletionResult struct {
	RequestID    string     `json:"request_id"`
	Text         string     `json:"text"`
	Usage        TokenUsage `json:"usage"`
	CostEstimate float64    `json:"cost_estimate"`
	WebSearch    bool       `json:"web_search"`
}
