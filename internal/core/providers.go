package core

import "context"

type CompletionRequest struct {
	Prompt    string
	Model     string
	MaxTokens int
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type Completion struct {
	Text     string
	Model    string
	Provider string
	Usage    Usage
}

type LanguageModel interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type FactExtractor interface {
	Extract(ctx context.Context, text string) ([]Fact, error)
}
