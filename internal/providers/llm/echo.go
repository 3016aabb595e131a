package llm

import (
	"context"
	"strings"

	"github.com/sandevgo/recall/internal/core"
)

// Echo is an offline model that answers by quoting the current user message.
// It reports no usage, so accounting falls back to local token estimates.
type Echo struct {
	model string
}

func NewEcho(model string) *Echo {
	return &Echo{model: model}
}

func (e *Echo) Complete(ctx context.Context, req core.CompletionRequest) (core.Completion, error) {
	if err := ctx.Err(); err != nil {
		return core.Completion{}, err
	}
	return core.Completion{
		Text:     "You said: " + lastUserLine(req.Prompt),
		Model:    e.model,
		Provider: "echo",
	}, nil
}

func lastUserLine(prompt string) string {
	idx := strings.LastIndex(prompt, "User: ")
	if idx < 0 {
		return strings.TrimSpace(prompt)
	}
	rest := prompt[idx+len("User: "):]
	if end := strings.Index(rest, "\n\nAssistant:"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
