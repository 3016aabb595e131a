package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sandevgo/recall/internal/core"
)

const summaryPrompt = `Summarise the following conversation excerpt in a few sentences.
Keep names, preferences, decisions and open questions. Write in the third person.
Output only the summary.

%s`

// Summarizer compacts folded conversation text through a LanguageModel.
type Summarizer struct {
	model     core.LanguageModel
	maxTokens int
}

func NewSummarizer(model core.LanguageModel, maxTokens int) *Summarizer {
	return &Summarizer{model: model, maxTokens: maxTokens}
}

func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	resp, err := s.model.Complete(ctx, core.CompletionRequest{
		Prompt:    fmt.Sprintf(summaryPrompt, text),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	out := strings.TrimSpace(resp.Text)
	if out == "" {
		return "", fmt.Errorf("summarize: empty response")
	}
	return out, nil
}
