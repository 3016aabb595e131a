package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/pkg/log"
)

const extractionMaxTokens = 400

// LLMExtractor asks the language model for durable facts as a JSON array.
type LLMExtractor struct {
	model core.LanguageModel
}

func NewLLMExtractor(model core.LanguageModel) *LLMExtractor {
	return &LLMExtractor{model: model}
}

func (e *LLMExtractor) Extract(ctx context.Context, text string) ([]core.Fact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resp, err := e.model.Complete(ctx, core.CompletionRequest{
		Prompt:    buildExtractionPrompt(text),
		MaxTokens: extractionMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm complete: %w", err)
	}

	facts, err := parseExtractionResponse(resp.Text)
	if err != nil {
		log.FromCtx(ctx).Debug().Err(err).Str("content", resp.Text).Msg("unparseable extraction response")
		return nil, err
	}
	return facts, nil
}

func buildExtractionPrompt(text string) string {
	return fmt.Sprintf(
		`You are a knowledge extraction system. Output only valid JSON. `+
			`Extract durable facts about the user from the message. Output format: JSON list of objects {category, key, value}. `+
			`Categories: [preferences, behavior_patterns, context]. Keys are short snake_case names such as name, location, occupation, response_length. `+
			`Values are strings, numbers or booleans. Rules: 1. Ignore greetings and small talk. 2. Output [] when there is nothing durable. Message: %s`,
		text,
	)
}

type extractedFact struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    any    `json:"value"`
}

func parseExtractionResponse(content string) ([]core.Fact, error) {
	jsonStr := extractJSONArray(content)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var raw []extractedFact
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal facts: %w", err)
	}

	facts := make([]core.Fact, 0, len(raw))
	for _, r := range raw {
		cat := core.Category(strings.ToLower(strings.TrimSpace(r.Category)))
		key := strings.TrimSpace(r.Key)
		if !cat.Valid() || key == "" {
			continue
		}
		v, ok := toValue(r.Value)
		if !ok {
			continue
		}
		facts = append(facts, core.Fact{Category: cat, Key: key, Value: v})
	}
	return facts, nil
}

func toValue(v any) (core.Value, bool) {
	switch x := v.(type) {
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return core.Value{}, false
		}
		if t, err := time.Parse(time.RFC3339, x); err == nil {
			return core.Timestamp(t), true
		}
		return core.String(x), true
	case float64:
		return core.Number(x), true
	case bool:
		return core.Bool(x), true
	case nil:
		return core.Value{}, false
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return core.Value{}, false
		}
		return core.String(string(b)), true
	}
}

func extractJSONArray(content string) string {
	start := strings.Index(content, "[")
	if start == -1 {
		return ""
	}

	end := strings.LastIndex(content[start:], "]")
	if end == -1 {
		return ""
	}

	return content[start : start+end+1]
}
