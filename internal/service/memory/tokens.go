package memory

import (
	"math"
	"sort"
	"strings"

	"github.com/sandevgo/recall/pkg/tokens"
)

// Pricing is USD per 1K tokens.
type Pricing struct {
	Prompt     float64
	Completion float64
}

const defaultPricingModel = "gpt-4"

var pricing = map[string]Pricing{
	"gpt-4":           {Prompt: 0.03, Completion: 0.06},
	"gpt-4-turbo":     {Prompt: 0.01, Completion: 0.03},
	"gpt-4o":          {Prompt: 0.005, Completion: 0.015},
	"gpt-4o-mini":     {Prompt: 0.00015, Completion: 0.0006},
	"gpt-3.5-turbo":   {Prompt: 0.0015, Completion: 0.002},
	"claude-3-opus":   {Prompt: 0.015, Completion: 0.075},
	"claude-3-sonnet": {Prompt: 0.003, Completion: 0.015},
	"claude-3-haiku":  {Prompt: 0.00025, Completion: 0.00125},
}

// longest prefixes first so gpt-4o-mini wins over gpt-4o and gpt-4
var pricingPrefixes = func() []string {
	keys := make([]string, 0, len(pricing))
	for k := range pricing {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// TokenCounter estimates token counts and cost. It holds no state beyond the
// process-wide encoding cache, so the same (text, model) always yields the same count.
type TokenCounter struct {
	model string
}

// NewTokenCounter uses model whenever a call passes an empty model name.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{model: model}
}

func (c *TokenCounter) encoding(model string) tokens.Encoding {
	if model == "" {
		model = c.model
	}
	return tokens.ForModel(model)
}

func (c *TokenCounter) Count(text, model string) int {
	return c.encoding(model).Count(text)
}

// Truncate keeps the leading maxTokens tokens of text.
func (c *TokenCounter) Truncate(text, model string, maxTokens int) string {
	return tokens.Truncate(c.encoding(model), text, maxTokens)
}

// TruncateHead keeps the trailing maxTokens tokens of text.
func (c *TokenCounter) TruncateHead(text, model string, maxTokens int) string {
	return tokens.TruncateHead(c.encoding(model), text, maxTokens)
}

// Cost prices prompt and completion tokens, rounded to 6 decimals.
// Unknown models are priced as gpt-4.
func (c *TokenCounter) Cost(model string, promptTokens, completionTokens int) float64 {
	if model == "" {
		model = c.model
	}
	p := PricingFor(model)
	cost := float64(promptTokens)/1000*p.Prompt + float64(completionTokens)/1000*p.Completion
	return math.Round(cost*1e6) / 1e6
}

func PricingFor(model string) Pricing {
	name := strings.ToLower(model)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		// openrouter style "openai/gpt-4o"
		name = name[i+1:]
	}
	for _, prefix := range pricingPrefixes {
		if strings.HasPrefix(name, prefix) {
			return pricing[prefix]
		}
	}
	return pricing[defaultPricingModel]
}
