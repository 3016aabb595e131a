package rag

import (
	"strings"
	"unicode"

	"github.com/sandevgo/recall/pkg/tokens"
)

type Chunk struct {
	Text      string
	TokenSize int
}

type ChunkerConfig struct {
	MaxTokens     int
	OverlapTokens int
}

// EmbeddingChunkerConfig keeps inputs well under the 8k input limit of hosted embedding models.
func EmbeddingChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MaxTokens:     2000,
		OverlapTokens: 100,
	}
}

func countTokens(text string) int {
	return tokens.Default().Count(text)
}

// ChunkText packs whole sentences into chunks of at most MaxTokens,
// repeating trailing sentences of the previous chunk up to OverlapTokens.
func ChunkText(text string, cfg ChunkerConfig) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		chunks  []Chunk
		current []string
		size    int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: strings.Join(current, " "), TokenSize: size})
	}

	for _, sentence := range splitSentences(text) {
		n := countTokens(sentence)

		if n > cfg.MaxTokens {
			flush()
			current, size = nil, 0
			chunks = append(chunks, splitByTokens(sentence, cfg.MaxTokens)...)
			continue
		}

		if size+n > cfg.MaxTokens && len(current) > 0 {
			flush()
			current, size = overlapTail(current, cfg.OverlapTokens)
		}
		current = append(current, sentence)
		size += n
	}
	flush()

	return chunks
}

func overlapTail(sentences []string, budget int) ([]string, int) {
	var (
		tail []string
		size int
	)
	for i := len(sentences) - 1; i >= 0; i-- {
		n := countTokens(sentences[i])
		if size+n > budget {
			break
		}
		tail = append([]string{sentences[i]}, tail...)
		size += n
	}
	return tail, size
}

func splitByTokens(text string, maxTokens int) []Chunk {
	enc := tokens.Default()
	var chunks []Chunk
	for _, piece := range enc.Split(text, maxTokens) {
		if piece = strings.TrimSpace(piece); piece == "" {
			continue
		}
		chunks = append(chunks, Chunk{Text: piece, TokenSize: min(enc.Count(piece), maxTokens)})
	}
	return chunks
}

func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		sentences []string
		current   strings.Builder
	)
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			r = ' '
		}
		current.WriteRune(r)

		if strings.ContainsRune(".!?。！？…", r) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
