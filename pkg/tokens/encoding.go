package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tiktoken-go/tokenizer"
)

const DefaultEncoding = "cl100k_base"

// Encoding counts and splits text in model tokens.
type Encoding interface {
	Name() string
	Count(text string) int
	// Split cuts text into consecutive pieces of at most maxTokens tokens.
	Split(text string, maxTokens int) []string
	// Tail returns the last maxTokens tokens of text.
	Tail(text string, maxTokens int) string
}

var (
	mu       sync.Mutex
	byModel  = map[string]Encoding{}
	fallback Encoding
)

// ForModel resolves the encoding of a model. Models unknown to tiktoken get cl100k_base.
// BPE ranks are downloaded on first use; when that is impossible the embedded
// cl100k codec is used, and as a last resort a four-bytes-per-token estimate.
func ForModel(model string) Encoding {
	mu.Lock()
	defer mu.Unlock()

	if enc, ok := byModel[model]; ok {
		return enc
	}

	var enc Encoding
	if model != "" {
		if tk, err := tiktoken.EncodingForModel(model); err == nil {
			enc = &tiktokenEncoding{name: model, tk: tk}
		}
	}
	if enc == nil {
		enc = defaultEncoding()
	}
	byModel[model] = enc
	return enc
}

// Default returns the cl100k_base encoding.
func Default() Encoding {
	return ForModel("")
}

func defaultEncoding() Encoding {
	if fallback != nil {
		return fallback
	}
	if tk, err := tiktoken.GetEncoding(DefaultEncoding); err == nil {
		fallback = &tiktokenEncoding{name: DefaultEncoding, tk: tk}
	} else if codec, err := tokenizer.Get(tokenizer.Cl100kBase); err == nil {
		fallback = &codecEncoding{codec: codec}
	} else {
		fallback = approxEncoding{}
	}
	return fallback
}

// Truncate keeps the leading maxTokens tokens of text.
func Truncate(enc Encoding, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if enc.Count(text) <= maxTokens {
		return text
	}
	parts := enc.Split(text, maxTokens)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// TruncateHead keeps the trailing maxTokens tokens of text.
func TruncateHead(enc Encoding, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if enc.Count(text) <= maxTokens {
		return text
	}
	return enc.Tail(text, maxTokens)
}

type tiktokenEncoding struct {
	name string
	tk   *tiktoken.Tiktoken
}

func (e *tiktokenEncoding) Name() string { return e.name }

func (e *tiktokenEncoding) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(e.tk.Encode(text, nil, nil))
}

func (e *tiktokenEncoding) Split(text string, maxTokens int) []string {
	ids := e.tk.Encode(text, nil, nil)
	var out []string
	for i := 0; i < len(ids); i += maxTokens {
		end := min(i+maxTokens, len(ids))
		out = append(out, e.tk.Decode(ids[i:end]))
	}
	return out
}

func (e *tiktokenEncoding) Tail(text string, maxTokens int) string {
	ids := e.tk.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return e.tk.Decode(ids[len(ids)-maxTokens:])
}

type codecEncoding struct {
	codec tokenizer.Codec
}

func (e *codecEncoding) Name() string { return DefaultEncoding }

func (e *codecEncoding) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return approxEncoding{}.Count(text)
	}
	return len(ids)
}

func (e *codecEncoding) Split(text string, maxTokens int) []string {
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return approxEncoding{}.Split(text, maxTokens)
	}
	var out []string
	for i := 0; i < len(ids); i += maxTokens {
		end := min(i+maxTokens, len(ids))
		piece, err := e.codec.Decode(ids[i:end])
		if err != nil {
			continue
		}
		out = append(out, piece)
	}
	return out
}

func (e *codecEncoding) Tail(text string, maxTokens int) string {
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return approxEncoding{}.Tail(text, maxTokens)
	}
	if len(ids) <= maxTokens {
		return text
	}
	out, err := e.codec.Decode(ids[len(ids)-maxTokens:])
	if err != nil {
		return approxEncoding{}.Tail(text, maxTokens)
	}
	return out
}

type approxEncoding struct{}

func (approxEncoding) Name() string { return "approx" }

func (approxEncoding) Count(text string) int {
	return (len(text) + 3) / 4
}

func (approxEncoding) Split(text string, maxTokens int) []string {
	limit := maxTokens * 4
	var (
		out []string
		b   strings.Builder
	)
	for _, r := range text {
		if b.Len()+utf8.RuneLen(r) > limit && b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func (approxEncoding) Tail(text string, maxTokens int) string {
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	start := len(text) - limit
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	return text[start:]
}
