package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sandevgo/recall/internal/config"
	"github.com/sandevgo/recall/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompatible_Complete(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantErr       bool
		wantTransient bool
		wantText      string
		wantUsage     core.Usage
	}{
		{
			name:      "success with usage",
			status:    http.StatusOK,
			body:      `{"model":"gpt-4o-mini-2024","choices":[{"message":{"role":"assistant","content":"Hello Alice"}}],"usage":{"prompt_tokens":42,"completion_tokens":3}}`,
			wantText:  "Hello Alice",
			wantUsage: core.Usage{PromptTokens: 42, CompletionTokens: 3},
		},
		{
			name:    "empty choices",
			status:  http.StatusOK,
			body:    `{"choices":[]}`,
			wantErr: true,
		},
		{
			name:          "rate limited is transient",
			status:        http.StatusTooManyRequests,
			body:          `{"error":"slow down"}`,
			wantErr:       true,
			wantTransient: true,
		},
		{
			name:          "server error is transient",
			status:        http.StatusBadGateway,
			body:          `bad gateway`,
			wantErr:       true,
			wantTransient: true,
		},
		{
			name:    "client error is permanent",
			status:  http.StatusBadRequest,
			body:    `{"error":"bad"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bodies := make(chan map[string]any, 1)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
				var got map[string]any
				_ = json.NewDecoder(r.Body).Decode(&got)
				bodies <- got
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			p := NewCustomOpenAI(server.URL, "key", "gpt-4o-mini")
			resp, err := p.Complete(context.Background(), core.CompletionRequest{Prompt: "User: hi\n\nAssistant:", MaxTokens: 50})

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantTransient, core.IsTransient(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, resp.Text)
			assert.Equal(t, tt.wantUsage, resp.Usage)
			assert.Equal(t, "gpt-4o-mini-2024", resp.Model)
			assert.Equal(t, "custom", resp.Provider)
			got := <-bodies
			assert.Equal(t, float64(50), got["max_tokens"])
			assert.Equal(t, "gpt-4o-mini", got["model"])
		})
	}
}

func TestOpenAICompatible_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewCustomOpenAI(url, "", "m").Complete(context.Background(), core.CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
}

func TestAnthropic_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(anthropicDefaultMaxTokens), body["max_tokens"])
		fmt.Fprint(w, `{"model":"claude-3-haiku","content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],"usage":{"input_tokens":10,"output_tokens":2}}`)
	}))
	defer server.Close()

	a := NewAnthropic("secret", "claude-3-haiku")
	a.baseURL = server.URL

	resp, err := a.Complete(context.Background(), core.CompletionRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Text)
	assert.Equal(t, core.Usage{PromptTokens: 10, CompletionTokens: 2}, resp.Usage)
	assert.Equal(t, "anthropic", resp.Provider)
}

func TestEcho_Complete(t *testing.T) {
	e := NewEcho("echo-1")
	resp, err := e.Complete(context.Background(), core.CompletionRequest{
		Prompt: "System\n\nUser: earlier\nAssistant: ok\n\nUser: My name is Alice\n\nAssistant:",
	})
	require.NoError(t, err)
	assert.Equal(t, "You said: My name is Alice", resp.Text)
	assert.Zero(t, resp.Usage)
}

type scriptedModel struct {
	text string
	err  error
	last core.CompletionRequest
}

func (s *scriptedModel) Complete(ctx context.Context, req core.CompletionRequest) (core.Completion, error) {
	s.last = req
	return core.Completion{Text: s.text}, s.err
}

func TestSummarizer(t *testing.T) {
	m := &scriptedModel{text: "  The user introduced themselves as Alice.  "}
	s := NewSummarizer(m, 200)

	out, err := s.Summarize(context.Background(), "user: My name is Alice")
	require.NoError(t, err)
	assert.Equal(t, "The user introduced themselves as Alice.", out)
	assert.Contains(t, m.last.Prompt, "user: My name is Alice")
	assert.Equal(t, 200, m.last.MaxTokens)

	m.text = "   "
	_, err = s.Summarize(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"openai", "anthropic", "openrouter", "ollama", "echo"} {
		p, err := NewProvider(ctx, config.ProviderConfig{Provider: name, Model: "m"})
		require.NoError(t, err, name)
		assert.NotNil(t, p)
	}

	_, err := NewProvider(ctx, config.ProviderConfig{Provider: "custom"})
	assert.Error(t, err)

	_, err = NewProvider(ctx, config.ProviderConfig{Provider: "nope"})
	assert.Error(t, err)
}
