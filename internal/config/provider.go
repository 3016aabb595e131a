package config

type ProviderConfig struct {
	// Provider is one of openai, anthropic, openrouter, ollama, custom, echo.
	Provider string `env:"LLM_PROVIDER" envDefault:"openai"`
	Model    string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`

	OpenAIAPIKey        string `env:"OPENAI_API_KEY,unset"`
	AnthropicAPIKey     string `env:"ANTHROPIC_API_KEY,unset"`
	OpenRouterAPIKey    string `env:"OPENROUTER_API_KEY,unset"`
	OllamaBaseURL       string `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaAPIKey        string `env:"OLLAMA_API_KEY,unset"`
	CustomOpenAIBaseURL string `env:"CUSTOM_OPENAI_BASE_URL"`
	CustomOpenAIAPIKey  string `env:"CUSTOM_OPENAI_API_KEY,unset"`
}

type EmbeddingConfig struct {
	// Provider is "openai" or "hash" (offline feature hashing).
	Provider   string `env:"EMBEDDING_PROVIDER" envDefault:"hash"`
	Model      string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	Dimensions int    `env:"EMBEDDING_DIMENSIONS" envDefault:"512"`
	BaseURL    string `env:"EMBEDDING_BASE_URL" envDefault:"https://api.openai.com"`
}
