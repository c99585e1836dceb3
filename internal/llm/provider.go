package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderConfig selects and configures a completion provider.
type ProviderConfig struct {
	Provider        string
	Model           string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaURL       string
	Timeout         time.Duration
}

// New builds the configured provider wrapped with the call timeout. The
// "none" provider yields Unavailable.
func New(cfg ProviderConfig, logger *slog.Logger) (Completer, error) {
	var (
		c   Completer
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		c, err = NewOpenAI(cfg.OpenAIAPIKey, cfg.Model, logger)
	case "anthropic":
		c, err = NewAnthropic(cfg.AnthropicAPIKey, cfg.Model, logger)
	case "ollama":
		c, err = NewOllama(cfg.OllamaURL, cfg.Model, logger)
	case "none":
		c = Unavailable{}
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(c, cfg.Timeout), nil
}
