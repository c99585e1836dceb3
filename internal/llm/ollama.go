package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const defaultOllamaModel = "llama3.1"

// Ollama completes requests against a local Ollama server through langchaingo.
type Ollama struct {
	text   llms.Model
	json   llms.Model
	model  string
	logger *slog.Logger
}

// NewOllama creates an Ollama-backed Completer.
func NewOllama(serverURL, model string, logger *slog.Logger) (*Ollama, error) {
	if model == "" {
		model = defaultOllamaModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}

	text, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	jsonModel, err := ollama.New(append(opts, ollama.WithFormat("json"))...)
	if err != nil {
		return nil, fmt.Errorf("create ollama json client: %w", err)
	}

	logger.Info("Initializing Ollama client", "model", model, "server_url", serverURL)
	return &Ollama{text: text, json: jsonModel, model: model, logger: logger}, nil
}

// Complete implements Completer.
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	model := o.text
	callOpts := []llms.CallOption{llms.WithTemperature(float64(req.Temperature))}
	if req.JSONMode {
		model = o.json
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, req.User),
	}, callOpts...)
	if err != nil {
		o.logger.Warn("Ollama call failed", "model", o.model, "error", err)
		return "", fmt.Errorf("%w: ollama: %w", ErrCompletion, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", fmt.Errorf("%w: ollama returned no content", ErrCompletion)
	}
	return resp.Choices[0].Content, nil
}
