// Package app assembles the tutor from configuration: session store, LLM
// provider, content generators, agents and the router.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ashureev/caps-tutor/internal/agent"
	"github.com/ashureev/caps-tutor/internal/brain"
	"github.com/ashureev/caps-tutor/internal/config"
	"github.com/ashureev/caps-tutor/internal/content"
	"github.com/ashureev/caps-tutor/internal/curriculum"
	"github.com/ashureev/caps-tutor/internal/intent"
	"github.com/ashureev/caps-tutor/internal/llm"
	"github.com/ashureev/caps-tutor/internal/metrics"
	"github.com/ashureev/caps-tutor/internal/store"
	"github.com/ashureev/caps-tutor/internal/transcript"
)

// App holds the assembled components.
type App struct {
	Config     *config.Config
	Store      store.SessionStore
	LLM        llm.Completer
	Curriculum *curriculum.Lookup
	Content    *content.Generator
	Classifier *intent.Classifier
	Agents     *agent.Registry
	Brain      *brain.Brain
	Transcript transcript.Logger
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
}

// Option adjusts how New builds the App.
type Option func(*buildOptions)

type buildOptions struct {
	completer llm.Completer
	channel   string
}

// WithCompleter replaces the configured LLM provider.
func WithCompleter(c llm.Completer) Option {
	return func(o *buildOptions) { o.completer = c }
}

// WithChannel names the transport recorded in transcripts.
func WithChannel(name string) Option {
	return func(o *buildOptions) { o.channel = name }
}

// New builds the App. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions{channel: "api"}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	lookup, err := curriculum.Default()
	if err != nil {
		return nil, fmt.Errorf("load curriculum: %w", err)
	}
	a.Curriculum = lookup

	a.LLM = o.completer
	if a.LLM == nil {
		a.LLM, err = llm.New(llm.ProviderConfig{
			Provider:        cfg.LLM.Provider,
			Model:           cfg.LLM.Model,
			OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
			AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
			OllamaURL:       cfg.LLM.OllamaURL,
			Timeout:         cfg.LLM.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init llm provider: %w", err)
		}
	}

	a.Store, err = OpenStore(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}

	a.Transcript, err = transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		_ = a.Store.Close()
		return nil, fmt.Errorf("init transcript logger: %w", err)
	}

	a.Content = content.NewGenerator(a.LLM, cfg.ContentCacheTTL, a.Metrics, logger)
	a.Classifier = intent.NewClassifier(a.LLM, lookup, a.Metrics, logger)
	a.Agents = agent.NewDefaultRegistry(agent.Deps{
		Store:      a.Store,
		Content:    a.Content,
		LLM:        a.LLM,
		Curriculum: lookup,
		Logger:     logger,
	})
	a.Brain = brain.New(a.Classifier, a.Store, a.Agents,
		brain.WithTranscript(a.Transcript),
		brain.WithMetrics(a.Metrics),
		brain.WithLogger(logger),
		brain.WithCurriculum(a.Curriculum),
		brain.WithChannel(o.channel),
	)
	return a, nil
}

// OpenStore opens the configured session backend.
func OpenStore(ctx context.Context, cfg config.SessionConfig) (store.SessionStore, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return store.NewMemory(cfg.IdleTTL, cfg.SweepInterval), nil
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.DBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		s, err := store.NewSQLite(cfg.DBPath, cfg.IdleTTL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.BackendRedis:
		s, err := store.NewRedis(ctx, cfg.RedisURL, cfg.IdleTTL)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// Close flushes the transcript and closes the store.
func (a *App) Close() error {
	var errs []error
	if a.Transcript != nil {
		if err := a.Transcript.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transcript: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
