package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/intake/internal/config"
	"github.com/ent0n29/intake/internal/dialogue"
	"github.com/ent0n29/intake/internal/events"
	"github.com/ent0n29/intake/internal/httpapi"
	"github.com/ent0n29/intake/internal/intakes"
	"github.com/ent0n29/intake/internal/observability"
	"github.com/ent0n29/intake/internal/session"
	"github.com/ent0n29/intake/internal/tts"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Engine   *dialogue.Engine
	Store    intakes.Store
	Metrics  *observability.Metrics
	// LLMProvider is the resolved dialogue backend: "anthropic" or "mock".
	LLMProvider string

	// Cleanup should be called on shutdown to release external resources (DB, bus).
	Cleanup func() error
}

// Build wires the intake server from configuration.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := intakes.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("intake store init failed: %w", err)
	}

	llm, provider, err := resolveLLM(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	publisher, err := events.New(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("event bus init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionTTL, store, logger)
	engine := dialogue.NewEngine(sessions, store, llm, publisher, metrics, logger, dialogue.Config{
		WrapUpTurns: cfg.WrapUpTurns,
	})
	sessions.SetExpireHook(engine.SessionExpired)

	synth := tts.NewElevenLabs(tts.Config{
		APIKey:  cfg.ElevenLabsAPIKey,
		VoiceID: cfg.ElevenLabsVoiceID,
		ModelID: cfg.ElevenLabsModelID,
	})

	api := httpapi.New(cfg, engine, store, synth, metrics, logger)

	logger.Info("intake server configured",
		"llm_provider", provider,
		"store_mode", intakes.Mode(store),
		"tts_configured", synth.Configured(),
		"stt_configured", cfg.DeepgramAPIKey != "",
		"events", cfg.NatsURL != "",
	)

	cleanup := func() error {
		var errs []string
		publisher.Close()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Sessions:    sessions,
		Engine:      engine,
		Store:       store,
		Metrics:     metrics,
		LLMProvider: provider,
		Cleanup:     cleanup,
	}, nil
}

func resolveLLM(cfg config.Config) (dialogue.LLM, string, error) {
	hasKey := strings.TrimSpace(cfg.LLMAPIKey) != ""
	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "anthropic":
		if !hasKey {
			return nil, "", fmt.Errorf("LLM_PROVIDER=anthropic but LLM_API_KEY is not set")
		}
		return dialogue.NewAnthropicClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout), "anthropic", nil
	case "mock":
		return dialogue.NewMockLLM(), "mock", nil
	case "", "auto":
		if hasKey {
			return dialogue.NewAnthropicClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout), "anthropic", nil
		}
		return dialogue.NewMockLLM(), "mock", nil
	default:
		return nil, "", fmt.Errorf("invalid LLM_PROVIDER: %q (expected auto|anthropic|mock)", cfg.LLMProvider)
	}
}
