// Package engine talks to the external language model. It owns provider
// setup, failover between providers, the prompts, and decoding of the
// model's JSON envelope.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/basket/taskchat/internal/otel"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Brain produces one completion for a system prompt and a user prompt.
type Brain interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// BrainConfig holds configuration for the GenkitBrain.
type BrainConfig struct {
	// Provider is "google", "anthropic", "openai", "openrouter" or
	// "openai_compatible".
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the provider endpoint. Required for openai_compatible.
	BaseURL string
}

var defaultModels = map[string]string{
	"google":     "gemini-2.5-flash",
	"anthropic":  "claude-sonnet-4-5-20250929",
	"openai":     "gpt-4o-mini",
	"openrouter": "anthropic/claude-sonnet-4-5-20250929",
}

// GenkitBrain is a Brain backed by one Genkit provider plugin.
type GenkitBrain struct {
	g        *genkit.Genkit
	provider string
	model    string
	llmOn    bool
}

// NewGenkitBrain initializes Genkit with the configured provider. A missing
// API key leaves the brain disabled; Complete then returns ErrBrainDisabled.
func NewGenkitBrain(ctx context.Context, cfg BrainConfig) *GenkitBrain {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	modelID := strings.TrimSpace(cfg.Model)
	if modelID == "" {
		modelID = defaultModels[provider]
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			baseURL := cfg.BaseURL
			if baseURL == "" {
				baseURL = os.Getenv("ANTHROPIC_BASE_URL")
			}
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{APIKey: apiKey, BaseURL: baseURL}))
			llmOn = true
		}
	case "openai", "openrouter", "openai_compatible":
		if apiKey != "" {
			baseURL := cfg.BaseURL
			switch {
			case baseURL != "":
			case provider == "openrouter":
				baseURL = "https://openrouter.ai/api/v1"
			case provider == "openai":
				baseURL = os.Getenv("OPENAI_BASE_URL")
			}
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: provider,
				APIKey:   apiKey,
				BaseURL:  baseURL,
			}))
			llmOn = true
		}
	case "google":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: apiKey}))
			llmOn = true
		}
	default:
		slog.Warn("unknown LLM provider, running in demo mode", "provider", provider)
	}

	if llmOn {
		slog.Info("genkit brain initialized", "provider", provider, "model", modelID)
	} else if provider != "" {
		slog.Warn("LLM API key missing; running in demo mode", "provider", provider)
	}

	return &GenkitBrain{
		g:        g,
		provider: provider,
		model:    modelID,
		llmOn:    llmOn,
	}
}

// Enabled reports whether the brain has a usable provider.
func (b *GenkitBrain) Enabled() bool { return b != nil && b.llmOn }

func (b *GenkitBrain) Name() string { return b.provider }

// Model returns the configured model id without the plugin prefix.
func (b *GenkitBrain) Model() string { return b.model }

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "google":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

func modelNameForProvider(provider, model string) string {
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openrouter", "openai_compatible":
		// Routed providers take the full upstream model name as-is.
		return model
	default:
		return "googleai/" + model
	}
}

// Complete sends one system and user prompt pair to the model and returns
// its text.
func (b *GenkitBrain) Complete(ctx context.Context, system, prompt string) (string, error) {
	if !b.Enabled() {
		return "", ErrBrainDisabled
	}
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", fmt.Errorf("empty prompt")
	}

	ctx, span := otel.StartClientSpan(ctx, otel.GlobalTracer(), "llm.complete", otel.AttrProvider.String(b.provider), otel.AttrModel.String(b.model))
	defer span.End()

	// ai.WithSystem and ai.WithPrompt treat their text as a format string.
	resp, err := genkit.Generate(ctx, b.g,
		ai.WithModelName(modelNameForProvider(b.provider, b.model)),
		ai.WithSystem(strings.ReplaceAll(system, "%", "%%")),
		ai.WithPrompt(strings.ReplaceAll(trimmed, "%", "%%")),
	)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("genkit generate: %w", err)
	}
	return resp.Text(), nil
}
