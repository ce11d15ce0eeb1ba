package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/reeze/piecode/internal/config"
)

// ParseProviderModel parses "provider:model" or just "provider" from a flag value.
// Returns (provider, model, error). Model will be empty if not specified.
// For the new config format, we validate against configured providers or built-in types.
func ParseProviderModel(s string, cfg *config.Config) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	provider := strings.TrimSpace(parts[0])
	model := ""
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}

	// Allow hidden debug provider (not in built-in list)
	if provider == "debug" {
		return provider, model, nil
	}

	// Check if provider is configured or is a built-in type
	if cfg != nil {
		if _, ok := cfg.Providers[provider]; ok {
			return provider, model, nil
		}
	}

	// Also accept built-in provider type names
	for _, name := range config.GetBuiltInProviderNames() {
		if provider == name {
			return provider, model, nil
		}
	}

	return "", "", fmt.Errorf("unknown provider: %s", provider)
}

// defaultProviderRPS and defaultProviderBurst bound outbound request rate
// per provider instance before the retry wrapper's reactive backoff ever
// gets involved. Generous enough not to throttle normal single-session use;
// present mainly to smooth bursts from rapid tool-call turns.
const (
	defaultProviderRPS   = 4.0
	defaultProviderBurst = 8
)

// wrapProvider applies the standard Provider Adapter wrapping: rate limiting
// innermost (applies backpressure before a call is attempted), retry outermost
// (reacts to the transient errors that get through).
func wrapProvider(p Provider) Provider {
	return WrapWithRetry(WrapWithRateLimit(p, defaultProviderRPS, defaultProviderBurst), DefaultRetryConfig())
}

// NewProvider creates a new LLM provider based on the config.
// Providers are wrapped with rate limiting and automatic retry for rate
// limits (429) and transient errors.
func NewProvider(cfg *config.Config) (Provider, error) {
	provider, err := newProviderInternal(cfg)
	if err != nil {
		return nil, err
	}
	return wrapProvider(provider), nil
}

// NewProviderByName creates a provider by name from the config, with an optional model override.
// This is useful for per-command provider overrides.
// If the provider is a built-in type but not explicitly configured,
// it will be created with default settings.
func NewProviderByName(cfg *config.Config, name string, model string) (Provider, error) {
	// Handle hidden debug provider first
	if name == "debug" {
		provider := NewDebugProvider(model)
		return wrapProvider(provider), nil
	}

	providerCfg, ok := cfg.Providers[name]
	if !ok {
		// Check if it's a built-in provider type that can work without config
		providerType := config.InferProviderType(name, "")
		switch providerType {
		case config.ProviderTypeAnthropic:
			// anthropic uses ANTHROPIC_API_KEY or CLAUDE_CODE_OAUTH_TOKEN from the environment
			provider, err := NewAnthropicProvider("", model, "")
			if err != nil {
				return nil, fmt.Errorf("provider anthropic: %w", err)
			}
			return wrapProvider(provider), nil
		case config.ProviderTypeGemini:
			// gemini can use GEMINI_API_KEY env var
			apiKey := os.Getenv("GEMINI_API_KEY")
			if apiKey == "" {
				return nil, fmt.Errorf("provider %q requires GEMINI_API_KEY environment variable or explicit config", name)
			}
			provider := NewGeminiProvider(apiKey, model)
			return wrapProvider(provider), nil
		case config.ProviderTypeBedrock:
			// bedrock resolves credentials via the standard AWS SDK chain
			provider, err := NewBedrockProvider(context.Background(), os.Getenv("AWS_REGION"), model, "", "", "")
			if err != nil {
				return nil, fmt.Errorf("provider bedrock: %w", err)
			}
			return wrapProvider(provider), nil
		default:
			return nil, fmt.Errorf("provider %q not configured", name)
		}
	}

	// Apply model override if provided
	if model != "" {
		providerCfg.Model = model
	}

	provider, err := createProviderFromConfig(name, &providerCfg)
	if err != nil {
		return nil, err
	}
	return wrapProvider(provider), nil
}

// newProviderInternal creates the underlying provider without retry wrapper.
func newProviderInternal(cfg *config.Config) (Provider, error) {
	// Handle hidden debug provider first
	if cfg.DefaultProvider == "debug" {
		return NewDebugProvider(""), nil
	}

	providerCfg, ok := cfg.Providers[cfg.DefaultProvider]
	if !ok {
		// Check if it's a built-in provider type that can work without config
		providerType := config.InferProviderType(cfg.DefaultProvider, "")
		switch providerType {
		case config.ProviderTypeAnthropic:
			// anthropic uses ANTHROPIC_API_KEY or CLAUDE_CODE_OAUTH_TOKEN from the environment
			return NewAnthropicProvider("", "", "")
		case config.ProviderTypeGemini:
			// gemini can use GEMINI_API_KEY env var
			apiKey := os.Getenv("GEMINI_API_KEY")
			if apiKey == "" {
				return nil, fmt.Errorf("provider %q requires GEMINI_API_KEY environment variable or explicit config", cfg.DefaultProvider)
			}
			return NewGeminiProvider(apiKey, ""), nil
		case config.ProviderTypeBedrock:
			return NewBedrockProvider(context.Background(), os.Getenv("AWS_REGION"), "", "", "", "")
		default:
			return nil, fmt.Errorf("provider %q not configured", cfg.DefaultProvider)
		}
	}
	return createProviderFromConfig(cfg.DefaultProvider, &providerCfg)
}

// createProviderFromConfig creates a provider from a ProviderConfig.
func createProviderFromConfig(name string, cfg *config.ProviderConfig) (Provider, error) {
	// Resolve lazy config values (op://, srv://, $()) before creating provider
	if err := cfg.ResolveForInference(); err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}

	providerType := config.InferProviderType(name, cfg.Type)

	switch providerType {
	case config.ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg.ResolvedAPIKey, cfg.Model, cfg.Credentials)

	case config.ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg.ResolvedAPIKey, cfg.Model), nil

	case config.ProviderTypeGemini:
		return NewGeminiProvider(cfg.ResolvedAPIKey, cfg.Model), nil

	case config.ProviderTypeBedrock:
		// bedrock authenticates via the AWS SDK's standard credential chain,
		// not an api_key; region comes from AWS_REGION/shared config.
		return NewBedrockProvider(context.Background(), os.Getenv("AWS_REGION"), cfg.Model, "", "", "")

	default:
		return nil, fmt.Errorf("unknown provider type: %s", providerType)
	}
}
