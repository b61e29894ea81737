package llm

import (
	"fmt"
	"os"
	"slices"
	"sync"
)

// ProviderFactory creates backends from config.
type ProviderFactory func(cfg ProviderConfig) (Provider, error)

// OpenRouterBaseURL is the OpenAI-compatible endpoint used for "openrouter".
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// DefaultModels maps backend names to their default models.
var DefaultModels = map[string]string{
	"anthropic":  "claude-sonnet-4-20250514",
	"openai":     "gpt-4o",
	"openrouter": "openrouter/auto",
	"ollama":     "llama3.2",
}

// envKeys maps backend names to their API key environment variables.
var envKeys = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
}

var (
	registryMu sync.RWMutex
	registry   = map[string]ProviderFactory{}
)

func init() {
	RegisterProvider("anthropic", func(cfg ProviderConfig) (Provider, error) {
		return NewAnthropicProvider(cfg)
	})
	RegisterProvider("openai", func(cfg ProviderConfig) (Provider, error) {
		return NewOpenAIProvider(cfg)
	})
	RegisterProvider("openrouter", func(cfg ProviderConfig) (Provider, error) {
		if cfg.BaseURL == "" {
			cfg.BaseURL = OpenRouterBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultModels["openrouter"]
		}
		p, err := NewOpenAIProvider(cfg)
		if err != nil {
			return nil, err
		}
		p.name = "openrouter"
		return p, nil
	})
	RegisterProvider("ollama", func(cfg ProviderConfig) (Provider, error) {
		return NewOllamaProvider(cfg)
	})
}

// NewProvider creates a backend by name. A missing API key is filled from
// the backend's environment variable.
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm backend: %s (available: %v)", name, AvailableProviders())
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(envKeys[name])
	}
	return factory(cfg)
}

// RegisterProvider adds or replaces a backend factory.
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// AvailableProviders returns the registered backend names, sorted.
func AvailableProviders() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DetectProvider picks a backend from the API keys present in the
// environment, falling back to a local Ollama.
// Priority: OPENROUTER_API_KEY > ANTHROPIC_API_KEY > OPENAI_API_KEY > ollama
func DetectProvider() string {
	for _, name := range []string{"openrouter", "anthropic", "openai"} {
		if os.Getenv(envKeys[name]) != "" {
			return name
		}
	}
	return "ollama"
}
