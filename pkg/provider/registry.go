package provider

import (
	"fmt"
	"slices"
	"sync"

	"github.com/jmylchreest/docsmith/internal/telemetry"
	"github.com/jmylchreest/docsmith/pkg/llm"
)

// Factory builds a provider from backend settings.
type Factory func(cfg llm.ProviderConfig, opts ...LLMOption) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func init() {
	for _, name := range llm.AvailableProviders() {
		Register(name, llmFactory(name))
	}
}

func llmFactory(name string) Factory {
	return func(cfg llm.ProviderConfig, opts ...LLMOption) (Provider, error) {
		backend, err := llm.NewProvider(name, cfg)
		if err != nil {
			return nil, err
		}
		opts = append([]LLMOption{WithObserver(telemetry.LLMObserver{})}, opts...)
		return NewLLM(backend, opts...), nil
	}
}

// Register adds or replaces a named provider factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New builds a provider by registered name.
func New(name string, cfg llm.ProviderConfig, opts ...LLMOption) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s (available: %v)", name, Registered())
	}
	return f(cfg, opts...)
}

// Registered returns the registered provider names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
