package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/docsmith/pkg/agent"
	"github.com/jmylchreest/docsmith/pkg/document"
	"github.com/jmylchreest/docsmith/pkg/llm"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/strategy"
)

var flakyCalls atomic.Int32

// echo providers answer with their configured name and model; flaky
// providers always fail.
func init() {
	provider.Register("flaky", func(_ llm.ProviderConfig, _ ...provider.LLMOption) (provider.Provider, error) {
		return provider.Func{ID: "flaky", Fn: func(context.Context, *provider.Request) (provider.Result, error) {
			flakyCalls.Add(1)
			return nil, errors.New("upstream unavailable")
		}}, nil
	})

	provider.Register("echo", func(cfg llm.ProviderConfig, opts ...provider.LLMOption) (provider.Provider, error) {
		c := provider.DefaultLLMConfig()
		for _, o := range opts {
			o(&c)
		}
		loader, _ := c.Loader.(document.FileLoader)
		return provider.Func{ID: c.Name, Fn: func(_ context.Context, req *provider.Request) (provider.Result, error) {
			return provider.Result{
				"provider": c.Name,
				"model":    cfg.Model,
				"content":  req.Content,
				"limit":    c.MaxContentSize,
				"article":  loader.Readability,
			}, nil
		}}, nil
	})
}

const pipeline = `
log:
  debug: true
providers:
  primary:
    type: echo
    model: m1
    priority: 90
  backup:
    type: echo
    priority: 10
    max_content_size: 50KB
    readability: true
  judge:
    type: echo
retry:
  max_retries: 1
  base_delay: 1ms
strategy:
  type: privacy
  detectors: [email]
  inner:
    type: router
    default: general
    keywords:
      invoice: [invoice, amount due]
    routes:
      invoice:
        type: fallback
        providers: [backup, primary]
      general:
        type: ensemble
        providers: [primary, backup]
        judge: judge
batch:
  provider: backup
  max_workers: 2
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(pipeline))
	require.NoError(t, err)

	assert.True(t, cfg.Log.Debug)
	assert.Len(t, cfg.Providers, 3)
	require.NotNil(t, cfg.Providers["primary"].Priority)
	assert.Equal(t, 90, *cfg.Providers["primary"].Priority)
	assert.Nil(t, cfg.Providers["judge"].Priority)
	assert.Equal(t, time.Millisecond, cfg.Retry.BaseDelay)
	assert.True(t, cfg.Retry.IsSet())
	assert.Equal(t, "privacy", cfg.Strategy.Type)
	require.NotNil(t, cfg.Strategy.Inner)
	assert.Equal(t, []string{"backup", "primary"}, cfg.Strategy.Inner.Routes["invoice"].Providers)
	assert.Equal(t, 2, cfg.Batch.MaxWorkers)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("providers:\n  p:\n    type: echo\nstrategy:\n  provider: p\n"))
	require.NoError(t, err)
	assert.Equal(t, "simple", cfg.Strategy.Type)
	assert.Equal(t, 4, cfg.Batch.MaxWorkers)
	assert.False(t, cfg.Retry.IsSet())
}

func TestParse_EnvOverride(t *testing.T) {
	t.Setenv("DOCSMITH_BATCH_MAX_WORKERS", "7")

	cfg, err := Parse([]byte(pipeline))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Batch.MaxWorkers)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no providers", "strategy:\n  type: simple\n", "Providers"},
		{"unknown strategy type", "providers:\n  p:\n    type: echo\nstrategy:\n  type: magic\n", "oneof"},
		{"provider without type", "providers:\n  p:\n    model: x\n", "Type"},
		{"priority out of range", "providers:\n  p:\n    type: echo\n    priority: 101\n", "Priority"},
		{"bad threshold", "providers:\n  p:\n    type: echo\nstrategy:\n  type: active_learning\n  threshold: 1.5\n", "Threshold"},
		{"nested strategy", "providers:\n  p:\n    type: echo\nstrategy:\n  type: privacy\n  inner:\n    type: bogus\n", "oneof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuild_NestedTree(t *testing.T) {
	cfg, err := Parse([]byte(pipeline))
	require.NoError(t, err)

	st, err := cfg.Build()
	require.NoError(t, err)
	require.IsType(t, &strategy.Privacy{}, st)

	res, err := st.Process(context.Background(), &provider.Request{
		DocumentRef: "inv.txt",
		Content:     "Invoice for a@b.io, amount due 12",
	})
	require.NoError(t, err)
	assert.Equal(t, "primary", res["provider"], "higher priority goes first")
	assert.Equal(t, "m1", res["model"])
	assert.Equal(t, "Invoice for a@b.io, amount due 12", res["content"], "email restored after redaction")

	res, err = st.Process(context.Background(), &provider.Request{DocumentRef: "letter.txt", Content: "Dear sir"})
	require.NoError(t, err)
	assert.Equal(t, "judge", res["provider"])
	assert.Equal(t, "synthesized", res[strategy.MetaEnsembleStatus])
}

func TestBuild_Kinds(t *testing.T) {
	tests := []struct {
		spec string
		want any
	}{
		{"type: simple\n  provider: p", &strategy.Simple{}},
		{"type: verified\n  provider: p\n  passes: 2", &strategy.Verified{}},
		{"type: sequential\n  chunk_size_pages: 3\n  inner:\n    type: simple\n    provider: p", &strategy.Sequential{}},
		{"type: active_learning\n  trials: 5\n  inner:\n    type: simple\n    provider: p", &strategy.ActiveLearning{}},
		{"type: agentic\n  provider: p\n  max_iterations: 4", &agent.Controller{}},
	}

	for _, tt := range tests {
		cfg, err := Parse([]byte("providers:\n  p:\n    type: echo\nstrategy:\n  " + tt.spec + "\n"))
		require.NoError(t, err, tt.spec)

		st, err := cfg.Build()
		require.NoError(t, err, tt.spec)
		assert.IsType(t, tt.want, st, tt.spec)
	}
}

func TestBuild_AppliesSettings(t *testing.T) {
	cfg, err := Parse([]byte(`
providers:
  p:
    type: echo
strategy:
  type: agentic
  provider: p
  max_iterations: 4
`))
	require.NoError(t, err)
	st, err := cfg.Build()
	require.NoError(t, err)
	assert.Equal(t, 4, st.(*agent.Controller).MaxIterations())

	cfg, err = Parse([]byte("providers:\n  p:\n    type: echo\nstrategy:\n  type: sequential\n  inner:\n    type: simple\n    provider: p\n"))
	require.NoError(t, err)
	st, err = cfg.Build()
	require.NoError(t, err)
	assert.Equal(t, strategy.DefaultChunkSizePages, st.(*strategy.Sequential).ChunkSize())
}

func TestBuild_ActiveLearningThreshold(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want float64
	}{
		{"unset uses default", "", strategy.DefaultConfidenceThreshold},
		{"zero disables review", "\n  threshold: 0", 0},
		{"explicit", "\n  threshold: 0.5", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte("providers:\n  p:\n    type: echo\nstrategy:\n  type: active_learning" + tt.spec +
				"\n  inner:\n    type: simple\n    provider: p\n"))
			require.NoError(t, err)
			st, err := cfg.Build()
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.(*strategy.ActiveLearning).Threshold())
		})
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want string
	}{
		{"unknown provider", "type: simple\n  provider: ghost", `unknown provider "ghost"`},
		{"missing provider", "type: verified", "provider is required"},
		{"fallback without providers", "type: fallback", strategy.ErrNoProviders.Error()},
		{"ensemble without judge", "type: ensemble\n  providers: [p]", "judge is required"},
		{"router without keywords", "type: router\n  routes:\n    a:\n      type: simple\n      provider: p", "keywords are required"},
		{"router bad default", "type: router\n  default: nope\n  keywords:\n    a: [x]\n  routes:\n    a:\n      type: simple\n      provider: p", `default route "nope"`},
		{"missing inner", "type: privacy", "missing strategy"},
		{"unknown detector", "type: privacy\n  detectors: [passport]\n  inner:\n    type: simple\n    provider: p", `unknown detector "passport"`},
		{"nested failure path", "type: sequential\n  inner:\n    type: simple\n    provider: ghost", "strategy (sequential): inner (simple)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte("providers:\n  p:\n    type: echo\nstrategy:\n  " + tt.spec + "\n"))
			require.NoError(t, err)

			_, err = cfg.Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuild_RetryNotMultipliedByWrappers(t *testing.T) {
	flakyCalls.Store(0)
	cfg, err := Parse([]byte(`
providers:
  p:
    type: flaky
retry:
  max_retries: 2
  base_delay: 1ms
  max_delay: 1ms
strategy:
  type: privacy
  inner:
    type: sequential
    inner:
      type: simple
      provider: p
`))
	require.NoError(t, err)
	s, err := cfg.Build()
	require.NoError(t, err)

	_, err = s.Process(context.Background(), &provider.Request{DocumentRef: "x", Content: "hello"})
	require.Error(t, err)
	assert.Equal(t, int32(3), flakyCalls.Load())
}

func TestBuild_UnknownProviderType(t *testing.T) {
	cfg, err := Parse([]byte("providers:\n  p:\n    type: carrier-pigeon\nstrategy:\n  provider: p\n"))
	require.NoError(t, err)

	_, err = cfg.Build()
	assert.ErrorContains(t, err, "unknown provider: carrier-pigeon")
}

func TestBuild_InvalidContentSize(t *testing.T) {
	cfg, err := Parse([]byte("providers:\n  p:\n    type: echo\n    max_content_size: lots\nstrategy:\n  provider: p\n"))
	require.NoError(t, err)

	_, err = cfg.Build()
	assert.ErrorContains(t, err, "invalid max_content_size")
}

func TestBuildBatch(t *testing.T) {
	cfg, err := Parse([]byte(pipeline))
	require.NoError(t, err)

	b, err := cfg.BuildBatch()
	require.NoError(t, err)
	assert.Equal(t, 2, b.MaxWorkers())

	bc := b.ProcessBatch(context.Background(), []string{"a.txt", "b.txt"}, "x", nil)
	assert.Equal(t, 2, bc.CompletedCount())

	cfg.Batch.Provider = ""
	_, err = cfg.BuildBatch()
	assert.ErrorContains(t, err, "batch.provider is required")
}

func TestBuildBatch_ProviderSettings(t *testing.T) {
	cfg, err := Parse([]byte(pipeline))
	require.NoError(t, err)
	b, err := cfg.BuildBatch()
	require.NoError(t, err)

	res, err := b.Process(context.Background(), &provider.Request{DocumentRef: "x", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "backup", res["provider"])
	assert.Equal(t, 50000, res["limit"])
	assert.Equal(t, true, res["article"])
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipeline), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "privacy", cfg.Strategy.Type)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
