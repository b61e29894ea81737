package telemetry

import (
	"context"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/pkg/llm"
)

// LLMObserver records model calls as Prometheus metrics and debug logs.
type LLMObserver struct{}

// OnLLMCall implements llm.LLMObserver.
func (LLMObserver) OnLLMCall(ctx context.Context, ev llm.LLMCallEvent) {
	LLMLatency.WithLabelValues(ev.Provider, Status(ev.Error)).Observe(ev.Duration.Seconds())
	if ev.Response != nil {
		LLMTokens.WithLabelValues(ev.Provider, ev.Model, "input").Add(float64(ev.Response.InputTokens))
		LLMTokens.WithLabelValues(ev.Provider, ev.Model, "output").Add(float64(ev.Response.OutputTokens))
	}
	logger.DebugContext(ctx, "llm call",
		"provider", ev.Provider,
		"model", ev.Model,
		"duration", ev.Duration,
		"input_bytes", ev.Request.InputContentSize,
		"error", ev.Error)
}

var _ llm.LLMObserver = LLMObserver{}
