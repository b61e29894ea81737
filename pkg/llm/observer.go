package llm

import (
	"context"
	"time"
)

// LLMObserver is notified after every model call, successful or not.
// Implementations must not block.
type LLMObserver interface {
	OnLLMCall(ctx context.Context, event LLMCallEvent)
}

// LLMCallEvent describes one model call.
type LLMCallEvent struct {
	Provider  string
	Model     string
	Request   LLMCallRequest
	Response  *LLMCallResponse // nil when the call failed before a response
	Error     error
	Duration  time.Duration
	StartedAt time.Time
}

// LLMCallRequest summarises what was sent.
type LLMCallRequest struct {
	Messages         int
	MaxTokens        int
	Temperature      float64
	StructuredOutput bool
	InputContentSize int
}

// LLMCallResponse summarises what came back.
type LLMCallResponse struct {
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// ObserverFunc adapts a function to LLMObserver.
type ObserverFunc func(ctx context.Context, event LLMCallEvent)

// OnLLMCall implements LLMObserver.
func (f ObserverFunc) OnLLMCall(ctx context.Context, event LLMCallEvent) {
	f(ctx, event)
}

// MultiObserver fans events out to several observers.
type MultiObserver struct {
	observers []LLMObserver
}

// NewMultiObserver creates an observer that dispatches to multiple observers.
// Nil entries are skipped.
func NewMultiObserver(observers ...LLMObserver) *MultiObserver {
	m := &MultiObserver{}
	for _, o := range observers {
		m.Add(o)
	}
	return m
}

// OnLLMCall dispatches the event to all registered observers.
func (m *MultiObserver) OnLLMCall(ctx context.Context, event LLMCallEvent) {
	for _, obs := range m.observers {
		obs.OnLLMCall(ctx, event)
	}
}

// Add appends an observer.
func (m *MultiObserver) Add(obs LLMObserver) {
	if obs != nil {
		m.observers = append(m.observers, obs)
	}
}

// Observe wraps p so that every Execute call is reported to obs.
func Observe(p Provider, obs LLMObserver) Provider {
	if obs == nil {
		return p
	}
	return &observed{Provider: p, obs: obs}
}

type observed struct {
	Provider
	obs LLMObserver
}

func (o *observed) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := o.Provider.Execute(ctx, req)

	ev := LLMCallEvent{
		Provider:  o.Name(),
		Model:     o.Model(),
		Error:     err,
		Duration:  time.Since(start),
		StartedAt: start,
		Request: LLMCallRequest{
			Messages:         len(req.Messages),
			MaxTokens:        req.MaxTokens,
			Temperature:      req.Temperature,
			StructuredOutput: req.JSONSchema != nil,
			InputContentSize: contentSize(req.Messages),
		},
	}
	if resp != nil {
		if resp.Model != "" {
			ev.Model = resp.Model
		}
		ev.Response = &LLMCallResponse{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			FinishReason: resp.FinishReason,
		}
	}
	o.obs.OnLLMCall(ctx, ev)
	return resp, err
}

func contentSize(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n
}
