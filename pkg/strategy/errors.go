package strategy

import (
	"errors"
	"strings"
)

// Error kinds. Failures returned by strategies wrap one of these, so
// callers can branch with errors.Is while still reaching the provider's
// own error through the chain.
var (
	// ErrProviderFailure wraps any error raised by a provider call.
	ErrProviderFailure = errors.New("provider failure")

	// ErrUnroutable is returned when a router has no route for the
	// document's class and no default.
	ErrUnroutable = errors.New("no route for document class")

	// ErrRedactionLeakage is returned when a result contains a redaction
	// token that cannot be restored. It is never retried.
	ErrRedactionLeakage = errors.New("redaction token leaked into result")

	// ErrConsensus is returned when every ensemble member failed.
	ErrConsensus = errors.New("no ensemble member produced a result")

	// ErrLoopDetected marks an agent run that repeated the same tool call.
	ErrLoopDetected = errors.New("agent repeated the same tool call")

	// ErrIterationBudgetExceeded is returned when an agent exhausts its
	// iterations without producing anything to finalize.
	ErrIterationBudgetExceeded = errors.New("agent iteration budget exceeded")

	// ErrBatchPartialFailure is reported by BatchContext.Err when some
	// documents failed. Batches never return it from ProcessBatch.
	ErrBatchPartialFailure = errors.New("some batch documents failed")

	// ErrNoProviders is returned by constructors given nothing to call.
	ErrNoProviders = errors.New("no providers configured")
)

// Error ties a failure to the strategy and provider where it happened.
type Error struct {
	Strategy string
	Provider string
	Err      error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("strategy ")
	sb.WriteString(e.Strategy)
	if e.Provider != "" {
		sb.WriteString(": provider ")
		sb.WriteString(e.Provider)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }
