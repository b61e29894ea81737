package provider

import (
	"maps"
	"strings"

	"github.com/jmylchreest/docsmith/internal/logger"
)

// MetaPrefix marks result keys reserved for strategy metadata.
const MetaPrefix = "_"

// Result is the structured output of a provider or strategy. Keys starting
// with MetaPrefix carry metadata; everything else is extracted data.
type Result map[string]any

// SetMeta records metadata under key, which must carry MetaPrefix.
// Replacing an existing value is logged.
func (r Result) SetMeta(key string, v any) {
	if !strings.HasPrefix(key, MetaPrefix) {
		logger.Warn("refusing metadata key without prefix", "key", key)
		return
	}
	if old, ok := r[key]; ok {
		logger.Debug("overwriting result metadata", "key", key, "old", old, "new", v)
	}
	r[key] = v
}

// Meta returns the metadata value for key.
func (r Result) Meta(key string) (any, bool) {
	v, ok := r[key]
	return v, ok && strings.HasPrefix(key, MetaPrefix)
}

// Data returns a copy of r without metadata keys.
func (r Result) Data() Result {
	out := make(Result, len(r))
	for k, v := range r {
		if !strings.HasPrefix(k, MetaPrefix) {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy of r.
func (r Result) Clone() Result {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}
