package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func resetLogger() {
	Init(Options{})
}

// --- Level Tests ---

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		logged  []string
		dropped []string
	}{
		{"default", Options{}, []string{"info-msg", "warn-msg", "error-msg"}, []string{"debug-msg"}},
		{"debug", Options{Debug: true}, []string{"debug-msg", "info-msg"}, nil},
		{"quiet", Options{Quiet: true}, []string{"error-msg"}, []string{"info-msg", "warn-msg"}},
		{"quiet wins over debug", Options{Debug: true, Quiet: true}, []string{"error-msg"}, []string{"debug-msg", "info-msg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			opts := tt.opts
			opts.Output = buf
			Init(opts)
			defer resetLogger()

			Debug("debug-msg")
			Info("info-msg")
			Warn("warn-msg")
			Error("error-msg")

			out := buf.String()
			for _, m := range tt.logged {
				if !strings.Contains(out, m) {
					t.Errorf("expected %q in output, got %q", m, out)
				}
			}
			for _, m := range tt.dropped {
				if strings.Contains(out, m) {
					t.Errorf("did not expect %q in output", m)
				}
			}
		})
	}
}

func TestInit_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{JSON: true, Output: buf})
	defer resetLogger()

	Info("json message", "count", 3)

	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("expected JSON output, got %q", out)
	}
	if !strings.Contains(out, `"count":3`) {
		t.Errorf("expected structured attr in output, got %q", out)
	}
}

func TestSetLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	SetLogger(slog.New(slog.NewTextHandler(buf, nil)))
	defer resetLogger()

	Info("from custom logger")
	if !strings.Contains(buf.String(), "from custom logger") {
		t.Error("SetLogger should route output through the supplied logger")
	}
}

// --- Child Logger Tests ---

func TestComponent_TagsOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Output: buf})
	defer resetLogger()

	Component("fallback").Info("attempt", "provider", "primary")

	out := buf.String()
	if !strings.Contains(out, "component=fallback") {
		t.Errorf("expected component attribute, got %q", out)
	}
	if !strings.Contains(out, "provider=primary") {
		t.Errorf("expected provider attribute, got %q", out)
	}
}

func TestWith_ReturnsLoggerWithAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Output: buf})
	defer resetLogger()

	With("key", "value").Info("test with attrs")

	if !strings.Contains(buf.String(), "key=value") {
		t.Error("expected attributes in output")
	}
}

// --- Context Tests ---

func TestContextVariants(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Debug: true, Output: buf})
	defer resetLogger()

	ctx := context.Background()
	DebugContext(ctx, "debug with context")
	InfoContext(ctx, "info with context")
	WarnContext(ctx, "warn with context")
	ErrorContext(ctx, "error with context")

	for _, m := range []string{"debug with context", "info with context", "warn with context", "error with context"} {
		if !strings.Contains(buf.String(), m) {
			t.Errorf("expected %q in output", m)
		}
	}
}
