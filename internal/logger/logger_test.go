package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("hello", "key", "value")

	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) {
		t.Fatalf("expected message in output, got: %s", out)
	}
	if !strings.Contains(out, `"key":"value"`) {
		t.Fatalf("expected key=value in JSON output, got: %s", out)
	}
	if !strings.Contains(out, `"level":"INFO"`) {
		t.Fatalf("expected level INFO in output, got: %s", out)
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("should not appear")
	log.Debug("also should not appear")
	if buf.Len() > 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}
	log.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn message in output, got: %s", buf.String())
	}
}

func TestText(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Text(&buf, slog.LevelInfo).Info("exported", "signatures", 3)
	if !strings.Contains(buf.String(), "msg=exported signatures=3") {
		t.Fatalf("unexpected text output: %s", buf.String())
	}
}

func TestPrettyWithoutColor(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(NewPrettyHandler(&buf, &PrettyOptions{Level: slog.LevelInfo}))
	log.Info("loaded checkpoint", "path", "/tmp/a b.pkl", "params", 12)

	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Fatalf("unexpected ANSI escapes: %q", out)
	}
	if !strings.Contains(out, "INFO  loaded checkpoint") {
		t.Fatalf("missing level/message: %q", out)
	}
	if !strings.Contains(out, `path="/tmp/a b.pkl"`) || !strings.Contains(out, "params=12") {
		t.Fatalf("missing attrs: %q", out)
	}
}

func TestPrettyColorsErrors(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Pretty(&buf, slog.LevelInfo).Error("failed", "err", errors.New("boom"))
	if !strings.Contains(buf.String(), colorRed+"err=boom") {
		t.Fatalf("expected red error attr, got: %q", buf.String())
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &PrettyOptions{Level: slog.LevelWarn})
	ctx := context.Background()
	if h.Enabled(ctx, slog.LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !h.Enabled(ctx, slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}
	if !NewPrettyHandler(&bytes.Buffer{}, nil).Enabled(ctx, slog.LevelInfo) {
		t.Fatalf("nil options should default to info")
	}
}

func TestPrettyHandlerGroupsAndAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(NewPrettyHandler(&buf, nil)).With("backend", "ref").WithGroup("edge").WithGroup("sig")
	log.Info("converted", "kind", "mapping")

	out := buf.String()
	if !strings.Contains(out, "backend=ref") {
		t.Fatalf("missing handler attr: %q", out)
	}
	if !strings.Contains(out, "edge.sig.kind=mapping") {
		t.Fatalf("missing grouped attr: %q", out)
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"plain":     false,
		"two words": true,
		"":          true,
		"k=v":       true,
		`q"uote`:    true,
	}
	for in, want := range tests {
		if got := needsQuoting(in); got != want {
			t.Fatalf("needsQuoting(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Text(&buf, slog.LevelInfo)
	ctx := WithContext(context.Background(), log)
	if FromContext(ctx) != log {
		t.Fatalf("FromContext returned a different logger")
	}
	if FromContext(context.Background()) == nil {
		t.Fatalf("FromContext without logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Format{"": FormatAuto, "JSON": FormatJSON, "pretty": FormatPretty, "text": FormatText} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestSetupAutoFallsBackToText(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Setup(&buf, FormatAuto, slog.LevelInfo).Info("hi")
	if !strings.Contains(buf.String(), "level=INFO msg=hi") {
		t.Fatalf("expected text output for non-terminal writer, got: %q", buf.String())
	}
}
