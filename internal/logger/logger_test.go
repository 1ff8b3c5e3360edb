package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("allocated", "bytes", 512)

	out := buf.String()
	if !strings.Contains(out, `"msg":"allocated"`) {
		t.Fatalf("expected message in output, got: %s", out)
	}
	if !strings.Contains(out, `"bytes":512`) {
		t.Fatalf("expected bytes attribute in output, got: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Text(&buf, slog.LevelWarn)
	log.Info("hidden")
	log.Debug("hidden too")
	if buf.Len() > 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn record, got: %s", buf.String())
	}
}

func TestPretty(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug).With("model", "demo").WithGroup("graph")
	log.Debug("backprop done", "units", 3, "label", "two words")

	out := buf.String()
	for _, want := range []string{"DEBUG", "backprop done", "model=demo", "graph.units=3", `graph.label="two words"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestNewFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	for _, format := range []string{"", FormatText, FormatJSON, FormatPretty} {
		if _, err := NewFormat(&buf, format, "debug"); err != nil {
			t.Fatalf("NewFormat(%q): %v", format, err)
		}
	}
	if _, err := NewFormat(&buf, "xml", "info"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContext(t *testing.T) {
	t.Parallel()
	l := Discard()
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("expected logger from context")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger")
	}
}
