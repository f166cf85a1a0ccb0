package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

func resetLogger() {
	logger = nil
	once = *new(sync.Once)
}

func TestSetupWithWriterHonoursLevel(t *testing.T) {
	resetLogger()
	t.Cleanup(resetLogger)

	var buf bytes.Buffer
	SetupWithWriter("warn", &buf)

	Info("dropped")
	Warn("kept", "k", "v")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line, got %d: %s", len(lines), buf.String())
	}

	var out map[string]any
	if err := json.Unmarshal(lines[0], &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["msg"] != "kept" || out["k"] != "v" {
		t.Errorf("unexpected record: %v", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	t.Cleanup(resetLogger)

	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("webhook").Info("hello")
	WithAccount("acct-1").Info("account msg")
	WithRequest("req-9").Info("request msg")

	dec := json.NewDecoder(&buf)
	want := []struct{ key, val string }{
		{"component", "webhook"},
		{"account_id", "acct-1"},
		{"request_id", "req-9"},
	}
	for _, w := range want {
		var out map[string]any
		if err := dec.Decode(&out); err != nil {
			t.Fatalf("Failed to decode JSON: %v", err)
		}
		if out[w.key] != w.val {
			t.Errorf("Expected %s %q, got %v", w.key, w.val, out[w.key])
		}
	}
}
