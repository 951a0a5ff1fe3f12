package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestJSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	New("info", "", &buf).Info("recovery completed", "persistence_id", "acc-1", "replayed", 3)
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if rec["msg"] != "recovery completed" || rec["persistence_id"] != "acc-1" {
		t.Fatalf("record: %v", rec)
	}
}

func TestTextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("warn", "text", &buf)
	l.Info("hidden")
	l.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Fatalf("output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatal("unexpected level mapping")
	}
}
