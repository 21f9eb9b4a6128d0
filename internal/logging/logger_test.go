package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := levelFromString(in).Level(); got != want {
			t.Errorf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewTagsService(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "trip-recorder", "info")
	l.Debug("hidden")
	l.Info("trip started", "trip_id", 7)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "trip-recorder" || rec["msg"] != "trip started" || rec["trip_id"] != float64(7) {
		t.Fatalf("unexpected record: %v", rec)
	}
}
