package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWith(FormatJSON, &buf); err != nil {
		t.Fatalf("failed to initialize json logger: %v", err)
	}

	Named("store").Info(context.Background(), "document replaced",
		String("path", "LEADERBOARD.md"),
		Int("rows", 3),
		Bool("inserted", true),
		Duration("took", 1500*time.Millisecond),
		Error(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not json: %v: %q", err, buf.String())
	}
	if rec["msg"] != "document replaced" {
		t.Errorf("msg = %v", rec["msg"])
	}
	group, ok := rec["store"].(map[string]any)
	if !ok {
		t.Fatalf("named logger should nest fields under its group: %v", rec)
	}
	if group["path"] != "LEADERBOARD.md" || group["took"] != "1.5s" || group["inserted"] != true {
		t.Errorf("unexpected fields: %v", group)
	}
	if src, _ := group["source"].(string); !strings.Contains(src, "logger_test.go:") {
		t.Errorf("source = %q, want caller location", src)
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWith(FormatText, &buf); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	Get().Debug(ctx, "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level, got %q", buf.String())
	}

	if err := SetLevelString("DEBUG"); err != nil {
		t.Fatal(err)
	}
	Get().Debug(ctx, "shown")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Fatalf("debug should pass after SetLevelString, got %q", buf.String())
	}

	if err := SetLevelString("verbose"); err == nil {
		t.Error("unknown level should fail")
	}
}

func TestLoggerUnknownFormat(t *testing.T) {
	if err := InitWith("xml", &bytes.Buffer{}); err == nil {
		t.Fatal("unknown format should fail")
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWith(FormatJSON, &buf); err != nil {
		t.Fatal(err)
	}

	Get().With(String("command", "update")).Warn(context.Background(), "lock contended", Int("attempt", 2))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not json: %v: %q", err, buf.String())
	}
	if rec["command"] != "update" || rec["level"] != "WARN" {
		t.Errorf("bound field missing: %v", rec)
	}
	if rec["attempt"] != float64(2) {
		t.Errorf("attempt = %v", rec["attempt"])
	}
}
