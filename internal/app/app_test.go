package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tracerline/internal/config"
	"tracerline/internal/domain"
	"tracerline/internal/engine"
)

func TestOpenUsesDefaultsAndMigrates(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(context.Background(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	if ws.Config.Server.BasePath != "/v0" {
		t.Fatalf("expected default config, got %+v", ws.Config)
	}
	if _, err := ws.Engine.SetTeamStatus(context.Background(), engine.StatusUpdate{
		ProductOrder: "PO-1", Team: domain.TeamSAC, Status: domain.StatusInProgress,
	}); err != nil {
		t.Fatalf("engine not usable: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".tracerline", "tracerline.db")); err != nil {
		t.Fatalf("expected workspace db: %v", err)
	}
}

func TestOpenHonoursStoragePath(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "data", "orders.db")
	doc := "storage:\n  path: " + custom + "\n"
	if err := os.WriteFile(config.Path(dir), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	ws, err := Open(context.Background(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	if _, err := os.Stat(custom); err != nil {
		t.Fatalf("expected db at configured path: %v", err)
	}
}

func TestNewLoggerFormatsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("warn", "json", &buf)
	log.Info("hidden")
	log.Warn("shown", "team", "SAC")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"team":"SAC"`) {
		t.Fatalf("expected json attrs, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"nope":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%s: got %v want %v", in, got, want)
		}
	}
}
