package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"tracerline/internal/config"
	"tracerline/internal/db"
	"tracerline/internal/engine"
	"tracerline/internal/events"
	"tracerline/internal/migrate"
)

// Workspace bundles an opened, migrated workspace and its engine.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// Options tune workspace opening. Zero values use the workspace config.
type Options struct {
	LogLevel  string
	LogOutput io.Writer
}

// Open loads tracerline.yml (defaults when absent) with TRACERLINE_*
// overrides, opens and migrates the database and assembles the engine.
func Open(ctx context.Context, dir string, opts Options) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	conn, err := db.Open(db.Config{Workspace: dir, Path: cfg.Storage.Path})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Logger = NewLogger(cfg.Logging.Level, cfg.Logging.Format, opts.LogOutput)
	e.Audit = events.Fanout{events.Writer{DB: conn, Now: e.Now}, events.Log{Logger: e.Logger}}
	return &Workspace{Dir: dir, DB: conn, Config: cfg, Engine: e}, nil
}

// NewLogger builds a slog logger. Output defaults to io.Discard so command
// output stays clean unless a writer is supplied.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = io.Discard
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel converts a level name to slog.Level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
