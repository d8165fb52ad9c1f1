package events

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"tracerline/internal/domain"
)

// Sink accepts activity entries for the audit trail.
type Sink interface {
	Emit(ctx context.Context, entry domain.ActivityLogEntry) (domain.ActivityLogEntry, error)
}

// Writer appends entries to the activity_log table.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Emit(ctx context.Context, entry domain.ActivityLogEntry) (domain.ActivityLogEntry, error) {
	if w.DB == nil {
		return entry, errors.New("audit writer has no database")
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if entry.Timestamp == "" {
		entry.Timestamp = w.Now().UTC().Format(time.RFC3339)
	}
	var section any
	if entry.Section != nil {
		section = *entry.Section
	}
	res, err := w.DB.ExecContext(ctx, `INSERT INTO activity_log(ts,user_id,activity_type,product_order,team,team_status,previous_status,feedback,stream_id,section)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		entry.Timestamp, entry.UserID, entry.ActivityType, entry.ProductOrderNumber,
		nullable(string(entry.Team)), nullable(string(entry.TeamStatus)), nullable(string(entry.PreviousStatus)),
		nullable(entry.Feedback), nullable(entry.TraceabilityStream), section)
	if err != nil {
		return entry, err
	}
	entry.ID, _ = res.LastInsertId()
	return entry, nil
}

// Fanout emits to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, entry domain.ActivityLogEntry) (domain.ActivityLogEntry, error) {
	var errs []error
	out := entry
	for i, s := range f {
		got, err := s.Emit(ctx, entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if i == 0 {
			out = got
		}
	}
	return out, errors.Join(errs...)
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Emit(_ context.Context, entry domain.ActivityLogEntry) (domain.ActivityLogEntry, error) {
	return entry, nil
}

// Log writes each entry to a structured logger at DEBUG.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Emit(ctx context.Context, entry domain.ActivityLogEntry) (domain.ActivityLogEntry, error) {
	if l.Logger == nil {
		return entry, nil
	}
	attrs := []any{"type", entry.ActivityType, "product_order", entry.ProductOrderNumber, "user", entry.UserID}
	if entry.Team != "" {
		attrs = append(attrs, "team", string(entry.Team), "from", string(entry.PreviousStatus), "to", string(entry.TeamStatus))
	}
	if entry.TraceabilityStream != "" {
		attrs = append(attrs, "stream", entry.TraceabilityStream)
	}
	l.Logger.DebugContext(ctx, "activity", attrs...)
	return entry, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
