package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tracerline/internal/config"
	"tracerline/internal/domain"
	"tracerline/internal/events"
	"tracerline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  events.Sink
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  events.Writer{DB: db},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Change is the outcome of a mutation. AuditErr is set when the mutation
// committed but one or more activity entries could not be recorded.
type Change struct {
	Set      domain.TeamStatusSet      `json:"set"`
	Activity []domain.ActivityLogEntry `json:"activity"`
	AuditErr error                     `json:"-"`
}

// TeamStatuses returns the stored set for a product order, filled with
// defaults and normalized. Nothing is written.
func (e Engine) TeamStatuses(ctx context.Context, productOrder string) (domain.TeamStatusSet, error) {
	if strings.TrimSpace(productOrder) == "" {
		return domain.TeamStatusSet{}, errors.New("product order is required")
	}
	set, err := e.Repo.GetTeamStatusSet(ctx, productOrder)
	return loaded(set, productOrder, err)
}

func loaded(set domain.TeamStatusSet, productOrder string, err error) (domain.TeamStatusSet, error) {
	var prior *domain.TeamStatusSet
	switch {
	case err == nil:
		prior = &set
	case errors.Is(err, repo.ErrNotFound):
	default:
		return domain.TeamStatusSet{}, err
	}
	out, err := Initialize(prior)
	if err != nil {
		return domain.TeamStatusSet{}, err
	}
	out.ProductOrder = productOrder
	out, _ = Normalize(out)
	if err := checkStored(out); err != nil {
		return domain.TeamStatusSet{}, err
	}
	return out, nil
}

// checkStored rejects records that Normalize does not repair. Only Delivery
// drift is fixed automatically; anything else is reported to the caller.
func checkStored(set domain.TeamStatusSet) error {
	for _, r := range set.Records {
		ok, err := domain.Allows(r.Team, r.Status)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("stored status for %s: %w", set.ProductOrder, InvalidStatusError{Team: r.Team, Status: r.Status})
		}
	}
	return nil
}

// StatusUpdate is a single-team edit. Feedback is applied after the status
// when non-nil, so a Returned transition can carry its reason.
type StatusUpdate struct {
	ProductOrder string
	Team         domain.Team
	Status       domain.Status
	Feedback     *string
	UserID       string
}

// SetTeamStatus applies an explicit status edit, repairs any residual illegal
// state, persists the set and records the activity.
func (e Engine) SetTeamStatus(ctx context.Context, u StatusUpdate) (Change, error) {
	return e.mutate(ctx, u.ProductOrder, u.UserID, func(set domain.TeamStatusSet) (domain.TeamStatusSet, []domain.ActivityLogEntry, error) {
		var entries []domain.ActivityLogEntry
		next, entry, err := SetStatus(set, u.Team, u.Status)
		if err != nil {
			return set, nil, err
		}
		if u.Feedback != nil {
			var fbEntry *domain.ActivityLogEntry
			next, fbEntry, err = SetFeedback(next, u.Team, *u.Feedback)
			if err != nil {
				return set, nil, err
			}
			if entry != nil && RequiresFeedback(recordOf(next, u.Team)) {
				entry.Feedback = *u.Feedback
			}
			if fbEntry != nil {
				entries = append(entries, *fbEntry)
			}
		}
		if entry != nil {
			entries = append([]domain.ActivityLogEntry{*entry}, entries...)
		}
		return next, entries, nil
	})
}

// SetTeamFeedback replaces one team's feedback text.
func (e Engine) SetTeamFeedback(ctx context.Context, productOrder string, team domain.Team, feedback, userID string) (Change, error) {
	return e.mutate(ctx, productOrder, userID, func(set domain.TeamStatusSet) (domain.TeamStatusSet, []domain.ActivityLogEntry, error) {
		next, entry, err := SetFeedback(set, team, feedback)
		if err != nil || entry == nil {
			return next, nil, err
		}
		return next, []domain.ActivityLogEntry{*entry}, nil
	})
}

// NormalizeTeamStatuses persists the repaired set of a product order.
func (e Engine) NormalizeTeamStatuses(ctx context.Context, productOrder, userID string) (Change, error) {
	return e.mutate(ctx, productOrder, userID, func(set domain.TeamStatusSet) (domain.TeamStatusSet, []domain.ActivityLogEntry, error) {
		return set, nil, nil
	})
}

type mutation func(domain.TeamStatusSet) (domain.TeamStatusSet, []domain.ActivityLogEntry, error)

func (e Engine) mutate(ctx context.Context, productOrder, userID string, fn mutation) (Change, error) {
	if strings.TrimSpace(productOrder) == "" {
		return Change{}, errors.New("product order is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, err
	}
	defer tx.Rollback()

	stored, err := e.Repo.GetTeamStatusSetTx(ctx, tx, productOrder)
	var prior *domain.TeamStatusSet
	switch {
	case err == nil:
		prior = &stored
	case errors.Is(err, repo.ErrNotFound):
	default:
		return Change{}, err
	}
	set, err := Initialize(prior)
	if err != nil {
		return Change{}, err
	}
	set.ProductOrder = productOrder

	// stored residue is repaired before the edit so the edit sees a legal set;
	// a legal explicit choice is never undone by the second pass.
	set, repaired := Normalize(set)
	next, entries, err := fn(set)
	if err != nil {
		return Change{Set: set}, err
	}
	next, again := Normalize(next)
	// an explicit edit of the offending team clears a bad stored status;
	// any other edit leaves it in place and is refused.
	if err := checkStored(next); err != nil {
		return Change{Set: set}, err
	}
	repaired = append(repaired, again...)
	for _, r := range repaired {
		e.logger().Info("team status normalized", "product_order", productOrder, "team", r.Team, "from", r.PreviousStatus, "to", r.TeamStatus)
	}
	entries = append(repaired, entries...)

	nowStr := e.now().UTC().Format(time.RFC3339)
	if prior == nil || len(entries) > 0 || !sameRecords(stored, next) {
		if err := e.Repo.SaveTeamStatusSetTx(ctx, tx, next, nowStr); err != nil {
			return Change{Set: set}, err
		}
		next.UpdatedAt = nowStr
	}
	if err := tx.Commit(); err != nil {
		return Change{Set: set}, err
	}
	for i := range entries {
		entries[i].ProductOrderNumber = productOrder
		entries[i].UserID = userID
		entries[i].Timestamp = nowStr
	}
	recorded, auditErr := e.emit(ctx, entries)
	return Change{Set: next, Activity: recorded, AuditErr: auditErr}, nil
}

// emit hands entries to the audit sink. Failures are logged and returned but
// never undo the mutation that produced the entries.
func (e Engine) emit(ctx context.Context, entries []domain.ActivityLogEntry) ([]domain.ActivityLogEntry, error) {
	if e.Audit == nil || len(entries) == 0 {
		return entries, nil
	}
	var errs []error
	out := make([]domain.ActivityLogEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.UserID == "" {
			entry.UserID = "anonymous"
		}
		got, err := e.Audit.Emit(ctx, entry)
		if err != nil {
			err = fmt.Errorf("%w: %s: %v", ErrAuditSink, entry.ActivityType, err)
			e.logger().Warn("audit emission failed", "product_order", entry.ProductOrderNumber, "activity_type", entry.ActivityType, "error", err)
			errs = append(errs, err)
			out = append(out, entry)
			continue
		}
		out = append(out, got)
	}
	return out, errors.Join(errs...)
}

// StreamChange is the outcome of a stream or section mutation.
type StreamChange struct {
	Stream   domain.TracerStream       `json:"stream"`
	Activity []domain.ActivityLogEntry `json:"activity"`
	AuditErr error                     `json:"-"`
}

// CreateStream validates and stores a new stream with its sections.
func (e Engine) CreateStream(ctx context.Context, s domain.TracerStream, userID string) (StreamChange, error) {
	if strings.TrimSpace(s.ProductOrder) == "" {
		return StreamChange{}, errors.New("product order is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return StreamChange{}, errors.New("stream name is required")
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = nowStr
	seen := map[int]bool{}
	for i := range s.Sections {
		sec := &s.Sections[i]
		if seen[sec.Position] {
			return StreamChange{}, fmt.Errorf("duplicate section position %d", sec.Position)
		}
		seen[sec.Position] = true
		if strings.TrimSpace(sec.Name) == "" {
			return StreamChange{}, fmt.Errorf("section %d: name is required", sec.Position)
		}
		if err := validateTeams(sec.Teams); err != nil {
			return StreamChange{}, fmt.Errorf("section %d: %w", sec.Position, err)
		}
		for j := range sec.Files {
			stampFile(&sec.Files[j], nowStr)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StreamChange{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertStreamTx(ctx, tx, s); err != nil {
		return StreamChange{}, err
	}
	stored, err := e.Repo.GetStreamTx(ctx, tx, s.ID)
	if err != nil {
		return StreamChange{}, err
	}
	if err := tx.Commit(); err != nil {
		return StreamChange{}, err
	}
	return e.streamChanged(ctx, stored, userID, nowStr, domain.ActivityLogEntry{ActivityType: domain.ActivityStreamCreated})
}

// AttachFile adds a file reference to a section.
func (e Engine) AttachFile(ctx context.Context, streamID string, position int, f domain.FileRef, userID string) (StreamChange, error) {
	if strings.TrimSpace(f.Name) == "" {
		return StreamChange{}, errors.New("file name is required")
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	stampFile(&f, nowStr)
	return e.sectionMutation(ctx, streamID, position, userID, nowStr, domain.ActivityFileAttached, func(tx *sql.Tx, _ domain.Section) error {
		return e.Repo.InsertFileTx(ctx, tx, streamID, position, f)
	})
}

// DetachFile removes a file reference from a section.
func (e Engine) DetachFile(ctx context.Context, streamID string, position int, fileID, userID string) (StreamChange, error) {
	nowStr := e.now().UTC().Format(time.RFC3339)
	return e.sectionMutation(ctx, streamID, position, userID, nowStr, domain.ActivityFileDetached, func(tx *sql.Tx, _ domain.Section) error {
		return e.Repo.DeleteFileTx(ctx, tx, streamID, position, fileID)
	})
}

// SectionPatch holds the optional content changes for a section.
type SectionPatch struct {
	Name         *string
	Description  *string
	AssignedUser *string
	Notes        *string
	Required     *bool
	Teams        []domain.Team
	SetTeams     bool
}

// UpdateSection changes a section's content; its position is fixed.
func (e Engine) UpdateSection(ctx context.Context, streamID string, position int, p SectionPatch, userID string) (StreamChange, error) {
	if p.SetTeams {
		if err := validateTeams(p.Teams); err != nil {
			return StreamChange{}, err
		}
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return StreamChange{}, errors.New("section name must not be empty")
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	return e.sectionMutation(ctx, streamID, position, userID, nowStr, domain.ActivitySectionUpdated, func(tx *sql.Tx, sec domain.Section) error {
		if p.Name != nil {
			sec.Name = *p.Name
		}
		if p.Description != nil {
			sec.Description = *p.Description
		}
		if p.AssignedUser != nil {
			sec.AssignedUser = optionalString(*p.AssignedUser)
		}
		if p.Notes != nil {
			sec.Notes = optionalString(*p.Notes)
		}
		if p.Required != nil {
			sec.Required = *p.Required
		}
		if p.SetTeams {
			sec.Teams = p.Teams
		}
		return e.Repo.UpdateSectionTx(ctx, tx, streamID, sec)
	})
}

func (e Engine) sectionMutation(ctx context.Context, streamID string, position int, userID, nowStr, activity string, fn func(*sql.Tx, domain.Section) error) (StreamChange, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StreamChange{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetStreamTx(ctx, tx, streamID)
	if err != nil {
		return StreamChange{}, err
	}
	sec, ok := s.Section(position)
	if !ok {
		return StreamChange{}, fmt.Errorf("section %d: %w", position, repo.ErrNotFound)
	}
	if err := fn(tx, sec); err != nil {
		return StreamChange{}, err
	}
	stored, err := e.Repo.GetStreamTx(ctx, tx, streamID)
	if err != nil {
		return StreamChange{}, err
	}
	if err := tx.Commit(); err != nil {
		return StreamChange{}, err
	}
	pos := position
	return e.streamChanged(ctx, stored, userID, nowStr, domain.ActivityLogEntry{ActivityType: activity, Section: &pos})
}

func (e Engine) streamChanged(ctx context.Context, s domain.TracerStream, userID, nowStr string, entry domain.ActivityLogEntry) (StreamChange, error) {
	entry.ProductOrderNumber = s.ProductOrder
	entry.TraceabilityStream = s.ID
	entry.UserID = userID
	entry.Timestamp = nowStr
	recorded, auditErr := e.emit(ctx, []domain.ActivityLogEntry{entry})
	return StreamChange{Stream: s, Activity: recorded, AuditErr: auditErr}, nil
}

// Progress computes per-team and overall completion for a stored stream.
// round falls back to the configured default when nil.
func (e Engine) Progress(ctx context.Context, streamID string, round *bool) (domain.StreamProgress, error) {
	s, err := e.Repo.GetStream(ctx, streamID)
	if err != nil {
		return domain.StreamProgress{}, err
	}
	r := e.Config != nil && e.Config.Progress.RoundOverall
	if round != nil {
		r = *round
	}
	return StreamProgress(s, r)
}

// Activity lists a product order's audit entries newest first.
func (e Engine) Activity(ctx context.Context, productOrder string, limit int, cursorID int64) ([]domain.ActivityLogEntry, error) {
	return e.Repo.LatestActivity(ctx, limit, cursorID, repo.ActivityFilter{ProductOrder: productOrder})
}

func validateTeams(teams []domain.Team) error {
	for _, t := range teams {
		if !t.Valid() {
			return fmt.Errorf("%w: %q", domain.ErrUnknownTeam, t)
		}
	}
	return nil
}

func stampFile(f *domain.FileRef, now string) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.UploadedAt == "" {
		f.UploadedAt = now
	}
}

func recordOf(set domain.TeamStatusSet, team domain.Team) domain.TeamStatusRecord {
	r, _ := set.Record(team)
	return r
}

func sameRecords(a, b domain.TeamStatusSet) bool {
	if len(a.Records) != len(b.Records) {
		return false
	}
	for i := range a.Records {
		if a.Records[i] != b.Records[i] {
			return false
		}
	}
	return true
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
