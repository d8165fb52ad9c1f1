package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tracerline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetTeamStatusSet loads the stored records for a product order exactly as
// persisted. It returns ErrNotFound when none exist.
func (r Repo) GetTeamStatusSet(ctx context.Context, productOrder string) (domain.TeamStatusSet, error) {
	return getTeamStatusSet(ctx, r.DB, productOrder)
}

func (r Repo) GetTeamStatusSetTx(ctx context.Context, tx *sql.Tx, productOrder string) (domain.TeamStatusSet, error) {
	return getTeamStatusSet(ctx, tx, productOrder)
}

func getTeamStatusSet(ctx context.Context, q querier, productOrder string) (domain.TeamStatusSet, error) {
	rows, err := q.QueryContext(ctx, `SELECT team,status,COALESCE(feedback,''),updated_at FROM team_statuses WHERE product_order=? ORDER BY ordinal ASC`, productOrder)
	if err != nil {
		return domain.TeamStatusSet{}, err
	}
	defer rows.Close()
	set := domain.TeamStatusSet{ProductOrder: productOrder}
	for rows.Next() {
		var rec domain.TeamStatusRecord
		var updatedAt string
		if err := rows.Scan(&rec.Team, &rec.Status, &rec.Feedback, &updatedAt); err != nil {
			return domain.TeamStatusSet{}, err
		}
		if updatedAt > set.UpdatedAt {
			set.UpdatedAt = updatedAt
		}
		set.Records = append(set.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return domain.TeamStatusSet{}, err
	}
	if len(set.Records) == 0 {
		return set, ErrNotFound
	}
	return set, nil
}

// SaveTeamStatusSetTx upserts every record of set.
func (r Repo) SaveTeamStatusSetTx(ctx context.Context, tx *sql.Tx, set domain.TeamStatusSet, now string) error {
	if set.ProductOrder == "" {
		return errors.New("product order required")
	}
	for i, rec := range set.Records {
		if _, err := tx.ExecContext(ctx, `INSERT INTO team_statuses(product_order,team,ordinal,status,feedback,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(product_order,team) DO UPDATE SET ordinal=excluded.ordinal, status=excluded.status, feedback=excluded.feedback, updated_at=excluded.updated_at`,
			set.ProductOrder, string(rec.Team), i, string(rec.Status), nullable(rec.Feedback), now); err != nil {
			return fmt.Errorf("save %s status: %w", rec.Team, err)
		}
	}
	return nil
}

// ListProductOrders returns product orders that have statuses or streams.
func (r Repo) ListProductOrders(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT product_order FROM team_statuses UNION SELECT product_order FROM tracer_streams ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var po string
		if err := rows.Scan(&po); err != nil {
			return nil, err
		}
		res = append(res, po)
	}
	return res, rows.Err()
}

// ActivityFilter narrows activity listings.
type ActivityFilter struct {
	ProductOrder string
	ActivityType string
	Team         string
	StreamID     string
}

// LatestActivity returns up to limit entries newest first, starting below
// cursorID when it is non-zero.
func (r Repo) LatestActivity(ctx context.Context, limit int, cursorID int64, f ActivityFilter) ([]domain.ActivityLogEntry, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ProductOrder != "" {
		clauses = append(clauses, "product_order=?")
		args = append(args, f.ProductOrder)
	}
	if f.ActivityType != "" {
		clauses = append(clauses, "activity_type=?")
		args = append(args, f.ActivityType)
	}
	if f.Team != "" {
		clauses = append(clauses, "team=?")
		args = append(args, f.Team)
	}
	if f.StreamID != "" {
		clauses = append(clauses, "stream_id=?")
		args = append(args, f.StreamID)
	}
	if cursorID > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, cursorID)
	}
	query := activitySelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryActivity(ctx, query, args...)
}

// ActivityAfter returns entries with id greater than afterID, oldest first.
func (r Repo) ActivityAfter(ctx context.Context, limit int, afterID int64, productOrder string) ([]domain.ActivityLogEntry, error) {
	query := activitySelect + " WHERE id > ?"
	args := []any{afterID}
	if productOrder != "" {
		query += " AND product_order=?"
		args = append(args, productOrder)
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)
	return r.queryActivity(ctx, query, args...)
}

// MaxActivityID returns the newest activity id, 0 when the log is empty.
func (r Repo) MaxActivityID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM activity_log`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

const activitySelect = `SELECT id,ts,user_id,activity_type,product_order,COALESCE(team,''),COALESCE(team_status,''),COALESCE(previous_status,''),COALESCE(feedback,''),COALESCE(stream_id,''),section FROM activity_log`

func (r Repo) queryActivity(ctx context.Context, query string, args ...any) ([]domain.ActivityLogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityLogEntry
	for rows.Next() {
		var (
			e       domain.ActivityLogEntry
			section sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.ActivityType, &e.ProductOrderNumber,
			&e.Team, &e.TeamStatus, &e.PreviousStatus, &e.Feedback, &e.TraceabilityStream, &section); err != nil {
			return nil, err
		}
		if section.Valid {
			pos := int(section.Int64)
			e.Section = &pos
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
