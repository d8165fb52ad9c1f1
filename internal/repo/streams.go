package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"tracerline/internal/domain"
)

// InsertStreamTx stores a stream with all of its sections, team labels and files.
func (r Repo) InsertStreamTx(ctx context.Context, tx *sql.Tx, s domain.TracerStream) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO tracer_streams(id,product_order,name,created_at) VALUES (?,?,?,?)`,
		s.ID, s.ProductOrder, s.Name, s.CreatedAt); err != nil {
		return fmt.Errorf("insert stream: %w", err)
	}
	for _, sec := range s.Sections {
		if err := r.insertSection(ctx, tx, s.ID, sec); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) insertSection(ctx context.Context, tx *sql.Tx, streamID string, sec domain.Section) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO sections(stream_id,position,name,description,assigned_user,notes,required) VALUES (?,?,?,?,?,?,?)`,
		streamID, sec.Position, sec.Name, nullable(sec.Description), nullableStringPtr(sec.AssignedUser), nullableStringPtr(sec.Notes), boolInt(sec.Required)); err != nil {
		return fmt.Errorf("insert section %d: %w", sec.Position, err)
	}
	if err := r.replaceSectionTeams(ctx, tx, streamID, sec.Position, sec.Teams); err != nil {
		return err
	}
	for _, f := range sec.Files {
		if err := r.InsertFileTx(ctx, tx, streamID, sec.Position, f); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) replaceSectionTeams(ctx context.Context, tx *sql.Tx, streamID string, position int, teams []domain.Team) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM section_teams WHERE stream_id=? AND position=?`, streamID, position); err != nil {
		return err
	}
	for _, t := range teams {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO section_teams(stream_id,position,team) VALUES (?,?,?)`, streamID, position, string(t)); err != nil {
			return fmt.Errorf("label section %d: %w", position, err)
		}
	}
	return nil
}

// InsertFileTx attaches a file reference to a section.
func (r Repo) InsertFileTx(ctx context.Context, tx *sql.Tx, streamID string, position int, f domain.FileRef) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO section_files(id,stream_id,position,name,url,uploaded_at) VALUES (?,?,?,?,?,?)`,
		f.ID, streamID, position, f.Name, nullable(f.URL), f.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert file %s: %w", f.Name, err)
	}
	return nil
}

// DeleteFileTx removes a file reference from a section.
func (r Repo) DeleteFileTx(ctx context.Context, tx *sql.Tx, streamID string, position int, fileID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM section_files WHERE id=? AND stream_id=? AND position=?`, fileID, streamID, position)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSectionTx rewrites a section's mutable content. Position is the identity and never changes.
func (r Repo) UpdateSectionTx(ctx context.Context, tx *sql.Tx, streamID string, sec domain.Section) error {
	res, err := tx.ExecContext(ctx, `UPDATE sections SET name=?, description=?, assigned_user=?, notes=?, required=? WHERE stream_id=? AND position=?`,
		sec.Name, nullable(sec.Description), nullableStringPtr(sec.AssignedUser), nullableStringPtr(sec.Notes), boolInt(sec.Required), streamID, sec.Position)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return r.replaceSectionTeams(ctx, tx, streamID, sec.Position, sec.Teams)
}

// GetStream loads a stream snapshot with sections ordered by position.
func (r Repo) GetStream(ctx context.Context, id string) (domain.TracerStream, error) {
	return getStream(ctx, r.DB, id)
}

func (r Repo) GetStreamTx(ctx context.Context, tx *sql.Tx, id string) (domain.TracerStream, error) {
	return getStream(ctx, tx, id)
}

func getStream(ctx context.Context, q querier, id string) (domain.TracerStream, error) {
	var s domain.TracerStream
	err := q.QueryRowContext(ctx, `SELECT id,product_order,name,created_at FROM tracer_streams WHERE id=?`, id).
		Scan(&s.ID, &s.ProductOrder, &s.Name, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Sections, err = loadSections(ctx, q, id)
	return s, err
}

func loadSections(ctx context.Context, q querier, streamID string) ([]domain.Section, error) {
	rows, err := q.QueryContext(ctx, `SELECT position,name,COALESCE(description,''),assigned_user,notes,required FROM sections WHERE stream_id=? ORDER BY position ASC`, streamID)
	if err != nil {
		return nil, err
	}
	var sections []domain.Section
	index := map[int]int{}
	for rows.Next() {
		var (
			sec             domain.Section
			assigned, notes sql.NullString
			required        int
		)
		if err := rows.Scan(&sec.Position, &sec.Name, &sec.Description, &assigned, &notes, &required); err != nil {
			rows.Close()
			return nil, err
		}
		if assigned.Valid {
			sec.AssignedUser = &assigned.String
		}
		if notes.Valid {
			sec.Notes = &notes.String
		}
		sec.Required = required != 0
		sec.Files = []domain.FileRef{}
		sec.Teams = []domain.Team{}
		index[sec.Position] = len(sections)
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	teamRows, err := q.QueryContext(ctx, `SELECT position,team FROM section_teams WHERE stream_id=?`, streamID)
	if err != nil {
		return nil, err
	}
	for teamRows.Next() {
		var (
			pos  int
			team domain.Team
		)
		if err := teamRows.Scan(&pos, &team); err != nil {
			teamRows.Close()
			return nil, err
		}
		if i, ok := index[pos]; ok {
			sections[i].Teams = append(sections[i].Teams, team)
		}
	}
	teamRows.Close()
	for i := range sections {
		sortTeams(sections[i].Teams)
	}

	fileRows, err := q.QueryContext(ctx, `SELECT id,position,name,COALESCE(url,''),uploaded_at FROM section_files WHERE stream_id=? ORDER BY uploaded_at ASC, id ASC`, streamID)
	if err != nil {
		return nil, err
	}
	defer fileRows.Close()
	for fileRows.Next() {
		var (
			f   domain.FileRef
			pos int
		)
		if err := fileRows.Scan(&f.ID, &pos, &f.Name, &f.URL, &f.UploadedAt); err != nil {
			return nil, err
		}
		if i, ok := index[pos]; ok {
			sections[i].Files = append(sections[i].Files, f)
		}
	}
	return sections, fileRows.Err()
}

// ListStreams returns the streams of a product order without their sections.
func (r Repo) ListStreams(ctx context.Context, productOrder string) ([]domain.TracerStream, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,product_order,name,created_at FROM tracer_streams WHERE product_order=? ORDER BY created_at ASC, id ASC`, productOrder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TracerStream
	for rows.Next() {
		var s domain.TracerStream
		if err := rows.Scan(&s.ID, &s.ProductOrder, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func sortTeams(teams []domain.Team) {
	rank := func(t domain.Team) int {
		for i, known := range domain.Teams {
			if known == t {
				return i
			}
		}
		return len(domain.Teams)
	}
	sort.SliceStable(teams, func(i, j int) bool { return rank(teams[i]) < rank(teams[j]) })
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
