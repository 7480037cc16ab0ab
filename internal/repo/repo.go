package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ascend/internal/domain"
	"ascend/internal/events"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r Repo) InsertSession(ctx context.Context, s domain.Session) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(id,player_id,status,created_at,updated_at) VALUES (?,?,?,?,?)`,
		s.ID, s.PlayerID, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var s domain.Session
	err := r.DB.QueryRowContext(ctx, `SELECT id,player_id,status,created_at,updated_at FROM sessions WHERE id=?`, id).
		Scan(&s.ID, &s.PlayerID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// ListSessions returns the newest sessions first, optionally filtered by status.
func (r Repo) ListSessions(ctx context.Context, status string, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := fmt.Sprintf(`SELECT id,player_id,status,created_at,updated_at FROM sessions WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.PlayerID, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateSessionStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE sessions SET status=?, updated_at=? WHERE id=?`,
		status, r.now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent journals e for its session.
func (r Repo) AppendEvent(ctx context.Context, e domain.Event) error {
	w := events.Writer{DB: r.DB, Now: r.Now}
	_, err := w.Append(ctx, nil, e.Type, e.SessionID, deref(e.ContactID), deref(e.EntityID), events.EventPayload(e.Payload))
	return err
}

// EventFilter narrows LatestEvents.
type EventFilter struct {
	SessionID string
	Type      string
	ContactID string
	// Before returns only events with a smaller id when positive.
	Before int64
}

// LatestEvents returns the newest matching events first.
func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.SessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.ContactID != "" {
		clauses = append(clauses, "contact_id=?")
		args = append(args, f.ContactID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,session_id,contact_id,entity_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with ids greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, sessionID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if sessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, sessionID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,session_id,contact_id,entity_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var contact, entity sql.NullString
		var payload string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &contact, &entity, &payload); err != nil {
			return nil, err
		}
		if contact.Valid {
			e.ContactID = &contact.String
		}
		if entity.Valid {
			e.EntityID = &entity.String
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("event %d payload: %w", e.ID, err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
