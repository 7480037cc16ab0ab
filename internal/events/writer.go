package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append journals one session event through exec, or the writer's DB when
// exec is nil.
func (w Writer) Append(ctx context.Context, exec Execer, evtType, sessionID, contactID, entityID string, payload EventPayload) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if exec == nil {
		exec = w.DB
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := exec.ExecContext(ctx, `INSERT INTO events(ts,type,session_id,contact_id,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, sessionID, nullable(contactID), nullable(entityID), string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
