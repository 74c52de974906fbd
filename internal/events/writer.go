package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	CaseCreated       = "case.created"
	CaseStatusChanged = "case.status_changed"
	CaseClaimed       = "case.claimed"
	MessagePosted     = "message.posted"
	ObjectionCreated  = "objection.created"
)

// Types lists every event type the engine emits.
var Types = []string{CaseCreated, CaseStatusChanged, CaseClaimed, MessagePosted, ObjectionCreated}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction so it commits or
// rolls back together with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, caseID int64, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,case_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullableID(caseID), actorID, string(data))
	return err
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
