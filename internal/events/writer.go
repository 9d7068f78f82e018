package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"drawboard/internal/db"
	"drawboard/internal/domain"
)

// Audit event types.
const (
	TaskCreated       = "task.created"
	TaskStatusChanged = "task.status_changed"
	TaskCommented     = "task.commented"
	TaskUpdated       = "task.updated"
	CatalogSeeded     = "catalog.seeded"
)

// Writer appends audit events inside the caller's transaction.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if e.Type == "" || e.EntityKind == "" {
		return fmt.Errorf("event type and entity kind required")
	}
	ts := w.Now().UTC().Format(db.TimeLayout)
	payload := EventPayload(e.Payload)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, e.Type, nullable(e.ProjectID), e.EntityKind, nullable(e.EntityID), e.ActorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
