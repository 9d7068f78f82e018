package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"drawboard/internal/domain"
)

const taskColumns = `id,project_id,status,priority,COALESCE(assigned_to_id,''),created_by_id,drawing_title,COALESCE(description,''),is_active,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var status, priority, created, updated string
	if err := row.Scan(&t.TaskID, &t.ProjectID, &status, &priority, &t.AssignedToID, &t.CreatedByID,
		&t.DrawingTitle, &t.Description, &t.IsActive, &t.Version, &created, &updated); err != nil {
		return t, err
	}
	t.Status = domain.TaskStatus(status)
	t.Priority = domain.Priority(priority)
	var err error
	if t.CreatedAt, err = parseTS(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTS(updated); err != nil {
		return t, err
	}
	return t, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Insert stores a new task with its initial history and audit entries.
func (r Repo) Insert(ctx context.Context, t domain.Task, audit ...domain.AuditEntry) (domain.Task, error) {
	if t.Version == 0 {
		t.Version = 1
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, r.q(`INSERT INTO tasks(id,project_id,status,priority,assigned_to_id,created_by_id,drawing_title,description,is_active,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
			t.TaskID, t.ProjectID, string(t.Status), string(t.Priority), nullable(t.AssignedToID), t.CreatedByID,
			t.DrawingTitle, nullable(t.Description), t.IsActive, t.Version, formatTS(t.CreatedAt), formatTS(t.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if err := r.insertHistory(ctx, tx, t.TaskID, 0, t.History); err != nil {
			return err
		}
		return r.appendAudit(ctx, tx, audit)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return r.Fetch(ctx, t.TaskID)
}

// Fetch loads a task with its full history in append order.
func (r Repo) Fetch(ctx context.Context, id string) (domain.Task, error) {
	return r.fetch(ctx, r.DB, id)
}

func (r Repo) fetch(ctx context.Context, q queryer, id string) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return t, err
	}
	byTask, err := r.loadHistory(ctx, q, []string{id})
	if err != nil {
		return t, err
	}
	t.History = byTask[id]
	return t, nil
}

// List returns tasks newest first. History is not loaded.
func (r Repo) List(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.AssignedToID != "" {
		clauses = append(clauses, "assigned_to_id=?")
		args = append(args, f.AssignedToID)
	}
	if !f.IncludeInactive {
		clauses = append(clauses, "is_active=?")
		args = append(args, true)
	}
	if !f.CursorCreatedAt.IsZero() && f.CursorID != "" {
		ts := formatTS(f.CursorCreatedAt)
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, ts, ts, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// Mutate applies m to task id in one transaction and bumps its version.
// A non-zero m.ExpectedVersion that differs from the stored version yields ErrVersionConflict.
func (r Repo) Mutate(ctx context.Context, id string, m domain.TaskMutation) (domain.Task, error) {
	var out domain.Task
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var version int
		err := tx.QueryRowContext(ctx, r.q(`SELECT version FROM tasks WHERE id=?`), id).Scan(&version)
		if err == sql.ErrNoRows {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if m.ExpectedVersion > 0 && m.ExpectedVersion != version {
			return fmt.Errorf("task %s at version %d, expected %d: %w", id, version, m.ExpectedVersion, ErrVersionConflict)
		}
		fields := []string{"version=version+1", "updated_at=?"}
		args := []any{formatTS(r.now())}
		if m.Status != nil {
			fields = append(fields, "status=?")
			args = append(args, string(*m.Status))
		}
		d := m.Details
		if d.DrawingTitle != nil {
			fields = append(fields, "drawing_title=?")
			args = append(args, *d.DrawingTitle)
		}
		if d.Description != nil {
			fields = append(fields, "description=?")
			args = append(args, nullable(*d.Description))
		}
		if d.Priority != nil {
			fields = append(fields, "priority=?")
			args = append(args, string(*d.Priority))
		}
		if d.AssignedToID != nil {
			fields = append(fields, "assigned_to_id=?")
			args = append(args, nullable(*d.AssignedToID))
		}
		args = append(args, id, version)
		res, err := tx.ExecContext(ctx, r.q(fmt.Sprintf(`UPDATE tasks SET %s WHERE id=? AND version=?`, strings.Join(fields, ","))), args...)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s changed concurrently: %w", id, ErrVersionConflict)
		}
		var seq int
		if err := tx.QueryRowContext(ctx, r.q(`SELECT COALESCE(MAX(seq),0) FROM task_history WHERE task_id=?`), id).Scan(&seq); err != nil {
			return err
		}
		if err := r.insertHistory(ctx, tx, id, seq, m.Append); err != nil {
			return err
		}
		if err := r.appendAudit(ctx, tx, m.Audit); err != nil {
			return err
		}
		out, err = r.fetch(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

func (r Repo) insertHistory(ctx context.Context, tx *sql.Tx, taskID string, afterSeq int, evts []domain.HistoryEvent) error {
	for i, e := range evts {
		var name, email string
		if e.UpdatedBy != nil {
			name, email = e.UpdatedBy.Name, e.UpdatedBy.Email
		}
		_, err := tx.ExecContext(ctx, r.q(`INSERT INTO task_history(id,task_id,seq,event_type,from_value,to_status,text,user_id,updated_by_name,updated_by_email,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
			e.ID, taskID, afterSeq+i+1, string(e.EventType), e.Details.From, nullable(string(e.Details.To)), nullable(e.Details.Text),
			e.Details.UserID, nullable(name), nullable(email), formatTS(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert history %s: %w", e.ID, err)
		}
	}
	return nil
}

func (r Repo) appendAudit(ctx context.Context, tx *sql.Tx, audit []domain.AuditEntry) error {
	w := r.events()
	for _, a := range audit {
		if err := w.Append(ctx, tx, a); err != nil {
			return fmt.Errorf("append event %s: %w", a.Type, err)
		}
	}
	return nil
}

func (r Repo) loadHistory(ctx context.Context, q queryer, taskIDs []string) (map[string][]domain.HistoryEvent, error) {
	out := make(map[string][]domain.HistoryEvent, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}
	marks := make([]string, len(taskIDs))
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		marks[i] = "?"
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, r.q(`SELECT task_id,id,event_type,from_value,COALESCE(to_status,''),COALESCE(text,''),user_id,COALESCE(updated_by_name,''),COALESCE(updated_by_email,''),created_at
FROM task_history WHERE task_id IN (`+strings.Join(marks, ",")+`) ORDER BY task_id, seq`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			taskID, evtType, to, name, email, created string
			e                                         domain.HistoryEvent
		)
		if err := rows.Scan(&taskID, &e.ID, &evtType, &e.Details.From, &to, &e.Details.Text, &e.Details.UserID, &name, &email, &created); err != nil {
			return nil, err
		}
		e.EventType = domain.EventType(evtType)
		e.Details.To = domain.TaskStatus(to)
		if name != "" || email != "" {
			e.UpdatedBy = &domain.UpdatedBy{UserID: e.Details.UserID, Name: name, Email: email}
		}
		if e.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		out[taskID] = append(out[taskID], e)
	}
	return out, rows.Err()
}
