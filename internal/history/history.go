// Package history keeps a task's append-only activity log and its
// chronological and display projections.
package history

import (
	"sort"
	"strings"
	"time"

	"drawboard/internal/domain"
	"drawboard/internal/engine/policy"
)

// Log holds events in append order. The zero value is an empty log.
type Log struct {
	events []domain.HistoryEvent
}

// New builds a log from persisted events, validating each one.
func New(events ...domain.HistoryEvent) (*Log, error) {
	l := &Log{events: make([]domain.HistoryEvent, 0, len(events))}
	for _, e := range events {
		if err := l.Append(e); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Append adds evt at the end. Existing entries are never touched.
func (l *Log) Append(evt domain.HistoryEvent) error {
	if err := Validate(evt); err != nil {
		return err
	}
	l.events = append(l.events, evt)
	return nil
}

// Validate checks the shape of a single event. Text is present iff the event
// is a COMMENT or a STATUS_CHANGE whose target requires a comment.
func Validate(evt domain.HistoryEvent) error {
	if evt.CreatedAt.IsZero() {
		return domain.ValidationError{Field: "created_at", Message: "event timestamp required"}
	}
	switch evt.EventType {
	case domain.EventStatusChange:
		if !evt.Details.To.Valid() {
			return domain.ValidationError{Field: "details.to", Message: "status change needs a valid target status"}
		}
		// text is carried only by transitions that demand a comment
		hasText := strings.TrimSpace(evt.Details.Text) != ""
		if required := policy.RequiresComment(evt.Details.To); hasText != required {
			if required {
				return domain.ValidationError{Field: "details.text", Message: "status change to " + string(evt.Details.To) + " needs a comment"}
			}
			return domain.ValidationError{Field: "details.text", Message: "status change to " + string(evt.Details.To) + " must not carry text"}
		}
	case domain.EventComment:
		if evt.Details.To != "" {
			return domain.ValidationError{Field: "details.to", Message: "comment must not carry a target status"}
		}
		if strings.TrimSpace(evt.Details.Text) == "" {
			return domain.ValidationError{Field: "details.text", Message: "comment text required"}
		}
	default:
		return domain.ValidationError{Field: "event_type", Message: "unknown event type " + string(evt.EventType)}
	}
	return nil
}

func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	return len(l.events)
}

// Events returns a copy in append order.
func (l *Log) Events() []domain.HistoryEvent {
	if l == nil {
		return nil
	}
	out := make([]domain.HistoryEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Chronological orders by CreatedAt ascending; equal timestamps keep append order.
func (l *Log) Chronological() []domain.HistoryEvent {
	out := l.Events()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DisplayOrder is newest first; equal timestamps show the later append first.
func (l *Log) DisplayOrder() []domain.HistoryEvent {
	out := l.Events()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// LastStatusChange returns the most recently appended STATUS_CHANGE.
func (l *Log) LastStatusChange() (domain.HistoryEvent, bool) {
	if l == nil {
		return domain.HistoryEvent{}, false
	}
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].EventType == domain.EventStatusChange {
			return l.events[i], true
		}
	}
	return domain.HistoryEvent{}, false
}

// CompletedAt is when t last reached COMPLETED, or false when t is not
// currently completed or its history does not record the transition.
func CompletedAt(t domain.Task) (time.Time, bool) {
	if t.Status != domain.StatusCompleted {
		return time.Time{}, false
	}
	l, err := New(t.History...)
	if err != nil {
		return time.Time{}, false
	}
	return l.ReachedAt(domain.StatusCompleted)
}

// ReachedAt is the time of the latest transition into status.
func (l *Log) ReachedAt(status domain.TaskStatus) (time.Time, bool) {
	var (
		at    time.Time
		found bool
	)
	for _, e := range l.Chronological() {
		if e.EventType == domain.EventStatusChange && e.Details.To == status {
			at, found = e.CreatedAt, true
		}
	}
	return at, found
}
