package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists events in the append-only audit_events table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore membuat store audit berbasis PostgreSQL.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const insertEventSQL = `INSERT INTO audit_events
	(id, event_type, severity, actor_id, actor_label, actor_role, occurred_at, details, client_ip, client_agent, session_id, source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO NOTHING`

// Append implements Appender.
func (s *PGStore) Append(ctx context.Context, ev Event) (Event, error) {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return Event{}, fmt.Errorf("%w: encode details: %v", ErrPersistence, err)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err = s.pool.Exec(ctx, insertEventSQL,
		ev.ID, string(ev.EventType), string(ev.Severity), ev.ActorID, ev.ActorLabel, ev.ActorRole,
		ev.Timestamp, details, ev.ClientIP, ev.ClientAgent, ev.SessionID, ev.Source)
	if err != nil {
		return Event{}, fmt.Errorf("%w: insert event: %v", ErrPersistence, err)
	}
	return ev, nil
}

const findEventsSQL = `SELECT id, event_type, severity, actor_id, actor_label, actor_role, occurred_at, details,
	client_ip, client_agent, session_id, source
FROM audit_events
WHERE ($1::text IS NULL OR actor_id = $1)
  AND ($2::text IS NULL OR event_type = $2)
  AND ($3::text IS NULL OR severity = $3)
  AND ($4::timestamptz IS NULL OR occurred_at >= $4)
  AND ($5::timestamptz IS NULL OR occurred_at <= $5)
ORDER BY occurred_at DESC
LIMIT $6`

// Find implements Reader.
func (s *PGStore) Find(ctx context.Context, q Query) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = MaxLimit
	}
	rows, err := s.pool.Query(ctx, findEventsSQL,
		optionalText(q.ActorID),
		optionalText(string(q.EventType)),
		optionalText(string(q.Severity)),
		toPgTime(q.From),
		toPgTime(q.To),
		int32(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", ErrPersistence, err)
	}
	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("%w: scan events: %v", ErrPersistence, err)
	}
	return events, nil
}

func scanEvent(row pgx.CollectableRow) (Event, error) {
	var (
		ev        Event
		eventType string
		severity  string
		at        pgtype.Timestamptz
		details   []byte
	)
	if err := row.Scan(&ev.ID, &eventType, &severity, &ev.ActorID, &ev.ActorLabel, &ev.ActorRole,
		&at, &details, &ev.ClientIP, &ev.ClientAgent, &ev.SessionID, &ev.Source); err != nil {
		return Event{}, err
	}
	ev.EventType = EventType(eventType)
	ev.Severity = Severity(severity)
	if at.Valid {
		ev.Timestamp = at.Time.UTC()
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &ev.Details); err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
