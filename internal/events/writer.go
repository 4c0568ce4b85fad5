package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Service event types.
const (
	GameCreated     = "game.created"
	SprintCommitted = "sprint.committed"
	SprintOpened    = "sprint.opened"
	QuarterReviewed = "quarter.reviewed"
	YearReviewed    = "year.reviewed"
	GameCollapsed   = "game.collapsed"
	CatalogSeeded   = "catalog.seeded"
	GameImported    = "game.imported"
)

// Types lists every event type the service emits, for filters and docs.
var Types = []string{
	GameCreated, SprintCommitted, SprintOpened, QuarterReviewed,
	YearReviewed, GameCollapsed, CatalogSeeded, GameImported,
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one service event inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, gameID, entityKind, entityID, actorID string, payload EventPayload) (int64, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,game_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(gameID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", evtType, err)
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
