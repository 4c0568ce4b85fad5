package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"pmsim/internal/domain"
)

// SeedStats counts how a catalog seed changed one table.
type SeedStats struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
}

type catalogRow struct {
	id       string
	group    string
	category string
	effort   int
	payload  string
}

func digest(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func (r Repo) existingDigests(ctx context.Context, tx *sql.Tx, table string) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,digest FROM `+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var id, d string
		if err := rows.Scan(&id, &d); err != nil {
			return nil, err
		}
		out[id] = d
	}
	return out, rows.Err()
}

// seed replaces the content of a catalog table, keeping row order in position.
func (r Repo) seed(ctx context.Context, tx *sql.Tx, table string, items []catalogRow, now string) (SeedStats, error) {
	var stats SeedStats
	existing, err := r.existingDigests(ctx, tx, table)
	if err != nil {
		return stats, fmt.Errorf("read %s: %w", table, err)
	}
	seen := map[string]bool{}
	for pos, item := range items {
		if seen[item.id] {
			return stats, fmt.Errorf("%s: duplicate id %q", table, item.id)
		}
		seen[item.id] = true
		d := digest(item.payload)
		prev, ok := existing[item.id]
		switch {
		case !ok:
			stats.Inserted++
		case prev == d:
			stats.Unchanged++
		default:
			stats.Updated++
		}
		var query string
		var args []any
		if table == "ticket_templates" {
			query = `INSERT INTO ticket_templates(id,category,effort,position,payload_json,digest,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET category=excluded.category, effort=excluded.effort, position=excluded.position,
payload_json=excluded.payload_json, digest=excluded.digest, updated_at=CASE WHEN digest=excluded.digest THEN updated_at ELSE excluded.updated_at END`
			args = []any{item.id, item.category, item.effort, pos, item.payload, d, now}
		} else {
			query = `INSERT INTO ` + table + `(id,grp,position,payload_json,digest,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET grp=excluded.grp, position=excluded.position,
payload_json=excluded.payload_json, digest=excluded.digest, updated_at=CASE WHEN digest=excluded.digest THEN updated_at ELSE excluded.updated_at END`
			args = []any{item.id, item.group, pos, item.payload, d, now}
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return stats, fmt.Errorf("upsert %s %s: %w", table, item.id, err)
		}
	}
	var stale []any
	for id := range existing {
		if !seen[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(stale)), ",")
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id IN (`+placeholders+`)`, stale...); err != nil {
			return stats, fmt.Errorf("prune %s: %w", table, err)
		}
		stats.Removed = len(stale)
	}
	return stats, nil
}

func (r Repo) SeedTickets(ctx context.Context, tx *sql.Tx, tickets []domain.TicketTemplate, now string) (SeedStats, error) {
	rows := make([]catalogRow, 0, len(tickets))
	for _, t := range tickets {
		payload, err := marshal(t)
		if err != nil {
			return SeedStats{}, err
		}
		rows = append(rows, catalogRow{id: t.ID, category: string(t.Category), effort: t.Effort, payload: payload})
	}
	return r.seed(ctx, tx, "ticket_templates", rows, now)
}

func (r Repo) SeedEvents(ctx context.Context, tx *sql.Tx, events []domain.CatalogEvent, now string) (SeedStats, error) {
	rows := make([]catalogRow, 0, len(events))
	for _, e := range events {
		payload, err := marshal(e)
		if err != nil {
			return SeedStats{}, err
		}
		rows = append(rows, catalogRow{id: e.ID, group: e.Group, payload: payload})
	}
	return r.seed(ctx, tx, "event_catalog", rows, now)
}

func (r Repo) SeedNarratives(ctx context.Context, tx *sql.Tx, narratives []domain.NarrativeTemplate, now string) (SeedStats, error) {
	rows := make([]catalogRow, 0, len(narratives))
	for _, n := range narratives {
		payload, err := marshal(n)
		if err != nil {
			return SeedStats{}, err
		}
		rows = append(rows, catalogRow{id: n.ID, group: n.Group, payload: payload})
	}
	return r.seed(ctx, tx, "narrative_templates", rows, now)
}

func loadPayloads[T any](ctx context.Context, db *sql.DB, table string) ([]T, error) {
	rows, err := db.QueryContext(ctx, `SELECT payload_json FROM `+table+` ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r Repo) ListTickets(ctx context.Context) ([]domain.TicketTemplate, error) {
	return loadPayloads[domain.TicketTemplate](ctx, r.DB, "ticket_templates")
}

func (r Repo) ListCatalogEvents(ctx context.Context) ([]domain.CatalogEvent, error) {
	return loadPayloads[domain.CatalogEvent](ctx, r.DB, "event_catalog")
}

func (r Repo) ListNarratives(ctx context.Context) ([]domain.NarrativeTemplate, error) {
	return loadPayloads[domain.NarrativeTemplate](ctx, r.DB, "narrative_templates")
}
