package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"pmsim/internal/archive"
	"pmsim/internal/catalog"
	"pmsim/internal/domain"
	"pmsim/internal/events"
	"pmsim/internal/repo"
	"pmsim/internal/sim"
)

const exportPage = 500

// Export writes a game with its sprints, reviews and service events to w.
func (e Engine) Export(ctx context.Context, gameID, playerID string, w io.Writer) error {
	g, err := e.GetGame(ctx, gameID, playerID)
	if err != nil {
		return err
	}
	sprints, err := e.Repo.ListSprints(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("list sprints: %w", err)
	}
	stored, err := e.Repo.ListReviews(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("list reviews: %w", err)
	}
	reviews := make([]archive.Review, 0, len(stored))
	for _, r := range stored {
		reviews = append(reviews, archive.Review{
			Kind: r.Kind, Quarter: r.Quarter, Score: r.Score, Rating: r.Rating,
			Payload: json.RawMessage(r.Payload), CreatedAt: r.CreatedAt,
		})
	}
	var evts []domain.Event
	var cursor int64
	for {
		page, err := e.Repo.EventsAfter(ctx, exportPage, cursor, g.ID)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		evts = append(evts, page...)
		if len(page) < exportPage {
			break
		}
		cursor = page[len(page)-1].ID
	}
	digest, err := catalog.Digest(e.Catalog)
	if err != nil {
		return err
	}
	if err := archive.Write(w, archive.Bundle{
		Header:  archive.Header{ExportedAt: e.stamp(), Catalog: digest},
		Game:    g,
		Sprints: sprints,
		Reviews: reviews,
		Events:  evts,
	}); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	e.log().Info("game exported", "game", g.ID, "sprints", len(sprints), "events", len(evts))
	return nil
}

// ImportOptions control Import. PlayerID reassigns ownership when set.
type ImportOptions struct {
	PlayerID string
	ActorID  string
}

// Import restores an exported game. Archived service events are not replayed;
// a game.imported event records the restore instead. An existing game with
// the same id is a conflict.
func (e Engine) Import(ctx context.Context, r io.Reader, opts ImportOptions) (domain.Game, error) {
	b, err := archive.Read(r)
	if err != nil {
		return domain.Game{}, err
	}
	g := b.Game
	if opts.PlayerID != "" {
		g.PlayerID = opts.PlayerID
	}
	if g.ID == "" || g.PlayerID == "" {
		return domain.Game{}, errors.New("archive game needs an id and a player")
	}
	if _, err := e.Repo.GetGame(ctx, g.ID); err == nil {
		return domain.Game{}, fmt.Errorf("game %s already exists: %w", g.ID, ErrConflict)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Game{}, err
	}
	digest, err := catalog.Digest(e.Catalog)
	if err != nil {
		return domain.Game{}, err
	}

	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Game{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsurePlayer(ctx, tx, domain.Player{ID: g.PlayerID, CreatedAt: now}); err != nil {
		return domain.Game{}, fmt.Errorf("ensure player: %w", err)
	}
	if err := e.Repo.InsertGame(ctx, tx, g); err != nil {
		return domain.Game{}, fmt.Errorf("insert game: %w", err)
	}
	for _, s := range b.Sprints {
		s.GameID = g.ID
		if err := e.Repo.InsertSprint(ctx, tx, s); err != nil {
			return domain.Game{}, fmt.Errorf("insert sprint Q%dS%d: %w", s.Quarter, s.Number, err)
		}
	}
	for _, rv := range b.Reviews {
		switch rv.Kind {
		case repo.ReviewQuarterly:
			var q domain.QuarterlyReview
			if err := json.Unmarshal(rv.Payload, &q); err != nil {
				return domain.Game{}, fmt.Errorf("decode quarterly review: %w", err)
			}
			err = e.Repo.SaveQuarterlyReview(ctx, tx, g.ID, q, rv.CreatedAt)
		case repo.ReviewYearEnd:
			var y domain.YearEndReview
			if err := json.Unmarshal(rv.Payload, &y); err != nil {
				return domain.Game{}, fmt.Errorf("decode year-end review: %w", err)
			}
			err = e.Repo.SaveYearEndReview(ctx, tx, g.ID, y, rv.CreatedAt)
		default:
			err = fmt.Errorf("unknown review kind %q", rv.Kind)
		}
		if err != nil {
			return domain.Game{}, err
		}
	}
	if _, err := e.writer().Append(ctx, tx, events.GameImported, g.ID, "game", g.ID, actor(opts.ActorID, g.PlayerID), events.EventPayload{
		"sprints":         len(b.Sprints),
		"reviews":         len(b.Reviews),
		"archived_events": len(b.Events),
		"exported_at":     b.Header.ExportedAt,
		"catalog_match":   b.Header.Catalog == "" || b.Header.Catalog == digest,
	}); err != nil {
		return domain.Game{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Game{}, err
	}
	if b.Header.Catalog != "" && b.Header.Catalog != digest {
		e.log().Warn("imported game was played against a different catalog", "game", g.ID)
	}
	e.log().Info("game imported", "game", g.ID, "sprints", len(b.Sprints))
	return g, nil
}

// CatalogSeedStats reports per-table seed results.
type CatalogSeedStats struct {
	Digest     string         `json:"digest"`
	Tickets    repo.SeedStats `json:"tickets"`
	Events     repo.SeedStats `json:"events"`
	Narratives repo.SeedStats `json:"narratives"`
}

// SeedCatalog replaces the stored catalog with cat and makes it the engine's
// catalog.
func (e *Engine) SeedCatalog(ctx context.Context, cat sim.Catalog, actorID string) (CatalogSeedStats, error) {
	var stats CatalogSeedStats
	digest, err := catalog.Digest(cat)
	if err != nil {
		return stats, err
	}
	stats.Digest = digest
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()
	if stats.Tickets, err = e.Repo.SeedTickets(ctx, tx, cat.Tickets, now); err != nil {
		return stats, err
	}
	if stats.Events, err = e.Repo.SeedEvents(ctx, tx, cat.Events, now); err != nil {
		return stats, err
	}
	if stats.Narratives, err = e.Repo.SeedNarratives(ctx, tx, cat.Narratives, now); err != nil {
		return stats, err
	}
	if _, err := e.writer().Append(ctx, tx, events.CatalogSeeded, "", "catalog", digest, actorID, events.EventPayload{
		"tickets":    len(cat.Tickets),
		"events":     len(cat.Events),
		"narratives": len(cat.Narratives),
	}); err != nil {
		return stats, err
	}
	if err := tx.Commit(); err != nil {
		return stats, err
	}
	e.Catalog = cat
	e.log().Info("catalog seeded", "digest", digest, "tickets", len(cat.Tickets), "events", len(cat.Events), "narratives", len(cat.Narratives))
	return stats, nil
}

// StoredCatalog loads the catalog from the database. ok is false when no
// tickets have been seeded.
func (e Engine) StoredCatalog(ctx context.Context) (cat sim.Catalog, ok bool, err error) {
	if cat.Tickets, err = e.Repo.ListTickets(ctx); err != nil {
		return cat, false, err
	}
	if len(cat.Tickets) == 0 {
		return cat, false, nil
	}
	if cat.Events, err = e.Repo.ListCatalogEvents(ctx); err != nil {
		return cat, false, err
	}
	if cat.Narratives, err = e.Repo.ListNarratives(ctx); err != nil {
		return cat, false, err
	}
	return cat, true, nil
}
