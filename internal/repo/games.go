package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pmsim/internal/domain"
)

const gameColumns = `id,player_id,difficulty,current_quarter,current_sprint,state,seed,rng_seed,ceo_focus,
metrics_json,targets_json,stretch_targets_json,events_log_json,quarter_stats_json,quarterly_scores_json,year_end_json,created_at,updated_at`

type gameJSON struct {
	metrics, targets, stretch, log, stats, scores string
	yearEnd                                       any
}

func encodeGame(g domain.Game) (gameJSON, error) {
	var out gameJSON
	var err error
	if g.Log == nil {
		g.Log = []domain.LogEntry{}
	}
	if g.QuarterlyScores == nil {
		g.QuarterlyScores = []int{}
	}
	fields := []struct {
		dst *string
		v   any
	}{
		{&out.metrics, g.Metrics},
		{&out.targets, g.Targets},
		{&out.stretch, g.StretchTargets},
		{&out.log, g.Log},
		{&out.stats, g.Stats},
		{&out.scores, g.QuarterlyScores},
	}
	for _, f := range fields {
		if *f.dst, err = marshal(f.v); err != nil {
			return out, fmt.Errorf("encode game %s: %w", g.ID, err)
		}
	}
	if g.YearEnd != nil {
		s, err := marshal(g.YearEnd)
		if err != nil {
			return out, fmt.Errorf("encode year end: %w", err)
		}
		out.yearEnd = s
	}
	return out, nil
}

func scanGame(row rowScanner) (domain.Game, error) {
	var g domain.Game
	var metrics, targets, stretch, log, stats, scores, yearEnd sql.NullString
	err := row.Scan(&g.ID, &g.PlayerID, &g.Difficulty, &g.Quarter, &g.Sprint, &g.Status, &g.Seed, &g.RNGState, &g.CeoFocus,
		&metrics, &targets, &stretch, &log, &stats, &scores, &yearEnd, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst any
	}{
		{metrics, &g.Metrics},
		{targets, &g.Targets},
		{stretch, &g.StretchTargets},
		{log, &g.Log},
		{stats, &g.Stats},
		{scores, &g.QuarterlyScores},
	} {
		if err := unmarshal(f.src, f.dst); err != nil {
			return g, fmt.Errorf("decode game %s: %w", g.ID, err)
		}
	}
	if yearEnd.Valid {
		var y domain.YearEndReview
		if err := unmarshal(yearEnd, &y); err != nil {
			return g, fmt.Errorf("decode year end: %w", err)
		}
		g.YearEnd = &y
	}
	return g, nil
}

func (r Repo) InsertGame(ctx context.Context, tx *sql.Tx, g domain.Game) error {
	j, err := encodeGame(g)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO games(`+gameColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.PlayerID, g.Difficulty, g.Quarter, g.Sprint, g.Status, g.Seed, g.RNGState, g.CeoFocus,
		j.metrics, j.targets, j.stretch, j.log, j.stats, j.scores, j.yearEnd, g.CreatedAt, g.UpdatedAt)
	return err
}

// GameVersion identifies the stored progression point a commit started from.
type GameVersion struct {
	Quarter  int
	Sprint   int
	RNGState int32
}

// UpdateGame writes g only if the stored row still matches prev.
func (r Repo) UpdateGame(ctx context.Context, tx *sql.Tx, g domain.Game, prev GameVersion) error {
	j, err := encodeGame(g)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE games SET current_quarter=?,current_sprint=?,state=?,rng_seed=?,ceo_focus=?,
metrics_json=?,events_log_json=?,quarter_stats_json=?,quarterly_scores_json=?,year_end_json=?,updated_at=?
WHERE id=? AND current_quarter=? AND current_sprint=? AND rng_seed=?`,
		g.Quarter, g.Sprint, g.Status, g.RNGState, g.CeoFocus,
		j.metrics, j.log, j.stats, j.scores, j.yearEnd, g.UpdatedAt,
		g.ID, prev.Quarter, prev.Sprint, prev.RNGState)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) GetGame(ctx context.Context, id string) (domain.Game, error) {
	return getGame(ctx, r.DB, id)
}

func (r Repo) GetGameTx(ctx context.Context, tx *sql.Tx, id string) (domain.Game, error) {
	return getGame(ctx, tx, id)
}

func getGame(ctx context.Context, q queryer, id string) (domain.Game, error) {
	return scanGame(q.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id=?`, id))
}

// GameFilters narrows ListGames.
type GameFilters struct {
	PlayerID string
	Status   domain.GameStatus
	Limit    int
}

func (r Repo) ListGames(ctx context.Context, f GameFilters) ([]domain.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE 1=1`
	var args []any
	if f.PlayerID != "" {
		query += ` AND player_id=?`
		args = append(args, f.PlayerID)
	}
	if f.Status != "" {
		query += ` AND state=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) DeleteGame(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM games WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
