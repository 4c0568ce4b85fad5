package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pmsim/internal/domain"
)

const sprintColumns = `game_id,quarter,number,effective_capacity,raw_capacity,stretch_capacity,capacity_modifier,ceo_focus,backlog_json,committed_json,retro_json,created_at`

func scanSprint(row rowScanner) (domain.Sprint, error) {
	var s domain.Sprint
	var backlog, committed, retro sql.NullString
	err := row.Scan(&s.GameID, &s.Quarter, &s.Number, &s.EffectiveCapacity, &s.RawCapacity, &s.StretchCapacity,
		&s.CapacityModifier, &s.CeoFocus, &backlog, &committed, &retro, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := unmarshal(backlog, &s.Backlog); err != nil {
		return s, fmt.Errorf("decode backlog: %w", err)
	}
	if err := unmarshal(committed, &s.Committed); err != nil {
		return s, fmt.Errorf("decode committed: %w", err)
	}
	if retro.Valid {
		var r domain.Retro
		if err := unmarshal(retro, &r); err != nil {
			return s, fmt.Errorf("decode retro: %w", err)
		}
		s.Retro = &r
	}
	return s, nil
}

func (r Repo) InsertSprint(ctx context.Context, tx *sql.Tx, s domain.Sprint) error {
	if s.Backlog == nil {
		s.Backlog = []domain.TicketInstance{}
	}
	if s.Committed == nil {
		s.Committed = []domain.TicketInstance{}
	}
	backlog, err := marshal(s.Backlog)
	if err != nil {
		return err
	}
	committed, err := marshal(s.Committed)
	if err != nil {
		return err
	}
	var retro any
	if s.Retro != nil {
		if retro, err = marshal(s.Retro); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sprints(`+sprintColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.GameID, s.Quarter, s.Number, s.EffectiveCapacity, s.RawCapacity, s.StretchCapacity,
		s.CapacityModifier, s.CeoFocus, backlog, committed, retro, s.CreatedAt)
	return err
}

// ResolveSprint stores the committed tickets and retro of an open sprint.
func (r Repo) ResolveSprint(ctx context.Context, tx *sql.Tx, s domain.Sprint) error {
	committed, err := marshal(s.Committed)
	if err != nil {
		return err
	}
	retro, err := marshal(s.Retro)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE sprints SET committed_json=?, retro_json=? WHERE game_id=? AND quarter=? AND number=? AND retro_json IS NULL`,
		committed, retro, s.GameID, s.Quarter, s.Number)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) GetSprint(ctx context.Context, gameID string, quarter, number int) (domain.Sprint, error) {
	return getSprint(ctx, r.DB, gameID, quarter, number)
}

func (r Repo) GetSprintTx(ctx context.Context, tx *sql.Tx, gameID string, quarter, number int) (domain.Sprint, error) {
	return getSprint(ctx, tx, gameID, quarter, number)
}

func getSprint(ctx context.Context, q queryer, gameID string, quarter, number int) (domain.Sprint, error) {
	return scanSprint(q.QueryRowContext(ctx, `SELECT `+sprintColumns+` FROM sprints WHERE game_id=? AND quarter=? AND number=?`, gameID, quarter, number))
}

// ListSprints returns a game's sprints in play order.
func (r Repo) ListSprints(ctx context.Context, gameID string) ([]domain.Sprint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sprintColumns+` FROM sprints WHERE game_id=? ORDER BY quarter, number`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sprint
	for rows.Next() {
		s, err := scanSprint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
