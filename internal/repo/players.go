package repo

import (
	"context"
	"database/sql"
	"errors"

	"pmsim/internal/domain"
)

// EnsurePlayer inserts the player if it does not exist yet.
func (r Repo) EnsurePlayer(ctx context.Context, tx *sql.Tx, p domain.Player) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO players(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`,
		p.ID, nullable(p.Name), p.CreatedAt)
	return err
}

func (r Repo) GetPlayer(ctx context.Context, id string) (domain.Player, error) {
	var p domain.Player
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM players WHERE id=?`, id).Scan(&p.ID, &name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	p.Name = name.String
	return p, err
}
