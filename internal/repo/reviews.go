package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"pmsim/internal/domain"
)

const (
	ReviewQuarterly = "quarterly"
	ReviewYearEnd   = "year_end"
)

// StoredReview is a persisted review row; Payload holds either review shape.
type StoredReview struct {
	GameID    string `json:"game_id"`
	Kind      string `json:"kind" enum:"quarterly,year_end"`
	Quarter   int    `json:"quarter"`
	Score     int    `json:"score"`
	Rating    string `json:"rating"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func (s StoredReview) Quarterly() (domain.QuarterlyReview, error) {
	var q domain.QuarterlyReview
	if s.Kind != ReviewQuarterly {
		return q, fmt.Errorf("review %s/%d is %s", s.GameID, s.Quarter, s.Kind)
	}
	return q, json.Unmarshal([]byte(s.Payload), &q)
}

func (s StoredReview) YearEnd() (domain.YearEndReview, error) {
	var y domain.YearEndReview
	if s.Kind != ReviewYearEnd {
		return y, fmt.Errorf("review %s/%d is %s", s.GameID, s.Quarter, s.Kind)
	}
	return y, json.Unmarshal([]byte(s.Payload), &y)
}

func (r Repo) upsertReview(ctx context.Context, tx *sql.Tx, s StoredReview, payload any) error {
	data, err := marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO reviews(game_id,kind,quarter,score,rating,payload_json,created_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(game_id,kind,quarter) DO UPDATE SET score=excluded.score, rating=excluded.rating, payload_json=excluded.payload_json`,
		s.GameID, s.Kind, s.Quarter, s.Score, s.Rating, data, s.CreatedAt)
	return err
}

func (r Repo) SaveQuarterlyReview(ctx context.Context, tx *sql.Tx, gameID string, q domain.QuarterlyReview, now string) error {
	return r.upsertReview(ctx, tx, StoredReview{
		GameID: gameID, Kind: ReviewQuarterly, Quarter: q.Quarter,
		Score: q.RawScore, Rating: string(q.Rating), CreatedAt: now,
	}, q)
}

// SaveYearEndReview stores the year-end review under quarter 4.
func (r Repo) SaveYearEndReview(ctx context.Context, tx *sql.Tx, gameID string, y domain.YearEndReview, now string) error {
	return r.upsertReview(ctx, tx, StoredReview{
		GameID: gameID, Kind: ReviewYearEnd, Quarter: 4,
		Score: y.FinalScore, Rating: string(y.FinalRating), CreatedAt: now,
	}, y)
}

// ListReviews returns quarterly reviews in quarter order followed by the year-end review.
func (r Repo) ListReviews(ctx context.Context, gameID string) ([]StoredReview, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT game_id,kind,quarter,score,rating,payload_json,created_at FROM reviews WHERE game_id=?
ORDER BY CASE kind WHEN 'quarterly' THEN 0 ELSE 1 END, quarter`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StoredReview
	for rows.Next() {
		var s StoredReview
		if err := rows.Scan(&s.GameID, &s.Kind, &s.Quarter, &s.Score, &s.Rating, &s.Payload, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
