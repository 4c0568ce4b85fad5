package server

import (
	"encoding/json"

	"pmsim/internal/domain"
	"pmsim/internal/repo"
	"pmsim/internal/sim"
)

// Request payloads

type CreateSessionRequest struct {
	PlayerID string `json:"player_id,omitempty" doc:"Resume as an existing player; a new id is minted when empty"`
	Name     string `json:"name,omitempty"`
}

type CreateGameRequest struct {
	Difficulty     string `json:"difficulty,omitempty" enum:"easy,normal,hard"`
	Seed           *int32 `json:"seed,omitempty" minimum:"0"`
	RandomizeStart *bool  `json:"randomize_start,omitempty"`
}

type CommitSprintRequest struct {
	TicketIDs []string `json:"ticket_ids"`
	Quarter   int      `json:"quarter,omitempty" doc:"Expected quarter; rejects the commit when the game moved on"`
	Sprint    int      `json:"sprint,omitempty" doc:"Expected sprint number"`
}

// Response payloads

type SessionResponse struct {
	Token     string `json:"token"`
	PlayerID  string `json:"player_id"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type GameStateResponse struct {
	Game   domain.Game    `json:"game"`
	Sprint *domain.Sprint `json:"sprint,omitempty"`
}

type GameSummary struct {
	ID         string            `json:"id"`
	Difficulty domain.Difficulty `json:"difficulty"`
	Status     domain.GameStatus `json:"status"`
	Quarter    int               `json:"quarter"`
	Sprint     int               `json:"sprint"`
	CeoFocus   domain.CeoFocus   `json:"ceo_focus"`
	Scores     []int             `json:"quarterly_scores"`
	Final      string            `json:"final_rating,omitempty"`
	UpdatedAt  string            `json:"updated_at" format:"date-time"`
}

type GameListResponse struct {
	Items []GameSummary `json:"items"`
}

type SprintListResponse struct {
	Items []domain.Sprint `json:"items"`
}

type CommitResponse struct {
	Game            domain.Game             `json:"game"`
	Sprint          domain.Sprint           `json:"sprint"`
	NextSprint      *domain.Sprint          `json:"next_sprint,omitempty"`
	QuarterlyReview *domain.QuarterlyReview `json:"quarterly_review,omitempty"`
	YearEndReview   *domain.YearEndReview   `json:"year_end_review,omitempty"`
	Collapsed       bool                    `json:"collapsed"`
}

type ReviewResponse struct {
	Kind      string                  `json:"kind" enum:"quarterly,year_end"`
	Quarter   int                     `json:"quarter"`
	Score     int                     `json:"score"`
	Rating    string                  `json:"rating"`
	Quarterly *domain.QuarterlyReview `json:"quarterly,omitempty"`
	YearEnd   *domain.YearEndReview   `json:"year_end,omitempty"`
	CreatedAt string                  `json:"created_at" format:"date-time"`
}

type ReviewListResponse struct {
	Items []ReviewResponse `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	GameID     string         `json:"game_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type CatalogResponse struct {
	Digest     string                     `json:"digest"`
	Tickets    []domain.TicketTemplate    `json:"tickets"`
	Events     []domain.CatalogEvent      `json:"events"`
	Narratives []domain.NarrativeTemplate `json:"narratives"`
}

// Conversion helpers

func gameSummary(g domain.Game) GameSummary {
	out := GameSummary{
		ID:         g.ID,
		Difficulty: g.Difficulty,
		Status:     g.Status,
		Quarter:    g.Quarter,
		Sprint:     g.Sprint,
		CeoFocus:   g.CeoFocus,
		Scores:     nonNilSlice(g.QuarterlyScores),
		UpdatedAt:  g.UpdatedAt,
	}
	if g.YearEnd != nil {
		out.Final = string(g.YearEnd.FinalRating)
	}
	return out
}

func commitResponse(res sim.CommitResult) CommitResponse {
	return CommitResponse{
		Game:            res.Game,
		Sprint:          res.Sprint,
		NextSprint:      res.NextSprint,
		QuarterlyReview: res.QuarterlyReview,
		YearEndReview:   res.YearEndReview,
		Collapsed:       res.Collapsed,
	}
}

func reviewResponse(r repo.StoredReview) (ReviewResponse, error) {
	out := ReviewResponse{
		Kind:      r.Kind,
		Quarter:   r.Quarter,
		Score:     r.Score,
		Rating:    r.Rating,
		CreatedAt: r.CreatedAt,
	}
	switch r.Kind {
	case repo.ReviewQuarterly:
		q, err := r.Quarterly()
		if err != nil {
			return out, err
		}
		out.Quarterly = &q
	case repo.ReviewYearEnd:
		y, err := r.YearEnd()
		if err != nil {
			return out, err
		}
		out.YearEnd = &y
	}
	return out, nil
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		GameID:     e.GameID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
