package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"pmsim/internal/config"
	"pmsim/internal/domain"
	"pmsim/internal/events"
	"pmsim/internal/repo"
	"pmsim/internal/sim"
)

// ErrConflict means another commit advanced the game first.
var ErrConflict = errors.New("game changed concurrently")

// ErrEmptyCatalog means the catalog has no tickets to build a sprint from.
var ErrEmptyCatalog = errors.New("catalog has no tickets")

// seedSpace bounds generated seeds to [0, seedSpace).
const seedSpace = 1_000_000

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Catalog sim.Catalog
	Config  *config.Config
	Log     *slog.Logger
	Now     func() time.Time
	Seed    func() (int32, error)
}

func New(db *sql.DB, cfg *config.Config, cat sim.Catalog) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{Now: time.Now},
		Catalog: cat,
		Config:  cfg,
		Log:     slog.Default(),
		Now:     time.Now,
		Seed:    RandomSeed,
	}
}

// RandomSeed draws a seed from crypto/rand.
func RandomSeed() (int32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(seedSpace))
	if err != nil {
		return 0, fmt.Errorf("draw seed: %w", err)
	}
	return int32(n.Int64()), nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// NewGameOptions are parameters for starting a game. Nil Seed draws one;
// nil RandomizeStart and empty Difficulty fall back to config.
type NewGameOptions struct {
	ID             string
	PlayerID       string
	PlayerName     string
	Difficulty     domain.Difficulty
	Seed           *int32
	RandomizeStart *bool
	ActorID        string
}

func (e Engine) NewGame(ctx context.Context, opts NewGameOptions) (domain.Game, domain.Sprint, error) {
	if opts.PlayerID == "" {
		return domain.Game{}, domain.Sprint{}, errors.New("player is required")
	}
	if len(e.Catalog.Tickets) == 0 {
		return domain.Game{}, domain.Sprint{}, ErrEmptyCatalog
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default()
	}
	difficulty := opts.Difficulty
	if difficulty == "" {
		difficulty = domain.Difficulty(cfg.Game.Difficulty)
	}
	difficulty, err := domain.ParseDifficulty(string(difficulty))
	if err != nil {
		return domain.Game{}, domain.Sprint{}, err
	}
	randomize := cfg.Game.RandomizeStart
	if opts.RandomizeStart != nil {
		randomize = *opts.RandomizeStart
	}
	var seed int32
	if opts.Seed != nil {
		seed = *opts.Seed
	} else {
		draw := e.Seed
		if draw == nil {
			draw = RandomSeed
		}
		if seed, err = draw(); err != nil {
			return domain.Game{}, domain.Sprint{}, err
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()

	g, s := sim.NewGame(sim.NewGameOptions{
		ID:             id,
		PlayerID:       opts.PlayerID,
		Difficulty:     difficulty,
		Seed:           seed,
		RandomizeStart: randomize,
		Now:            now,
	}, e.Catalog)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Game{}, domain.Sprint{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsurePlayer(ctx, tx, domain.Player{ID: opts.PlayerID, Name: opts.PlayerName, CreatedAt: now}); err != nil {
		return domain.Game{}, domain.Sprint{}, fmt.Errorf("ensure player: %w", err)
	}
	if err := e.Repo.InsertGame(ctx, tx, g); err != nil {
		return domain.Game{}, domain.Sprint{}, fmt.Errorf("insert game: %w", err)
	}
	if err := e.Repo.InsertSprint(ctx, tx, s); err != nil {
		return domain.Game{}, domain.Sprint{}, fmt.Errorf("insert sprint: %w", err)
	}
	if _, err := e.writer().Append(ctx, tx, events.GameCreated, g.ID, "game", g.ID, actor(opts.ActorID, opts.PlayerID), events.EventPayload{
		"difficulty":   g.Difficulty,
		"seed":         g.Seed,
		"ceo_focus":    g.CeoFocus,
		"capacity":     s.EffectiveCapacity,
		"backlog_size": len(s.Backlog),
	}); err != nil {
		return domain.Game{}, domain.Sprint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Game{}, domain.Sprint{}, err
	}
	e.log().Info("game created", "game", g.ID, "player", g.PlayerID, "difficulty", g.Difficulty, "seed", g.Seed, "ceo_focus", g.CeoFocus)
	return g, s, nil
}

func actor(actorID, playerID string) string {
	if actorID != "" {
		return actorID
	}
	return playerID
}

// GetGame loads a game. A non-empty playerID hides games owned by others.
func (e Engine) GetGame(ctx context.Context, id, playerID string) (domain.Game, error) {
	g, err := e.Repo.GetGame(ctx, id)
	if err != nil {
		return g, err
	}
	if playerID != "" && g.PlayerID != playerID {
		return domain.Game{}, repo.ErrNotFound
	}
	return g, nil
}

func (e Engine) ListGames(ctx context.Context, playerID string, status domain.GameStatus, limit int) ([]domain.Game, error) {
	return e.Repo.ListGames(ctx, repo.GameFilters{PlayerID: playerID, Status: status, Limit: limit})
}

// ActiveSprint returns the sprint at the game's current coordinates. Once a
// game has ended this is the last sprint played, already resolved.
func (e Engine) ActiveSprint(ctx context.Context, gameID, playerID string) (domain.Sprint, error) {
	g, err := e.GetGame(ctx, gameID, playerID)
	if err != nil {
		return domain.Sprint{}, err
	}
	return e.Repo.GetSprint(ctx, g.ID, g.Quarter, g.Sprint)
}

func (e Engine) Sprints(ctx context.Context, gameID, playerID string) ([]domain.Sprint, error) {
	if _, err := e.GetGame(ctx, gameID, playerID); err != nil {
		return nil, err
	}
	return e.Repo.ListSprints(ctx, gameID)
}

func (e Engine) Reviews(ctx context.Context, gameID, playerID string) ([]repo.StoredReview, error) {
	if _, err := e.GetGame(ctx, gameID, playerID); err != nil {
		return nil, err
	}
	return e.Repo.ListReviews(ctx, gameID)
}

// CommitOptions select tickets for the open sprint. Zero Quarter/Sprint
// target whatever sprint is open.
type CommitOptions struct {
	GameID    string
	PlayerID  string
	Quarter   int
	Sprint    int
	TicketIDs []string
	ActorID   string
}

// CommitSprint resolves the open sprint and persists everything it produced
// in one transaction.
func (e Engine) CommitSprint(ctx context.Context, opts CommitOptions) (sim.CommitResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return sim.CommitResult{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGameTx(ctx, tx, opts.GameID)
	if err != nil {
		return sim.CommitResult{}, err
	}
	if opts.PlayerID != "" && g.PlayerID != opts.PlayerID {
		return sim.CommitResult{}, repo.ErrNotFound
	}
	s, err := e.Repo.GetSprintTx(ctx, tx, g.ID, g.Quarter, g.Sprint)
	if err != nil {
		return sim.CommitResult{}, fmt.Errorf("load sprint Q%dS%d: %w", g.Quarter, g.Sprint, err)
	}
	res, err := sim.Commit(g, s, sim.CommitRequest{Quarter: opts.Quarter, Sprint: opts.Sprint, TicketIDs: opts.TicketIDs}, e.Catalog)
	if err != nil {
		return sim.CommitResult{}, err
	}

	now := e.stamp()
	res.Game.UpdatedAt = now
	prev := repo.GameVersion{Quarter: g.Quarter, Sprint: g.Sprint, RNGState: g.RNGState}
	if err := e.Repo.ResolveSprint(ctx, tx, res.Sprint); err != nil {
		return sim.CommitResult{}, conflict(err)
	}
	if err := e.Repo.UpdateGame(ctx, tx, res.Game, prev); err != nil {
		return sim.CommitResult{}, conflict(err)
	}
	if res.NextSprint != nil {
		res.NextSprint.CreatedAt = now
		if err := e.Repo.InsertSprint(ctx, tx, *res.NextSprint); err != nil {
			return sim.CommitResult{}, fmt.Errorf("insert next sprint: %w", err)
		}
	}
	if err := e.recordCommit(ctx, tx, res, actor(opts.ActorID, g.PlayerID), now); err != nil {
		return sim.CommitResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return sim.CommitResult{}, err
	}

	l := e.log().With("game", g.ID, "quarter", res.Sprint.Quarter, "sprint", res.Sprint.Number)
	l.Info("sprint committed", "tickets", len(res.Sprint.Committed), "effort", res.Sprint.Retro.TotalEffort, "overbooked", res.Sprint.Retro.Overbooked)
	if res.QuarterlyReview != nil {
		l.Info("quarter reviewed", "score", res.QuarterlyReview.RawScore, "rating", res.QuarterlyReview.Rating)
	}
	if res.Collapsed {
		l.Warn("game collapsed", "state", res.Game.Status)
	}
	if res.YearEndReview != nil {
		l.Info("year reviewed", "score", res.YearEndReview.FinalScore, "rating", res.YearEndReview.FinalRating)
	}
	return res, nil
}

func conflict(err error) error {
	if errors.Is(err, repo.ErrStale) {
		return ErrConflict
	}
	return err
}

func (e Engine) recordCommit(ctx context.Context, tx *sql.Tx, res sim.CommitResult, actorID, now string) error {
	w := e.writer()
	g, s := res.Game, res.Sprint
	sprintID := fmt.Sprintf("Q%dS%d", s.Quarter, s.Number)
	ids := make([]string, 0, len(s.Committed))
	outcomes := map[string]domain.Outcome{}
	for _, t := range s.Committed {
		ids = append(ids, t.ID)
		outcomes[t.ID] = t.Outcome
	}
	if _, err := w.Append(ctx, tx, events.SprintCommitted, g.ID, "sprint", sprintID, actorID, events.EventPayload{
		"quarter":       s.Quarter,
		"sprint":        s.Number,
		"tickets":       ids,
		"outcomes":      outcomes,
		"total_effort":  s.Retro.TotalEffort,
		"overbooked":    s.Retro.Overbooked,
		"metric_deltas": s.Retro.MetricDeltas,
		"events":        len(s.Retro.Events),
	}); err != nil {
		return err
	}
	if q := res.QuarterlyReview; q != nil {
		if err := e.Repo.SaveQuarterlyReview(ctx, tx, g.ID, *q, now); err != nil {
			return fmt.Errorf("save quarterly review: %w", err)
		}
		if _, err := w.Append(ctx, tx, events.QuarterReviewed, g.ID, "review", fmt.Sprintf("Q%d", q.Quarter), actorID, events.EventPayload{
			"quarter": q.Quarter, "score": q.RawScore, "rating": q.Rating, "forced": q.Forced,
		}); err != nil {
			return err
		}
	}
	if res.Collapsed {
		if _, err := w.Append(ctx, tx, events.GameCollapsed, g.ID, "game", g.ID, actorID, events.EventPayload{
			"quarter": g.Quarter, "sprint": g.Sprint, "metrics": g.Metrics,
		}); err != nil {
			return err
		}
	}
	if y := res.YearEndReview; y != nil {
		if err := e.Repo.SaveYearEndReview(ctx, tx, g.ID, *y, now); err != nil {
			return fmt.Errorf("save year-end review: %w", err)
		}
		if _, err := w.Append(ctx, tx, events.YearReviewed, g.ID, "review", "year_end", actorID, events.EventPayload{
			"score": y.FinalScore, "rating": y.FinalRating, "raw_composite": y.RawComposite, "calibration": y.CalibrationModifier,
		}); err != nil {
			return err
		}
	}
	if n := res.NextSprint; n != nil {
		if _, err := w.Append(ctx, tx, events.SprintOpened, g.ID, "sprint", fmt.Sprintf("Q%dS%d", n.Quarter, n.Number), actorID, events.EventPayload{
			"quarter": n.Quarter, "sprint": n.Number, "capacity": n.EffectiveCapacity, "ceo_focus": n.CeoFocus, "backlog_size": len(n.Backlog),
		}); err != nil {
			return err
		}
	}
	return nil
}

// ListEvents returns service events newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
