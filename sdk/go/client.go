package pmsimsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a minimal pmsim HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Session is a minted player token.
type Session struct {
	Token     string `json:"token"`
	PlayerID  string `json:"player_id"`
	ExpiresAt string `json:"expires_at"`
}

// Ticket represents a backlog ticket (partial).
type Ticket struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Category      string         `json:"category"`
	Effort        int            `json:"effort"`
	CeoAligned    bool           `json:"ceo_aligned"`
	IsMandatory   bool           `json:"is_mandatory"`
	Outcome       string         `json:"outcome,omitempty"`
	MetricImpacts map[string]int `json:"metric_impacts,omitempty"`
}

// Game represents the API game model (partial).
type Game struct {
	ID              string         `json:"id"`
	PlayerID        string         `json:"player_id"`
	Difficulty      string         `json:"difficulty"`
	Quarter         int            `json:"current_quarter"`
	Sprint          int            `json:"current_sprint"`
	State           string         `json:"state"`
	Metrics         map[string]int `json:"metrics_state"`
	Seed            int32          `json:"seed"`
	CeoFocus        string         `json:"ceo_focus"`
	QuarterlyScores []int          `json:"quarterly_scores"`
}

// Sprint is one turn of a game.
type Sprint struct {
	GameID            string   `json:"game_id"`
	Quarter           int      `json:"quarter"`
	Number            int      `json:"number"`
	EffectiveCapacity int      `json:"effective_capacity"`
	StretchCapacity   int      `json:"stretch_capacity"`
	CeoFocus          string   `json:"ceo_focus"`
	Backlog           []Ticket `json:"backlog"`
	Committed         []Ticket `json:"committed"`
	Retro             *struct {
		Narrative   string         `json:"narrative"`
		Deltas      map[string]int `json:"metric_deltas"`
		TotalEffort int            `json:"total_effort"`
		Overbooked  bool           `json:"overbooked"`
	} `json:"retro,omitempty"`
}

// QuarterlyReview is the scored close of a quarter.
type QuarterlyReview struct {
	Quarter   int    `json:"quarter"`
	RawScore  int    `json:"raw_score"`
	Rating    string `json:"rating"`
	Narrative string `json:"narrative"`
	Forced    bool   `json:"forced,omitempty"`
}

// YearEndReview is the final calibrated score.
type YearEndReview struct {
	QuarterlyScores []int  `json:"quarterly_scores"`
	FinalScore      int    `json:"final_score"`
	FinalRating     string `json:"final_rating"`
	Narrative       string `json:"narrative"`
}

// CommitResult is returned by Commit.
type CommitResult struct {
	Game            Game             `json:"game"`
	Sprint          Sprint           `json:"sprint"`
	NextSprint      *Sprint          `json:"next_sprint,omitempty"`
	QuarterlyReview *QuarterlyReview `json:"quarterly_review,omitempty"`
	YearEndReview   *YearEndReview   `json:"year_end_review,omitempty"`
	Collapsed       bool             `json:"collapsed"`
}

// Review is one stored review row.
type Review struct {
	Kind      string           `json:"kind"`
	Quarter   int              `json:"quarter"`
	Score     int              `json:"score"`
	Rating    string           `json:"rating"`
	Quarterly *QuarterlyReview `json:"quarterly,omitempty"`
	YearEnd   *YearEndReview   `json:"year_end,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	GameID     string         `json:"game_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Code returns the machine readable error code, if the body carries one.
func (e *APIError) Code() string {
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &env); err != nil {
		return ""
	}
	return env.Error.Code
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateSession mints a token and stores it on the client. An empty playerID
// registers a new player.
func (c *Client) CreateSession(ctx context.Context, playerID, name string) (Session, error) {
	body := map[string]any{}
	if playerID != "" {
		body["player_id"] = playerID
	}
	if name != "" {
		body["name"] = name
	}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "sessions", body, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// NewGameOptions are optional game parameters.
type NewGameOptions struct {
	Difficulty     string `json:"difficulty,omitempty"`
	Seed           *int32 `json:"seed,omitempty"`
	RandomizeStart *bool  `json:"randomize_start,omitempty"`
}

// NewGame starts a game and returns it with its first sprint.
func (c *Client) NewGame(ctx context.Context, opts NewGameOptions) (Game, Sprint, error) {
	var resp struct {
		Game   Game   `json:"game"`
		Sprint Sprint `json:"sprint"`
	}
	err := c.do(ctx, http.MethodPost, "games", opts, &resp)
	return resp.Game, resp.Sprint, err
}

// Game fetches a game by id.
func (c *Client) Game(ctx context.Context, id string) (Game, error) {
	var resp Game
	err := c.do(ctx, http.MethodGet, "games/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ActiveSprint returns the sprint awaiting a commit.
func (c *Client) ActiveSprint(ctx context.Context, gameID string) (Sprint, error) {
	var resp Sprint
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("games/%s/sprint", url.PathEscape(gameID)), nil, &resp)
	return resp, err
}

// Commit resolves the open sprint with the given tickets. quarter and sprint
// guard against committing a stale view; zero skips the check.
func (c *Client) Commit(ctx context.Context, gameID string, quarter, sprint int, ticketIDs []string) (CommitResult, error) {
	if ticketIDs == nil {
		ticketIDs = []string{}
	}
	body := map[string]any{"ticket_ids": ticketIDs}
	if quarter > 0 {
		body["quarter"] = quarter
	}
	if sprint > 0 {
		body["sprint"] = sprint
	}
	var resp CommitResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("games/%s/sprint/commit", url.PathEscape(gameID)), body, &resp)
	return resp, err
}

// Reviews lists quarterly and year-end reviews.
func (c *Client) Reviews(ctx context.Context, gameID string) ([]Review, error) {
	var resp struct {
		Items []Review `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("games/%s/reviews", url.PathEscape(gameID)), nil, &resp)
	return resp.Items, err
}

// Events returns recent events for a game.
func (c *Client) Events(ctx context.Context, gameID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, gameID, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, gameID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := fmt.Sprintf("games/%s/events", url.PathEscape(gameID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Stream subscribes to a game's events after the given id and calls fn for
// each one until ctx is done, the server closes, or fn returns an error.
func (c *Client) Stream(ctx context.Context, gameID string, after int64, fn func(Event) error) error {
	u, err := url.Parse(c.base() + c.prefix() + fmt.Sprintf("/games/%s/stream", url.PathEscape(gameID)))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("after", fmt.Sprintf("%d", after))
	u.RawQuery = q.Encode()
	header := http.Header{}
	if c.BearerToken != "" {
		header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		}
		return err
	}
	defer conn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// ErrStop can be returned by a Stream callback to end the stream cleanly.
var ErrStop = errors.New("stop stream")

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + c.prefix() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) prefix() string {
	p := strings.Trim(c.BasePath, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
