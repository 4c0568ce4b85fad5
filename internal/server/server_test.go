package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pmsim/internal/catalog"
	"pmsim/internal/config"
	"pmsim/internal/db"
	"pmsim/internal/engine"
	"pmsim/internal/events"
	"pmsim/internal/migrate"
	pmsimsdk "pmsim/sdk/go"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	e := engine.New(conn, config.Default(), cat)
	e.Seed = func() (int32, error) { return 777, nil }
	handler, err := New(Config{
		Engine:         &e,
		BasePath:       "/v0",
		Auth:           AuthConfig{JWTSecret: testSecret},
		StreamInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: &e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func newPlayer(t *testing.T, srv *testServer, name string) *pmsimsdk.Client {
	t.Helper()
	c := pmsimsdk.New(srv.URL)
	if _, err := c.CreateSession(context.Background(), "", name); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return c
}

// fitting picks non-mandatory tickets in order while they fit capacity.
func fitting(s pmsimsdk.Sprint) []string {
	budget := s.EffectiveCapacity
	for _, t := range s.Backlog {
		if t.IsMandatory {
			budget -= t.Effort
		}
	}
	var ids []string
	for _, t := range s.Backlog {
		if !t.IsMandatory && t.Effort <= budget {
			ids = append(ids, t.ID)
			budget -= t.Effort
		}
	}
	if len(ids) == 0 && len(s.Backlog) > 0 {
		ids = append(ids, s.Backlog[0].ID)
	}
	return ids
}

func apiCode(t *testing.T, err error) (int, string) {
	t.Helper()
	var apiErr *pmsimsdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	return apiErr.StatusCode, apiErr.Code()
}

func TestHealthAndOpenAPIArePublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := doc.Paths["/v0/games/{game_id}/sprint/commit"]; !ok {
		t.Fatalf("commit route missing from openapi")
	}
	if _, ok := doc.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Fatalf("bearerAuth scheme missing")
	}
}

func TestRequiresToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/games", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/games", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/games", nil, map[string]string{"Authorization": "Token x"})
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if res.StatusCode != http.StatusUnauthorized || env.Error.Code != "invalid_credentials" {
		t.Fatalf("unexpected %d %+v", res.StatusCode, env.Error)
	}
}

func TestPlaySprintOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	c := newPlayer(t, srv, "Dana")

	game, first, err := c.NewGame(ctx, pmsimsdk.NewGameOptions{Difficulty: "normal"})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	if game.Seed != 777 || game.Quarter != 1 || game.Sprint != 1 || game.State != "in_progress" {
		t.Fatalf("unexpected game %+v", game)
	}
	if len(first.Backlog) == 0 || first.EffectiveCapacity <= 0 {
		t.Fatalf("sprint not generated: %+v", first)
	}
	active, err := c.ActiveSprint(ctx, game.ID)
	if err != nil {
		t.Fatalf("active sprint: %v", err)
	}
	if active.Number != 1 || len(active.Backlog) != len(first.Backlog) {
		t.Fatalf("active sprint mismatch: %+v", active)
	}

	res, err := c.Commit(ctx, game.ID, 1, 1, fitting(active))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Sprint.Retro == nil || res.Sprint.Retro.Narrative == "" {
		t.Fatalf("expected retro on resolved sprint: %+v", res.Sprint)
	}
	if res.Game.Sprint != 2 || res.NextSprint == nil || res.NextSprint.Number != 2 {
		t.Fatalf("game did not advance: %+v", res.Game)
	}

	// Replaying the same commit is rejected: the expected sprint moved on.
	_, err = c.Commit(ctx, game.ID, 1, 1, fitting(active))
	if status, code := apiCode(t, err); status != http.StatusConflict || code != "sprint_mismatch" {
		t.Fatalf("expected 409 sprint_mismatch, got %d %s", status, code)
	}

	_, err = c.Commit(ctx, game.ID, 0, 0, nil)
	if status, code := apiCode(t, err); status != http.StatusUnprocessableEntity || code != "no_tickets" {
		t.Fatalf("expected 422 no_tickets, got %d %s", status, code)
	}

	evts, err := c.Events(ctx, game.ID, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range evts {
		seen[e.Type] = true
	}
	for _, want := range []string{events.GameCreated, events.SprintCommitted, events.SprintOpened} {
		if !seen[want] {
			t.Fatalf("missing %s event in %+v", want, evts)
		}
	}
}

func TestGamesArePrivateToPlayer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	owner := newPlayer(t, srv, "owner")
	other := newPlayer(t, srv, "other")

	game, _, err := owner.NewGame(ctx, pmsimsdk.NewGameOptions{})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	_, err = other.Game(ctx, game.ID)
	if status, _ := apiCode(t, err); status != http.StatusNotFound {
		t.Fatalf("expected 404 for another player's game, got %d", status)
	}
	_, err = other.Commit(ctx, game.ID, 0, 0, []string{"x"})
	if status, _ := apiCode(t, err); status != http.StatusNotFound {
		t.Fatalf("expected 404 on foreign commit, got %d", status)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/games", nil, map[string]string{"Authorization": "Bearer " + other.BearerToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list GameListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 0 {
		t.Fatalf("other player sees %d games", len(list.Items))
	}
}

func TestSessionResumesPlayer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	first := newPlayer(t, srv, "")
	game, _, err := first.NewGame(ctx, pmsimsdk.NewGameOptions{Difficulty: "hard"})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}

	again := pmsimsdk.New(srv.URL)
	if _, err := again.CreateSession(ctx, game.PlayerID, ""); err != nil {
		t.Fatalf("resume session: %v", err)
	}
	got, err := again.Game(ctx, game.ID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if got.Difficulty != "hard" {
		t.Fatalf("unexpected difficulty %s", got.Difficulty)
	}
}

func TestInvalidDifficultyIsBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := newPlayer(t, srv, "")
	_, _, err := c.NewGame(context.Background(), pmsimsdk.NewGameOptions{Difficulty: "nightmare"})
	if status, _ := apiCode(t, err); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestCatalogEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	c := newPlayer(t, srv, "")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/catalog", nil, map[string]string{"Authorization": "Bearer " + c.BearerToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("catalog status %d: %s", res.StatusCode, string(data))
	}
	var cat CatalogResponse
	if err := json.Unmarshal(data, &cat); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	want, _ := catalog.Digest(srv.Engine.Catalog)
	if cat.Digest != want || len(cat.Tickets) == 0 {
		t.Fatalf("unexpected catalog digest=%s tickets=%d", cat.Digest, len(cat.Tickets))
	}
}

func TestStreamDeliversCommitEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := newPlayer(t, srv, "")
	game, first, err := c.NewGame(ctx, pmsimsdk.NewGameOptions{})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}

	got := make(chan pmsimsdk.Event, 16)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- c.Stream(ctx, game.ID, 0, func(e pmsimsdk.Event) error {
			got <- e
			if e.Type == events.SprintOpened {
				return pmsimsdk.ErrStop
			}
			return nil
		})
	}()

	if _, err := c.Commit(ctx, game.ID, 1, 1, fitting(first)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	select {
	case err := <-streamErr:
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("stream timed out")
	}
	close(got)
	var types []string
	for e := range got {
		if e.GameID != game.ID {
			t.Fatalf("event for wrong game: %+v", e)
		}
		types = append(types, e.Type)
	}
	if len(types) < 3 || types[0] != events.GameCreated {
		t.Fatalf("unexpected stream order %v", types)
	}
}

func TestStreamRejectsForeignGame(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	owner := newPlayer(t, srv, "")
	other := newPlayer(t, srv, "")
	game, _, err := owner.NewGame(ctx, pmsimsdk.NewGameOptions{})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	err = other.Stream(ctx, game.ID, 0, func(pmsimsdk.Event) error { return nil })
	if status, _ := apiCode(t, err); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var mu sync.Mutex
	var received []string
	var headers http.Header
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		received = append(received, body.Type)
		headers = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := StartWebhooks(ctx, WebhookOptions{
		Repo:     srv.Engine.Repo,
		Interval: 20 * time.Millisecond,
		Webhooks: []config.WebhookConfig{{URL: hook.URL, Events: []string{events.GameCreated}, Secret: "s3"}},
	})
	// Let the dispatcher pin its cursor before the game exists.
	time.Sleep(60 * time.Millisecond)

	c := newPlayer(t, srv, "")
	game, _, err := c.NewGame(context.Background(), pmsimsdk.NewGameOptions{})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != events.GameCreated {
		t.Fatalf("unexpected deliveries %v", received)
	}
	if headers.Get("X-Pmsim-Game") != game.ID || headers.Get("X-Pmsim-Secret") != "s3" || headers.Get("X-Pmsim-Event") != events.GameCreated {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestHandleErrorLogsToConfiguredLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := context.WithValue(context.Background(), loggerKey{}, log)

	se := handleError(ctx, errors.New("disk on fire"))
	if se.GetStatus() != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", se.GetStatus())
	}
	out := buf.String()
	if !strings.Contains(out, `"msg":"request failed"`) || !strings.Contains(out, "disk on fire") {
		t.Fatalf("configured logger did not record the failure: %q", out)
	}

	buf.Reset()
	if se := handleError(ctx, engine.ErrEmptyCatalog); se.GetStatus() != http.StatusConflict {
		t.Fatalf("empty catalog status = %d, want 409", se.GetStatus())
	}
	if buf.Len() != 0 {
		t.Fatalf("client errors should not be logged: %q", buf.String())
	}
}
