package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"pmsim/internal/archive"
	"pmsim/internal/catalog"
	"pmsim/internal/domain"
	"pmsim/internal/engine"
	"pmsim/internal/repo"
	"pmsim/internal/sim"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
	// StreamInterval is how often websocket streams poll for new events.
	StreamInterval time.Duration
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"over_capacity"`
	Message string         `json:"message" example:"selected effort 31 exceeds stretch capacity 26"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"code\":\"over_capacity\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}
type loggerKey struct{}

func loggerFromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the pmsim API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	cfg.BasePath = basePath
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.logger()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	log := cfg.logger()
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			ctx = context.WithValue(ctx, loggerKey{}, log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("pmsim API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerDocs(router, basePath)
	registerHealth(group)
	registerSessions(group, cfg.Auth)
	registerGames(group, e)
	registerSprints(group, e)
	registerReviews(group, e)
	registerEvents(group, e)
	registerCatalog(group, e)
	registerStream(router, basePath, newStreamer(cfg))
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var in *sim.InputError
	if errors.As(err, &in) {
		switch in.Code {
		case sim.CodeSprintMismatch, sim.CodeGameFinished:
			return newAPIError(http.StatusConflict, in.Code, in.Message, nil)
		}
		return newAPIError(http.StatusUnprocessableEntity, in.Code, in.Message, nil)
	}
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_catalog", err.Error(), map[string]any{"problems": verr.Problems})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrEmptyCatalog) {
		return newAPIError(http.StatusConflict, "empty_catalog", err.Error(), nil)
	}
	if errors.Is(err, archive.ErrFormat) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		loggerFromContext(ctx).Error("request failed", "err", err)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	docPath := path.Join(basePath, "openapi.json")
	r.Get(docPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{}
	for _, p := range publicPaths(basePath) {
		public[p] = true
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	docURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>pmsim API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Create a session with POST /sessions, then authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, docURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type gamePath struct {
	GameID string `path:"game_id"`
}

func registerGames(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-game",
		Method:      http.MethodPost,
		Path:        "/games",
		Summary:     "Start a new game",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateGameRequest `json:"body"`
	}) (*struct {
		Body GameStateResponse `json:"body"`
	}, error) {
		playerID, authErr := playerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, _ := principalFromContext(ctx)
		g, s, err := e.NewGame(ctx, engine.NewGameOptions{
			PlayerID:       playerID,
			PlayerName:     p.Name,
			Difficulty:     domain.Difficulty(input.Body.Difficulty),
			Seed:           input.Body.Seed,
			RandomizeStart: input.Body.RandomizeStart,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body GameStateResponse `json:"body"`
		}{Body: GameStateResponse{Game: g, Sprint: &s}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-games",
		Method:      http.MethodGet,
		Path:        "/games",
		Summary:     "List the session player's games",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		State string `query:"state" enum:"in_progress,completed,collapsed"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body GameListResponse `json:"body"`
	}, error) {
		playerID, authErr := playerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		games, err := e.ListGames(ctx, playerID, domain.GameStatus(input.State), normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := GameListResponse{Items: []GameSummary{}}
		for _, g := range games {
			resp.Items = append(resp.Items, gameSummary(g))
		}
		return &struct {
			Body GameListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-game",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}",
		Summary:     "Get a game",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *gamePath) (*struct {
		Body domain.Game `json:"body"`
	}, error) {
		playerID, authErr := playerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.GetGame(ctx, input.GameID, playerID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Game `json:"body"`
		}{Body: g}, nil
	})
}

func registerSprints(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "active-sprint",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/sprint",
		Summary:     "Current sprint with backlog and capacity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *gamePath) (*struct {
		Body domain.Sprint `json:"body"`
	}, error) {
		playerID, authErr := playerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ActiveSprint(ctx, input.GameID, playerID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Sprint `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "commit-sprint",
		Method:      http.MethodPost,
		Path:        "/games/{game_id}/sprint/commit",
		Summary:     "Commit tickets for the open sprint",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		GameID string `path:"game_id"`
		Body   CommitSprintRequest `json:"body"`
	}) (*struct {
		Body CommitResponse `json:"body"`
	}, error) {
		playerID, authErr := playerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CommitSprint(ctx, engine.CommitOptions{
			GameID:    input.GameID,
			PlayerID:  playerID,
			Quarter:   input.Body.Quarter,
			Sprint:    input.Body.Sprint,
			TicketIDs: input.Body.TicketIDs,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body CommitResponse `json:"body"`
		}{Body: commitResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sprints",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/sprints",
		Summary:     "All sprints of a game in play order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *gamePath) (*struct {
		Body SprintListResponse `json:"body"`
	}, error) {
		playerID, authErr := playerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sprints, err := e.Sprints(ctx, input.GameID, playerID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body SprintListResponse `json:"body"`
		}{Body: SprintListResponse{Items: nonNilSlice(sprints)}}, nil
	})
}

func registerReviews(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reviews",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/reviews",
		Summary:     "Quarterly and year-end reviews",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *gamePath) (*struct {
		Body ReviewListResponse `json:"body"`
	}, error) {
		playerID, authErr := playerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stored, err := e.Reviews(ctx, input.GameID, playerID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := ReviewListResponse{Items: []ReviewResponse{}}
		for _, r := range stored {
			item, err := reviewResponse(r)
			if err != nil {
				return nil, handleError(ctx, err)
			}
			resp.Items = append(resp.Items, item)
		}
		return &struct {
			Body ReviewListResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/events",
		Summary:     "List recent service events for a game",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GameID     string `path:"game_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"game,sprint,review"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		playerID, authErr := playerIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetGame(ctx, input.GameID, playerID); err != nil {
			return nil, handleError(ctx, err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			GameID: input.GameID, Type: input.Type, EntityKind: input.EntityKind,
			Limit: limit + 1, Before: cursorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerCatalog(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "Ticket, event and narrative catalog in play",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CatalogResponse `json:"body"`
	}, error) {
		digest, err := catalog.Digest(e.Catalog)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body CatalogResponse `json:"body"`
		}{Body: CatalogResponse{
			Digest:     digest,
			Tickets:    nonNilSlice(e.Catalog.Tickets),
			Events:     nonNilSlice(e.Catalog.Events),
			Narratives: nonNilSlice(e.Catalog.Narratives),
		}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
