package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenTTL = 24 * time.Hour

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// Principal is the authenticated player behind a request.
type Principal struct {
	PlayerID string
	Name     string
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c AuthConfig) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c AuthConfig) ttl() time.Duration {
	if c.TokenTTL > 0 {
		return c.TokenTTL
	}
	return defaultTokenTTL
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func playerIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.PlayerID != "" {
		return p.PlayerID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

func signSessionToken(cfg AuthConfig, p Principal) (string, time.Time, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	now := cfg.now()
	exp := now.Add(cfg.ttl())
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.PlayerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name: p.Name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{PlayerID: claims.Subject, Name: claims.Name}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func publicPaths(basePath string) []string {
	return []string{
		path.Join(basePath, "health"),
		path.Join(basePath, "sessions"),
		path.Join(basePath, "openapi.json"),
	}
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	public := map[string]bool{}
	for _, p := range publicPaths(basePath) {
		public[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			var token string
			if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
				var ok bool
				if token, ok = bearerToken(authz); !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
			} else if strings.HasSuffix(req.URL.Path, "/stream") {
				// Browsers cannot set headers on a websocket handshake.
				token = strings.TrimSpace(req.URL.Query().Get("access_token"))
			}
			if token == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			principal, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				cfg.logger().Debug("rejected token", "path", req.URL.Path, "err", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func registerSessions(api huma.API, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Mint a player session token",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		playerID := strings.TrimSpace(input.Body.PlayerID)
		if playerID == "" {
			playerID = uuid.NewString()
		}
		token, exp, err := signSessionToken(cfg, Principal{PlayerID: playerID, Name: strings.TrimSpace(input.Body.Name)})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		cfg.logger().Info("session created", "player", playerID)
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Token: token, PlayerID: playerID, ExpiresAt: exp.Format(time.RFC3339)}}, nil
	})
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
