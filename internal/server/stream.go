package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"pmsim/internal/engine"
)

const (
	defaultStreamInterval = 500 * time.Millisecond
	streamBatch           = 100
	streamWriteWait       = 5 * time.Second
	streamReadWait        = 60 * time.Second
	streamPingEvery       = 30 * time.Second
)

// streamer pushes a game's service events to websocket subscribers as they
// are appended.
type streamer struct {
	engine   *engine.Engine
	interval time.Duration
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func newStreamer(cfg Config) *streamer {
	interval := cfg.StreamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return &streamer{
		engine:   cfg.Engine,
		interval: interval,
		log:      cfg.logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func registerStream(r chi.Router, basePath string, s *streamer) {
	r.Get(path.Join(basePath, "games/{game_id}/stream"), s.handle)
}

func (s *streamer) handle(w http.ResponseWriter, r *http.Request) {
	playerID, authErr := playerIDFromContext(r.Context())
	if authErr != nil {
		respondStatusError(w, authErr)
		return
	}
	gameID := chi.URLParam(r, "game_id")
	if _, err := s.engine.GetGame(r.Context(), gameID, playerID); err != nil {
		respondStatusError(w, handleError(r.Context(), err))
		return
	}
	var cursor int64
	if after := r.URL.Query().Get("after"); after != "" {
		parsed, err := strconv.ParseInt(after, 10, 64)
		if err != nil || parsed < 0 {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid after cursor", map[string]any{"after": after}))
			return
		}
		cursor = parsed
	} else {
		latest, err := s.engine.Repo.LatestEventID(r.Context(), gameID)
		if err != nil {
			respondStatusError(w, handleError(r.Context(), err))
			return
		}
		cursor = latest
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.log.Debug("stream opened", "game", gameID, "player", playerID, "after", cursor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- s.pump(ctx, conn, gameID, cursor)
	}()

	// Reader loop: the client only sends control frames.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadWait))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

	// Best-effort wait for the writer to stop so it doesn't outlive conn.
	select {
	case err := <-writeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debug("stream writer stopped", "game", gameID, "err", err)
		}
	case <-time.After(500 * time.Millisecond):
	}
	s.log.Debug("stream closed", "game", gameID)
}

// pump polls for events after cursor and writes each as one text message.
func (s *streamer) pump(ctx context.Context, conn *websocket.Conn, gameID string, cursor int64) error {
	poll := time.NewTicker(s.interval)
	defer poll.Stop()
	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		events, err := s.engine.Repo.EventsAfter(ctx, streamBatch, cursor, gameID)
		if err != nil {
			return err
		}
		for _, evt := range events {
			b, err := json.Marshal(eventResponse(evt))
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
			cursor = evt.ID
		}
		if len(events) == streamBatch {
			// More waiting; skip the tick.
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return err
			}
		case <-poll.C:
		}
	}
}
