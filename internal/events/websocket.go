package events

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/pocketagent/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

type clientMessage struct {
	Type string `json:"type"`
}

// Handler streams broker events over a websocket.
type Handler struct {
	broker        *Broker
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a websocket handler for broker.
func NewHandler(broker *Broker, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{broker: broker, allowedOrigin: allowedOrigin, isDev: isDev, logger: logger}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientKey(r)
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept websocket", "error", err, "client", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr, "client", clientID)
		}
	}()

	events, cancelSub := h.broker.Subscribe()
	defer cancelSub()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.logger.Info("event stream connected", "client", clientID)
	go func() {
		defer cancel()
		h.readLoop(ctx, ws, clientID)
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("event stream disconnected", "client", clientID)
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(ctx, ws, e); err != nil {
				h.logger.Debug("event write failed", "error", err, "client", clientID)
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, clientID string) {
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("websocket closed by client", "client", clientID)
			} else {
				h.logger.Warn("websocket read error", "error", err, "client", clientID)
			}
			return
		}
		if msg.Type == "ping" {
			if err := h.write(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, v)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
