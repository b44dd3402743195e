// Package chatws serves conversations over WebSocket: one connection per
// user, one JSON frame per message.
package chatws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aiox-platform/recall/internal/api"
	"github.com/aiox-platform/recall/internal/metrics"
)

// Responder runs one conversation turn.
type Responder interface {
	HandleMessage(ctx context.Context, userID, text string) (string, error)
}

// Limiter is satisfied by ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// ClientFrame is sent by the client.
type ClientFrame struct {
	ID   string `json:"id,omitempty"`
	Body string `json:"body"`
}

// ServerFrame is sent by the server in response to a ClientFrame.
type ServerFrame struct {
	Body      string `json:"body,omitempty"`
	InReplyTo string `json:"in_reply_to"`
	Error     string `json:"error,omitempty"`
}

// Config holds connection limits.
type Config struct {
	ReadLimit      int64
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	// RateLimitedReply is sent instead of a turn when the user is throttled.
	RateLimitedReply string
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 16 << 10
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.RateLimitedReply == "" {
		c.RateLimitedReply = "rate limit exceeded"
	}
	return c
}

// Handler upgrades HTTP requests and runs the chat loop.
type Handler struct {
	responder Responder
	limiter   Limiter
	cfg       Config
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandler creates a Handler. limiter may be nil.
func NewHandler(responder Responder, limiter Limiter, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	h := &Handler{
		responder: responder,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger.With("component", "chatws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP handles GET /ws/chat?user=<id>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		api.HandleError(w, api.NewBadRequestError("user query parameter is required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	metrics.ChatConnections.Inc()
	defer metrics.ChatConnections.Dec()

	h.serve(r.Context(), conn, userID)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	log := h.logger.With("user_id", userID)
	log.Debug("chat connection opened")

	conn.SetReadLimit(h.cfg.ReadLimit)
	pongWait := h.cfg.PingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.ping(ctx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("reading chat frame", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if err := h.write(conn, ServerFrame{Error: "malformed frame"}); err != nil {
				return
			}
			continue
		}

		if frame.ID == "" {
			frame.ID = uuid.New().String()
		}

		if err := h.write(conn, h.respond(ctx, userID, frame)); err != nil {
			log.Warn("writing chat frame", "error", err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Handler) respond(ctx context.Context, userID string, frame ClientFrame) ServerFrame {
	out := ServerFrame{InReplyTo: frame.ID}

	if strings.TrimSpace(frame.Body) == "" {
		out.Error = "body is required"
		return out
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, userID)
		if err != nil {
			h.logger.Warn("rate limiter: redis error, failing open", "error", err, "user_id", userID)
		} else if !allowed {
			metrics.RateLimitedTotal.WithLabelValues("websocket").Inc()
			out.Error = h.cfg.RateLimitedReply
			return out
		}
	}

	reply, err := h.responder.HandleMessage(ctx, userID, frame.Body)
	if err != nil {
		h.logger.Error("handling chat message", "error", err, "user_id", userID)
		out.Error = "could not process message"
		return out
	}

	out.Body = reply
	return out
}

func (h *Handler) write(conn *websocket.Conn, frame ServerFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	return conn.WriteJSON(frame)
}

// ping keeps the connection alive; WriteControl may run concurrently with
// the reader loop's writes.
func (h *Handler) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
