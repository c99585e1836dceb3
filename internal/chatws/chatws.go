// Package chatws serves the browser simulator's chat channel over WebSocket.
// Each client text frame is one learner turn.
package chatws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/identity"
	"github.com/ashureev/caps-tutor/internal/metrics"
	"github.com/ashureev/caps-tutor/internal/middleware"
)

const (
	writeTimeout = 10 * time.Second
	readLimit    = 64 << 10
)

// Frame types.
const (
	TypeReady   = "ready"
	TypeMessage = "message"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeTyping  = "typing"
	TypeReply   = "reply"
	TypeError   = "error"
)

// Turner handles one learner turn. brain.Brain implements it.
type Turner interface {
	HandleTurn(ctx context.Context, turn domain.InboundTurn) domain.OutboundTurn
}

// ClientFrame is sent by the browser.
type ClientFrame struct {
	Type     string `json:"type"`
	Message  string `json:"message,omitempty"`
	UserName string `json:"user_name,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ServerFrame is sent to the browser.
type ServerFrame struct {
	Type        string         `json:"type"`
	UserID      string         `json:"user_id,omitempty"`
	Response    string         `json:"response,omitempty"`
	Expectation string         `json:"expectation,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Handler upgrades /ws/chat connections.
type Handler struct {
	turns         Turner
	limiter       *middleware.RateLimiter
	metrics       *metrics.Metrics
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a Handler. limiter and m may be nil.
func NewHandler(turns Turner, limiter *middleware.RateLimiter, m *metrics.Metrics, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		turns:         turns,
		limiter:       limiter,
		metrics:       m,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := h.userID(r)
	if userID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.metrics.SocketOpened()
	defer h.metrics.SocketClosed()

	h.logger.Info("Chat connected", "user_id", userID, "ip", identity.IPFromRequest(r))
	h.serve(r.Context(), ws, userID)
	h.logger.Info("Chat ended", "user_id", userID)
}

// userID picks the learner the socket speaks for. In development the
// simulator may pose as a phone number via ?as=.
func (h *Handler) userID(r *http.Request) string {
	if as := r.URL.Query().Get("as"); as != "" && h.isDev {
		if id, err := identity.NormalizeUserID(as); err == nil {
			return id
		}
	}
	return identity.UserIDFromContext(r.Context())
}

func (h *Handler) serve(ctx context.Context, ws *websocket.Conn, userID string) {
	if err := h.write(ctx, ws, ServerFrame{Type: TypeReady, UserID: userID}); err != nil {
		return
	}
	for {
		var frame ClientFrame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			switch {
			case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			default:
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var reply ServerFrame
		switch frame.Type {
		case TypePing:
			reply = ServerFrame{Type: TypePong}
		case TypeMessage, "":
			msg := strings.TrimSpace(frame.Message)
			if msg == "" {
				reply = ServerFrame{Type: TypeError, Error: "empty_message"}
				break
			}
			if h.limiter != nil && !h.limiter.Allow(userID) {
				h.metrics.ObserveRateLimited()
				reply = ServerFrame{Type: TypeError, Error: "rate_limited"}
				break
			}
			if err := h.write(ctx, ws, ServerFrame{Type: TypeTyping}); err != nil {
				return
			}
			out := h.turns.HandleTurn(ctx, domain.InboundTurn{
				UserID:   userID,
				UserName: strings.TrimSpace(frame.UserName),
				Message:  msg,
				ImageURL: frame.ImageURL,
			})
			reply = ServerFrame{
				Type:        TypeReply,
				Response:    out.Response,
				Expectation: out.Expectation,
				Metadata:    out.Metadata,
			}
		default:
			reply = ServerFrame{Type: TypeError, Error: "unknown_type"}
		}

		if err := h.write(ctx, ws, reply); err != nil {
			return
		}
	}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, f ServerFrame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, ws, f); err != nil {
		h.logger.Debug("WebSocket write error", "error", err, "type", f.Type)
		return err
	}
	return nil
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
