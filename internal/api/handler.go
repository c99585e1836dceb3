// Package api provides HTTP handlers for the tutor API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/ashureev/caps-tutor/internal/identity"
	"github.com/ashureev/caps-tutor/internal/metrics"
	"github.com/ashureev/caps-tutor/internal/middleware"
	"github.com/ashureev/caps-tutor/internal/store"
)

const (
	maxBodyBytes       = 64 << 10
	healthCheckTimeout = 2 * time.Second
)

// Turner handles one learner turn. brain.Brain implements it.
type Turner interface {
	HandleTurn(ctx context.Context, turn domain.InboundTurn) domain.OutboundTurn
}

// Handler serves the turn API.
type Handler struct {
	turns   Turner
	store   store.SessionStore
	limiter *middleware.RateLimiter
	metrics *metrics.Metrics
	isDev   bool
	logger  *slog.Logger
}

// NewHandler creates a Handler. limiter and m may be nil.
func NewHandler(turns Turner, sessions store.SessionStore, limiter *middleware.RateLimiter, m *metrics.Metrics, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		turns:   turns,
		store:   sessions,
		limiter: limiter,
		metrics: m,
		isDev:   isDev,
		logger:  logger,
	}
}

// RegisterRoutes mounts the API on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/turn", h.Turn)
		r.Get("/health", h.Health)
		if h.isDev {
			r.Get("/sessions/{userID}", h.GetSession)
		}
	})
}

var validate = validator.New()

type turnRequest struct {
	UserID   string `json:"user_id" validate:"required,max=64"`
	UserName string `json:"user_name" validate:"max=64"`
	Message  string `json:"message" validate:"required,max=4096"`
	ImageURL string `json:"image_url" validate:"omitempty,url"`
}

// Turn handles POST /api/turn.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := validate.Struct(req); err != nil {
		Error(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	userID, err := identity.NormalizeUserID(req.UserID)
	if err != nil {
		Error(w, http.StatusBadRequest, "user_id must be a WhatsApp number or simulator id")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.metrics.ObserveRateLimited()
		w.Header().Set("Retry-After", "60")
		Error(w, http.StatusTooManyRequests, "too many messages, please slow down")
		return
	}

	out := h.turns.HandleTurn(r.Context(), domain.InboundTurn{
		UserID:   userID,
		UserName: strings.TrimSpace(req.UserName),
		Message:  req.Message,
		ImageURL: req.ImageURL,
	})
	JSON(w, http.StatusOK, out)
}

// GetSession handles GET /api/sessions/{userID}. Development only.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.NormalizeUserID(chi.URLParam(r, "userID"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid user id")
		return
	}
	sess, err := h.store.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load session", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	JSON(w, http.StatusOK, sess)
}

// Health reports whether the session store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "store": "unreachable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "healthy", "store": "ok"})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := map[string]string{
		"UserID":   "user_id",
		"UserName": "user_name",
		"Message":  "message",
		"ImageURL": "image_url",
	}[fe.Field()]
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid"
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
