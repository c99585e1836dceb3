// Package identity normalises learner identifiers and assigns anonymous ids to
// browser simulator sessions.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	SimulatorCookieName = "caps_sim_id"
	simulatorCookieAge  = 30 * 24 * time.Hour

	// DefaultCountryCode is prefixed to local South African numbers.
	DefaultCountryCode = "27"
)

// ErrInvalidUserID is returned for ids that are neither a phone number nor a
// simulator id.
var ErrInvalidUserID = errors.New("invalid user id")

type contextKey int

const userIDKey contextKey = iota

var (
	simulatorIDPattern = regexp.MustCompile(`^sim_[a-f0-9]{32}$`)
	phoneStripper      = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	digitsPattern      = regexp.MustCompile(`^\d{8,15}$`)
)

// NormalizeUserID converts a WhatsApp wa_id, an E.164 number or a local number
// to the bare international digits WhatsApp uses ("27821234567"). Simulator
// ids pass through unchanged.
func NormalizeUserID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if simulatorIDPattern.MatchString(id) {
		return id, nil
	}
	id = strings.TrimPrefix(strings.ToLower(id), "whatsapp:")
	id = phoneStripper.Replace(id)
	switch {
	case strings.HasPrefix(id, "+"):
		id = id[1:]
	case strings.HasPrefix(id, "00"):
		id = id[2:]
	case strings.HasPrefix(id, "0") && len(id) == 10:
		id = DefaultCountryCode + id[1:]
	}
	if !digitsPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, raw)
	}
	return id, nil
}

// E164 formats a normalised phone id with a leading plus. Simulator ids are
// returned as they are.
func E164(id string) string {
	if digitsPattern.MatchString(id) {
		return "+" + id
	}
	return id
}

// IsSimulator reports whether id was issued to a browser simulator.
func IsSimulator(id string) bool {
	return simulatorIDPattern.MatchString(id)
}

// UserIDFromContext extracts the simulator user id from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func generateSimulatorID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate simulator id: %w", err)
	}
	return "sim_" + hex.EncodeToString(buf), nil
}

func getOrCreateSimulatorID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	var id string
	if c, err := r.Cookie(SimulatorCookieName); err == nil && IsSimulator(c.Value) {
		id = c.Value
	} else {
		id, err = generateSimulatorID()
		if err != nil {
			return "", err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SimulatorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(simulatorCookieAge.Seconds()),
		Expires:  time.Now().Add(simulatorCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

// Middleware gives each browser a stable simulator id, refreshed on every
// request and exposed through UserIDFromContext.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := getOrCreateSimulatorID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish simulator identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
