// Package identity holds the authenticated session handed to the store by
// the auth provider, plus an anonymous per-device client id used to key
// per-client limits.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	ClientCookieName = "pocketagent_client"
	clientCookieAge  = 30 * 24 * time.Hour
)

type contextKey int

const (
	clientIDKey contextKey = iota
)

var clientIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// Session is the current authenticated user as reported by the auth
// provider. It is never persisted.
type Session struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"-"`
}

// Valid reports whether the session names a user.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.UserID) != ""
}

// Holder stores the current session. The zero value means signed out.
type Holder struct {
	mu      sync.RWMutex
	session Session
}

// NewHolder returns a holder seeded with s (which may be empty).
func NewHolder(s Session) *Holder {
	return &Holder{session: s}
}

// Set replaces the session and returns the previous one.
func (h *Holder) Set(s Session) Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.session
	h.session = s
	return prev
}

// Clear signs out and returns the previous session.
func (h *Holder) Clear() Session {
	return h.Set(Session{})
}

// Current returns the session.
func (h *Holder) Current() Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// UserID returns the current user id, or "" when signed out.
func (h *Holder) UserID() string {
	return h.Current().UserID
}

// Token returns the current access token, or "".
func (h *Holder) Token() string {
	return h.Current().AccessToken
}

// ClientIDFromContext extracts the client id from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

func generateClientID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func setClientCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(clientCookieAge.Seconds()),
		Expires:  time.Now().Add(clientCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

func getOrCreateClientID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(ClientCookieName); err == nil && clientIDPattern.MatchString(c.Value) {
		setClientCookie(w, c.Value, !isDev)
		return c.Value, nil
	}

	id, err := generateClientID()
	if err != nil {
		return "", err
	}
	setClientCookie(w, id, !isDev)
	return id, nil
}

// Middleware assigns every browser a stable anonymous client id.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, err := getOrCreateClientID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish client identity"}`, http.StatusInternalServerError)
				return
			}
			ctx := context.WithValue(r.Context(), clientIDKey, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientKey returns the client id from the request context, falling back
// to the remote IP.
func ClientKey(r *http.Request) string {
	if id := ClientIDFromContext(r.Context()); id != "" {
		return id
	}
	return IPFromRequest(r)
}
