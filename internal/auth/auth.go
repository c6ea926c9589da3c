// Package auth implements KITT's password gate.
//
// A client exchanges the shared password for a short-lived HS256 session
// token at POST /api/auth and presents it when opening the UI websocket.
// With no password configured the gate is disabled and every request passes.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/kitt/internal/observe"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 24 * time.Hour

const issuer = "kitt"

var (
	// ErrInvalidToken is returned by Verify for a missing, malformed,
	// expired or foreign token.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrDisabled is returned by Issue when no password is configured.
	ErrDisabled = errors.New("auth: gate disabled")
)

// Gate issues and verifies session tokens. It is safe for concurrent use.
type Gate struct {
	password []byte
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// Option is a functional option for New.
type Option func(*Gate)

// WithTTL sets the token lifetime. Non-positive values keep [DefaultTTL].
func WithTTL(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.ttl = d
		}
	}
}

// WithSecret sets the HMAC signing key. Without it a random key is generated,
// so tokens do not survive a restart.
func WithSecret(secret string) Option {
	return func(g *Gate) {
		if secret != "" {
			g.secret = []byte(secret)
		}
	}
}

// WithClock overrides time.Now for token timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a Gate for password. An empty password disables the gate.
func New(password string, opts ...Option) (*Gate, error) {
	g := &Gate{password: []byte(password), ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	if g.secret == nil {
		g.secret = make([]byte, 32)
		if _, err := rand.Read(g.secret); err != nil {
			return nil, fmt.Errorf("auth: generate secret: %w", err)
		}
	}
	return g, nil
}

// Enabled reports whether a password is configured.
func (g *Gate) Enabled() bool { return len(g.password) > 0 }

// Check compares password with the configured one in constant time.
func (g *Gate) Check(password string) bool {
	return g.Enabled() && subtle.ConstantTimeCompare([]byte(password), g.password) == 1
}

// Issue returns a signed token valid for the gate's TTL.
func (g *Gate) Issue() (string, error) {
	if !g.Enabled() {
		return "", ErrDisabled
	}
	now := g.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return tok, nil
}

// Verify validates a token issued by this gate.
func (g *Gate) Verify(token string) error {
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return nil
}

// Require guards next: requests must carry a valid token as
// "Authorization: Bearer <token>" or in the token query parameter (browsers
// cannot set headers on a websocket upgrade). Disabled gates pass everything.
func (g *Gate) Require(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Verify(tokenFrom(r)); err != nil {
			observe.Logger(r.Context()).Info("auth: request rejected", "path", r.URL.Path, "err", err)
			writeJSON(w, http.StatusUnauthorized, response{Error: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// ─── POST /api/auth ──────────────────────────────────────────────────────────

type request struct {
	Password string `json:"password"`
}

type response struct {
	Success *bool  `json:"success,omitempty"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// maxBody bounds the login request body.
const maxBody = 4 << 10

// Handler serves the login endpoint.
func (g *Gate) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET,OPTIONS,PATCH,DELETE,POST,PUT")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			return
		case http.MethodPost:
		default:
			writeJSON(w, http.StatusMethodNotAllowed, response{Error: "Method not allowed"})
			return
		}

		if !g.Enabled() {
			writeJSON(w, http.StatusOK, response{Success: ptr(true), Message: "Authentication disabled"})
			return
		}

		var req request
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req)
		if req.Password == "" {
			writeJSON(w, http.StatusBadRequest, response{Success: ptr(false), Error: "Password is required"})
			return
		}
		if !g.Check(req.Password) {
			observe.Logger(r.Context()).Info("auth: invalid password", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, response{Success: ptr(false), Error: "Invalid password"})
			return
		}
		tok, err := g.Issue()
		if err != nil {
			observe.Logger(r.Context()).Error("auth: issue token", "err", err)
			writeJSON(w, http.StatusInternalServerError, response{Success: ptr(false), Error: "Internal server error"})
			return
		}
		writeJSON(w, http.StatusOK, response{Success: ptr(true), Token: tok, Message: "Authentication successful"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ptr[T any](v T) *T { return &v }
