package auth_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/kitt/internal/auth"
)

const password = "fV5KTuPVw@aF6wa!Td+k"

func newGate(t *testing.T, opts ...auth.Option) *auth.Gate {
	t.Helper()
	g, err := auth.New(password, append([]auth.Option{auth.WithSecret("test-secret")}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

type loginResponse struct {
	Success *bool  `json:"success"`
	Token   string `json:"token"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func login(t *testing.T, g *auth.Gate, method, body string) (*httptest.ResponseRecorder, loginResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(method, "/api/auth", strings.NewReader(body)))
	var resp loginResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestHandler(t *testing.T) {
	t.Parallel()

	g := newGate(t)
	tests := []struct {
		name    string
		method  string
		body    string
		status  int
		success *bool
		errMsg  string
	}{
		{name: "preflight", method: http.MethodOptions, status: http.StatusOK},
		{name: "wrong method", method: http.MethodGet, status: http.StatusMethodNotAllowed, errMsg: "Method not allowed"},
		{name: "missing password", method: http.MethodPost, body: `{}`, status: http.StatusBadRequest, success: boolp(false), errMsg: "Password is required"},
		{name: "malformed body", method: http.MethodPost, body: `{"password":`, status: http.StatusBadRequest, success: boolp(false), errMsg: "Password is required"},
		{name: "wrong password", method: http.MethodPost, body: `{"password":"KARR"}`, status: http.StatusUnauthorized, success: boolp(false), errMsg: "Invalid password"},
		{name: "correct password", method: http.MethodPost, body: `{"password":"` + password + `"}`, status: http.StatusOK, success: boolp(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, resp := login(t, g, tt.method, tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Allow-Origin = %q", got)
			}
			if tt.success != nil && (resp.Success == nil || *resp.Success != *tt.success) {
				t.Errorf("success = %v, want %v", resp.Success, *tt.success)
			}
			if resp.Error != tt.errMsg {
				t.Errorf("error = %q, want %q", resp.Error, tt.errMsg)
			}
			if tt.status == http.StatusOK && tt.method == http.MethodPost {
				if resp.Message != "Authentication successful" {
					t.Errorf("message = %q", resp.Message)
				}
				if err := g.Verify(resp.Token); err != nil {
					t.Errorf("issued token does not verify: %v", err)
				}
			}
		})
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	g := newGate(t, auth.WithTTL(time.Hour), auth.WithClock(func() time.Time { return clock }))

	tok, err := g.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := g.Verify(tok); err != nil {
		t.Errorf("fresh token: %v", err)
	}

	other := newGate(t, auth.WithSecret("another-secret"))
	if err := other.Verify(tok); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("foreign key: err = %v", err)
	}
	if err := g.Verify("not-a-token"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("garbage: err = %v", err)
	}

	clock = now.Add(2 * time.Hour)
	if err := g.Verify(tok); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("expired token: err = %v", err)
	}
}

func TestRequire(t *testing.T) {
	t.Parallel()

	g := newGate(t)
	tok, _ := g.Issue()
	guarded := g.Require(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{name: "no token", url: "/ws", want: http.StatusUnauthorized},
		{name: "bearer", url: "/ws", header: "Bearer " + tok, want: http.StatusTeapot},
		{name: "query", url: "/ws?token=" + tok, want: http.StatusTeapot},
		{name: "bad bearer", url: "/ws", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "basic scheme", url: "/ws", header: "Basic " + tok, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			guarded.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestDisabledGate(t *testing.T) {
	t.Parallel()

	g, err := auth.New("")
	if err != nil {
		t.Fatal(err)
	}
	if g.Enabled() || g.Check("") {
		t.Error("empty password gate is enabled")
	}
	if _, err := g.Issue(); !errors.Is(err, auth.ErrDisabled) {
		t.Errorf("Issue err = %v", err)
	}

	rec := httptest.NewRecorder()
	g.Require(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("disabled Require status = %d", rec.Code)
	}

	rec, resp := login(t, g, http.MethodPost, `{"password":"x"}`)
	if rec.Code != http.StatusOK || resp.Success == nil || !*resp.Success || resp.Token != "" {
		t.Errorf("disabled login = %d %+v", rec.Code, resp)
	}
}

func boolp(b bool) *bool { return &b }
