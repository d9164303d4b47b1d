package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sakif/execserver/internal/apperror"
)

// recordFailure writes a bare 401 and keeps the error it was handed.
func recordFailure(got *error) func(http.ResponseWriter, error) {
	return func(w http.ResponseWriter, err error) {
		*got = err
		w.WriteHeader(http.StatusUnauthorized)
	}
}

func protected(t *testing.T, ts *TokenService) http.Handler {
	t.Helper()
	fail := func(http.ResponseWriter, error) { t.Error("valid credentials were rejected") }
	return RequireAuth(ts, fail)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := SubjectFromContext(r.Context())
		if !ok {
			t.Error("subject missing from context")
		}
		_, _ = w.Write([]byte(subject))
	}))
}

func TestRequireAuth_AcceptedCredentials(t *testing.T) {
	ts := newTestTokenService(t)
	token, _ := ts.Generate("alice")

	tests := map[string]func(*http.Request){
		"bearer header": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
		"token header":  func(r *http.Request) { r.Header.Set("Authorization", "token "+token) },
		"lowercase":     func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) },
		"cookie":        func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: token}) },
	}

	for name, set := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/execute", nil)
			set(req)
			rec := httptest.NewRecorder()

			protected(t, ts).ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if rec.Body.String() != "alice" {
				t.Errorf("subject = %q, want alice", rec.Body.String())
			}
		})
	}
}

func TestRequireAuth_Rejected(t *testing.T) {
	ts := newTestTokenService(t)
	expired, _ := ts.GenerateWithDuration("alice", -time.Minute)

	tests := map[string]string{
		"missing":        "",
		"unknown scheme": "Basic YWxpY2U6cHc=",
		"no token":       "Bearer",
		"expired":        "Bearer " + expired,
		"garbage":        "Bearer nope",
	}

	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/execute", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			var got error

			RequireAuth(ts, recordFailure(&got))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Error("handler should not be reached")
			})).ServeHTTP(rec, req)

			if !errors.Is(got, apperror.ErrUnauthorized) {
				t.Errorf("failure = %v, want ErrUnauthorized", got)
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if h := rec.Header().Get("WWW-Authenticate"); h == "" {
				t.Error("expected a WWW-Authenticate challenge")
			}
		})
	}
}

func TestSubjectFromContext_Anonymous(t *testing.T) {
	if _, ok := SubjectFromContext(context.Background()); ok {
		t.Error("expected no subject on a bare context")
	}
	if s, ok := SubjectFromContext(WithSubject(context.Background(), "bob")); !ok || s != "bob" {
		t.Errorf("got (%q, %v), want (bob, true)", s, ok)
	}
}
