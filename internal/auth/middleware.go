package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/execserver/internal/apperror"
)

type contextKey string

const subjectKey contextKey = "subject"

// CookieName is the cookie consulted when no Authorization header is sent.
const CookieName = "token"

var errNoToken = errors.New("auth: no token presented")

// RequireAuth rejects requests without a valid token and stores the token's
// subject in the request context otherwise. Rejections are handed to fail as
// an apperror.ErrUnauthorized so they share the API's error envelope.
//
// The token is read from "Authorization: Bearer <jwt>", the Jupyter-style
// "Authorization: token <jwt>", or the "token" cookie, in that order.
func RequireAuth(tokens *TokenService, fail func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := extractSubject(r, tokens)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="execserver"`)
				fail(w, apperror.Unauthorized("valid authentication required"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

// WithSubject returns a copy of ctx carrying subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext returns the authenticated subject, or ("", false)
// when the request was not authenticated (auth disabled).
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok && s != ""
}

func extractSubject(r *http.Request, tokens *TokenService) (string, error) {
	if token := headerToken(r.Header.Get("Authorization")); token != "" {
		return tokens.Validate(token)
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return tokens.Validate(cookie.Value)
	}
	return "", errNoToken
}

func headerToken(h string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "bearer", "token":
		return strings.TrimSpace(token)
	}
	return ""
}
