package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/notely/notely-go/internal/crypto"
	"github.com/notely/notely-go/internal/model"
	"github.com/notely/notely-go/internal/repository"
)

// SessionCookieName is the cookie carrying a remember-me session token.
const SessionCookieName = "session_token"

type contextKey string

const userIDKey contextKey = "userID"

// Reasons reported in the body of a 401 from Gate.
const (
	ReasonNoToken        = "no_token"
	ReasonMalformed      = "malformed"
	ReasonInvalidToken   = "invalid_token"
	ReasonInvalidSession = "invalid_session"
)

// TokenVerifier checks stateless access tokens.
type TokenVerifier interface {
	Verify(token string) (*crypto.Claims, error)
}

// SessionLookup finds persisted sessions by token digest, reporting
// repository.ErrSessionNotFound when there is none.
type SessionLookup interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)
}

// Gate returns middleware that resolves the request to a user ID from either
// the session cookie or an "Authorization: Bearer" access token. The cookie
// wins when both are sent.
//
// Access tokens are verified on their own. Session tokens are looked up by
// digest and must not have expired.
func Gate(tokens TokenVerifier, sessions SessionLookup, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, reason := extractToken(r)
			if reason != "" {
				reject(w, r, reason)
				return
			}

			var userID int64
			if crypto.LooksLikeSessionToken(token) {
				s, err := sessions.GetByTokenHash(r.Context(), crypto.DigestSessionToken(token))
				switch {
				case errors.Is(err, repository.ErrSessionNotFound):
					reject(w, r, ReasonInvalidSession)
					return
				case err != nil:
					slog.Error("session lookup failed", "error", err)
					writeJSONError(w, http.StatusInternalServerError, "internal server error")
					return
				case s.Expired(now()):
					reject(w, r, ReasonInvalidSession)
					return
				}
				userID = s.UserID
			} else {
				claims, err := tokens.Verify(token)
				switch {
				case errors.Is(err, crypto.ErrMissingSecret):
					slog.Error("access token verification unavailable", "error", err)
					writeJSONError(w, http.StatusInternalServerError, "internal server error")
					return
				case errors.Is(err, crypto.ErrMalformedToken):
					reject(w, r, ReasonMalformed)
					return
				case err != nil:
					reject(w, r, ReasonInvalidToken)
					return
				}
				userID = claims.UserID
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken returns the candidate credential, or the rejection reason if
// there is no usable one.
func extractToken(r *http.Request) (string, string) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, ""
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ReasonNoToken
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", ReasonMalformed
	}
	return token, ""
}

func reject(w http.ResponseWriter, r *http.Request, reason string) {
	slog.Debug("request rejected", "path", r.URL.Path, "reason", reason)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "reason": reason})
}

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
