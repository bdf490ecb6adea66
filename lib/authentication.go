package lib

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type contextKey string

const accountIDKey contextKey = "accountId"

// ParseBearerToken extracts the token from an Authorization header of the
// form "Bearer <token>". Anything else, including an empty token, is
// rejected.
func ParseBearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

func WithAccountID(ctx context.Context, id uint) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

func AccountIDFromContext(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(accountIDKey).(uint)
	return id, ok
}

// Sessions bundles the session store with the cookie settings.
type Sessions struct {
	Store  SessionStore
	Config SessionConfig
	Log    *zap.Logger
}

func (s *Sessions) cookieName() string {
	if s.Config.CookieName == "" {
		return "relay_session"
	}
	return s.Config.CookieName
}

// Start creates a session for the account and sets the cookie.
func (s *Sessions) Start(w http.ResponseWriter, r *http.Request, accountID uint) error {
	id, err := s.Store.Create(r.Context(), accountID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    SignSession(s.Config.Secret, id),
		Path:     "/",
		MaxAge:   s.Config.TTL,
		HttpOnly: true,
		Secure:   s.Config.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// End destroys the session named by the request cookie, if any, and clears
// the cookie.
func (s *Sessions) End(w http.ResponseWriter, r *http.Request) error {
	var err error
	if id, ok := s.sessionID(r); ok {
		err = s.Store.Destroy(r.Context(), id)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.Config.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}

func (s *Sessions) sessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(s.cookieName())
	if err != nil {
		return "", false
	}
	return VerifySession(s.Config.Secret, cookie.Value)
}

// RequireSession rejects requests without a live session and stores the
// account id in the request context otherwise.
func (s *Sessions) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.sessionID(r)
		if !ok {
			ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		accountID, err := s.Store.Lookup(r.Context(), id)
		if errors.Is(err, ErrSessionNotFound) {
			ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		if err != nil {
			if s.Log != nil {
				s.Log.Error("session lookup failed", zap.Error(err))
			}
			InternalError(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
	})
}
