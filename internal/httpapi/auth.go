package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/store"
)

// Authenticator resolves a bearer token to a buyer id. The checkout core
// treats authentication as an external collaborator; this is the interface
// it is consumed through.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (int64, error)
}

var ErrNotAuthenticated = errors.New("not authenticated")

// SessionAuthenticator resolves tokens against the sessions table.
type SessionAuthenticator struct {
	DB *sql.DB
}

func (a *SessionAuthenticator) Authenticate(ctx context.Context, token string) (int64, error) {
	userID, err := store.ResolveSession(ctx, a.DB, token)
	if errors.Is(err, database.ErrSessionNotFound) {
		return 0, ErrNotAuthenticated
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}

type contextKey int

const buyerIDKey contextKey = iota

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "AUTH", "missing bearer token")
			return
		}

		buyerID, err := h.Auth.Authenticate(r.Context(), token)
		if errors.Is(err, ErrNotAuthenticated) {
			respondError(w, http.StatusUnauthorized, "AUTH", "invalid or expired session")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
			return
		}

		ctx := context.WithValue(r.Context(), buyerIDKey, buyerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func buyerIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(buyerIDKey).(int64)
	return id
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
