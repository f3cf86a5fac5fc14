package api

import (
	"context"
	"errors"
	"net/http"

	"filevault/internal/models"
)

// TokenHeader carries the bearer token on authenticated requests.
const TokenHeader = "X-Token"

// ErrUnauthorized is rendered for every authentication failure so callers
// cannot tell unknown tokens from expired ones.
var ErrUnauthorized = errors.New("Unauthorized")

// ErrNotFound is rendered whenever a document is missing or invisible to
// the caller.
var ErrNotFound = errors.New("Not found")

type contextKey string

const userContextKey contextKey = "authenticated-user"

// ContextWithUser attaches the authenticated user to the context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// ExtractToken reads the bearer token from the request headers.
func ExtractToken(r *http.Request) string {
	return r.Header.Get(TokenHeader)
}

// requireAuthenticatedUser fetches the user placed on the context by the
// authentication middleware, rendering a uniform 401 when absent.
func requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrUnauthorized)
		return models.User{}, false
	}
	return user, true
}
