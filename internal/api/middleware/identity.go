package middleware

import (
	"context"
	"net/http"

	"github.com/labelq/labelq-api/internal/api/shared"
)

// UserIDHeader is the request header carrying the caller's user ID.
// Identity issuance itself is an upstream concern; the engine treats the
// ID as an opaque string and only requires that it is present.
const UserIDHeader = "X-User-ID"

// IdentityMiddleware extracts the caller's user ID from the request
// header and stores it in the context. Requests without an ID are
// rejected with 401 before reaching any handler.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Missing user identity")
			return
		}

		ctx := context.WithValue(r.Context(), shared.UserIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
