package daemon

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"specforge/internal/services"
)

// ActorHeader names the caller recorded in audit events.
const ActorHeader = "X-Specforge-Actor"

// authMiddleware validates bearer tokens. An empty token disables
// authentication. Otherwise requests must include
// "Authorization: Bearer <token>".
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				http.Error(w, `{"error":{"kind":"unauthorized","message":"unauthorized"}}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestContext stamps the actor and a correlation id onto the request context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := "api"
		if name := strings.TrimSpace(r.Header.Get(ActorHeader)); name != "" {
			actor = "api:" + name
		}
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := services.WithActor(r.Context(), actor)
		ctx = services.WithRequestID(ctx, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
