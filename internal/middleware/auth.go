package middleware

import (
	"context"
	"net/http"

	"happy-hour-api/internal/models"
)

type contextKey string

const actorKey contextKey = "actor"

// Header names the auth layer reads. A fuller deployment would derive the
// actor from a session token; this service trusts the gateway to set these.
const (
	HeaderActorRole  = "X-Actor-Role"
	HeaderMerchantID = "X-Merchant-Id"
)

// ActorContext resolves the calling actor from request headers and stores it
// on the request context. Requests without a role header are treated as
// consumers.
func ActorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := models.Actor{
			Role:       models.RoleConsumer,
			MerchantID: r.Header.Get(HeaderMerchantID),
		}

		switch r.Header.Get(HeaderActorRole) {
		case models.RoleMerchant:
			actor.Role = models.RoleMerchant
		case models.RoleAdmin:
			actor.Role = models.RoleAdmin
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFrom returns the actor stored on the context by ActorContext.
func ActorFrom(ctx context.Context) models.Actor {
	if actor, ok := ctx.Value(actorKey).(models.Actor); ok {
		return actor
	}
	return models.Actor{Role: models.RoleConsumer}
}

// RequireRole rejects requests whose actor does not hold one of the given
// roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFrom(r.Context())
			if !allowed[actor.Role] {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error": "insufficient role", "code": "FORBIDDEN"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
