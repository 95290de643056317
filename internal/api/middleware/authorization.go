package middleware

import (
	"context"
	"errors"
	"net/http"

	internaljwt "chat-sync/internal/jwt"
	"chat-sync/internal/model"
)

type actorKey struct{}

func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(model.Actor)
	return actor, ok
}

// ValidateJWTMiddleware authenticates the bearer token and stores the actor
// in the request context. With roles given, other roles are forbidden.
func ValidateJWTMiddleware(issuer *internaljwt.Issuer, roles ...model.Role) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tokenString := internaljwt.BearerToken(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			actor, err := issuer.ParseToken(tokenString)
			if err != nil {
				if errors.Is(err, internaljwt.ErrTokenExpired) {
					writeError(w, http.StatusUnauthorized, "Token expired")
					return
				}
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if len(roles) > 0 && !hasRole(actor.Role, roles) {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}

			next(w, r.WithContext(WithActor(r.Context(), actor)))
		}
	}
}

func hasRole(role model.Role, allowed []model.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"message":"` + message + `"}`))
}
