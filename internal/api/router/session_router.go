package router

import (
	"net/http"
	"strings"

	"chat-sync/internal/api"
	"chat-sync/internal/api/endpoints"
	"chat-sync/internal/api/middleware"
	"chat-sync/internal/model"
)

// SessionRoutes mounts the chat session API under prefix. Every route needs
// an actor token; queue and claim are limited to operators.
func SessionRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		base := strings.TrimRight(prefix, "/")
		h := endpoints.NewSessionEndpoints(s.Sessions())

		anyActor := middleware.ValidateJWTMiddleware(s.Issuer())
		operator := middleware.ValidateJWTMiddleware(s.Issuer(), model.RoleCashier, model.RoleAdmin)

		mux.HandleFunc(base+"/sessions", s.MakeHTTPHandleFunc(h.Sessions, anyActor))
		mux.HandleFunc(base+"/customers/{customerId}/session", s.MakeHTTPHandleFunc(h.CustomerSession, anyActor))
		mux.HandleFunc(base+"/sessions/{sessionId}/claim", s.MakeHTTPHandleFunc(h.Claim, operator))
		mux.HandleFunc(base+"/sessions/{sessionId}/messages", s.MakeHTTPHandleFunc(h.Messages, anyActor))
		mux.HandleFunc(base+"/sessions/{sessionId}/messages/{messageId}/reactions", s.MakeHTTPHandleFunc(h.Reactions, anyActor))
		mux.HandleFunc(base+"/sessions/{sessionId}/close", s.MakeHTTPHandleFunc(h.Close, anyActor))
		mux.HandleFunc(base+"/queue", s.MakeHTTPHandleFunc(h.Queue, operator))
	}
}
