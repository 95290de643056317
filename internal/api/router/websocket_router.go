package router

import (
	"net/http"
	"strings"

	"chat-sync/internal/api"
	"chat-sync/internal/api/middleware"
)

// WebsocketRoutes mounts the channel endpoint. The gateway authenticates the
// upgrade itself, so it bypasses the request queue.
func WebsocketRoutes(prefix string, gateway http.Handler) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		base := strings.TrimRight(prefix, "/")
		mux.HandleFunc(base+"/channel", middleware.Chain(gateway.ServeHTTP, middleware.Logging(s.Logger())))
	}
}
