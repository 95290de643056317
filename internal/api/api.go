package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chat-sync/internal/api/middleware"
	internaljwt "chat-sync/internal/jwt"
	"chat-sync/internal/logger"
	"chat-sync/internal/queue"
	"chat-sync/internal/service/session"

	"github.com/prometheus/client_golang/prometheus"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

type Options struct {
	ListenAddr     string
	Queue          *queue.RequestQueueManager
	Sessions       *session.Service
	Issuer         *internaljwt.Issuer
	Logger         logger.ILogger
	AllowedOrigins []string
	// Registerer and Gatherer default to the prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type APIServer struct {
	listenAddr          string
	requestQueueManager *queue.RequestQueueManager
	sessions            *session.Service
	issuer              *internaljwt.Issuer
	log                 logger.ILogger
	cors                middleware.CORSConfig
	routeRegistrars     []RouteRegistrar
	metrics             *metrics
}

func NewAPIServer(opts Options, registrars ...RouteRegistrar) *APIServer {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	return &APIServer{
		listenAddr:          opts.ListenAddr,
		requestQueueManager: opts.Queue,
		sessions:            opts.Sessions,
		issuer:              opts.Issuer,
		log:                 opts.Logger,
		cors:                middleware.DefaultCORSConfig(opts.AllowedOrigins),
		routeRegistrars:     registrars,
		metrics:             newMetrics(opts.Registerer, opts.Gatherer, opts.Queue),
	}
}

// Routes builds the instrumented handler with every registered route and /metrics.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()

	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}

	mux.Handle("/metrics", s.metrics.handler())

	return s.metrics.instrument(mux)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *APIServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api", "server listening", map[string]interface{}{"addr": s.listenAddr})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("api", "server stopped", nil)
	return nil
}

func (s *APIServer) Sessions() *session.Service {
	return s.sessions
}

func (s *APIServer) Issuer() *internaljwt.Issuer {
	return s.issuer
}

func (s *APIServer) Logger() logger.ILogger {
	return s.log
}
