package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chat-sync/internal/api"
	"chat-sync/internal/api/router"
	"chat-sync/internal/env"
	internaljwt "chat-sync/internal/jwt"
	"chat-sync/internal/logger"
	"chat-sync/internal/queue"
	"chat-sync/internal/service/session"
	"chat-sync/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
)

// dev-server runs the REST api and the websocket gateway in one process on
// top of the in-memory repository.
func main() {
	cfg, err := env.LoadDev()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl := logger.NewZapLogger(cfg.LogFile, false)
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	issuer, err := internaljwt.NewIssuer(cfg.TokenSecret, internaljwt.DefaultTTL)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	broker := websocket.NewLocalBroker()
	sessions := session.NewWithRepository(session.NewMemoryRepository(), websocket.NewPublisher(broker), session.Options{
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         zl,
	})

	hub := websocket.NewHub(prometheus.DefaultRegisterer)
	go hub.Run(ctx)

	gateway := websocket.NewHandler(hub, broker, sessions, issuer, websocket.HandlerOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         zl,
	})
	go gateway.Run(ctx)

	server := api.NewAPIServer(
		api.Options{
			ListenAddr:     cfg.ListenAddr,
			Queue:          queue.NewRequestQueueManager(10, 10, zl),
			Sessions:       sessions,
			Issuer:         issuer,
			Logger:         zl,
			AllowedOrigins: cfg.AllowedOrigins,
		},
		router.UtilsRoutes("/api/v1"),
		router.SessionRoutes("/api/v1"),
		router.WebsocketRoutes("/api/ws/v1", gateway),
	)

	zl.Info("main", "dev server ready", map[string]interface{}{
		"api":       "http://localhost" + cfg.ListenAddr + "/api/v1",
		"websocket": "ws://localhost" + cfg.ListenAddr + "/api/ws/v1/channel",
	})
	if err := server.Run(ctx); err != nil {
		zl.Error("main", "dev server failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
