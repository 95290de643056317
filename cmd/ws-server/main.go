package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chat-sync/internal/api"
	"chat-sync/internal/api/router"
	"chat-sync/internal/database"
	"chat-sync/internal/env"
	internaljwt "chat-sync/internal/jwt"
	"chat-sync/internal/logger"
	"chat-sync/internal/service/session"
	"chat-sync/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := env.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl := logger.NewZapLogger(cfg.LogFile, cfg.Production)
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(ctx, cfg)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	issuer, err := internaljwt.NewIssuer(cfg.TokenSecret, internaljwt.DefaultTTL)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	redisClient := websocket.NewRedisClient(cfg.ChatRedisURL, cfg.ChatRedisPass)
	defer redisClient.Close()
	broker := websocket.NewRedisBroker(redisClient, "")

	// The gateway only authorizes joins; it never writes through the service.
	sessions := session.New(db, websocket.NewPublisher(broker), session.Options{Logger: zl})

	hub := websocket.NewHub(prometheus.DefaultRegisterer)
	go hub.Run(ctx)

	handler := websocket.NewHandler(hub, broker, sessions, issuer, websocket.HandlerOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         zl,
	})
	go func() {
		if err := handler.Run(ctx); err != nil && ctx.Err() == nil {
			zl.Error("main", "broker subscription ended", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	server := api.NewAPIServer(
		api.Options{
			ListenAddr:     cfg.WSListenAddr,
			Issuer:         issuer,
			Logger:         zl,
			AllowedOrigins: cfg.AllowedOrigins,
		},
		router.UtilsRoutes("/api/ws/v1"),
		router.WebsocketRoutes("/api/ws/v1", handler),
	)

	if err := server.Run(ctx); err != nil {
		zl.Error("main", "websocket server failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
