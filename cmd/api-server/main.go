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
	"chat-sync/internal/queue"
	"chat-sync/internal/service/session"
	"chat-sync/internal/websocket"
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
	publisher := websocket.NewPublisher(websocket.NewRedisBroker(redisClient, ""))

	sessions := session.New(db, publisher, session.Options{
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         zl,
	})

	queueManager := queue.NewRequestQueueManager(cfg.QueueSize, cfg.QueueWorkers, zl)

	server := api.NewAPIServer(
		api.Options{
			ListenAddr:     cfg.ListenAddr,
			Queue:          queueManager,
			Sessions:       sessions,
			Issuer:         issuer,
			Logger:         zl,
			AllowedOrigins: cfg.AllowedOrigins,
		},
		router.UtilsRoutes("/api/v1"),
		router.SessionRoutes("/api/v1"),
	)

	if err := server.Run(ctx); err != nil {
		zl.Error("main", "api server failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
