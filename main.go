package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"relay-service/internal/config"
	"relay-service/internal/conversation"
	"relay-service/internal/db"
	"relay-service/internal/handlers"
	"relay-service/internal/middleware"
	"relay-service/internal/observability"
	"relay-service/internal/rabbitmq"
	"relay-service/internal/repositories"
	"relay-service/internal/sweeper"
	"relay-service/internal/telemetry"
	"relay-service/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := observability.InitTracer(ctx, "relay-service", cfg.TracingEndpoint)
		if err != nil {
			log.Printf("tracing disabled: %v", err)
		} else {
			defer observability.ShutdownTracer(context.Background(), tp)
		}
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	if cfg.AMQPURL != "" {
		eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("event publishing disabled: %v", err)
		} else {
			observability.SetPublisher(eventPublisher)
			defer eventPublisher.Close()
		}
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AuditExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, "audit.relay", "relay-service", cfg.Environment)

	messageRepo := repositories.NewMessageRepo(database)
	aggregator := conversation.NewAggregator(messageRepo)
	hub := ws.NewHub()

	relayHandler := handlers.NewRelayHandler(messageRepo, aggregator, hub)
	healthHandler := handlers.NewHealthHandler(database)
	relayWS := ws.NewRelayWebSocketHandler(hub)

	retentionSweeper := sweeper.New(messageRepo, auditEmitter, cfg.SweepInterval, cfg.RetentionHorizon)
	go retentionSweeper.Run(ctx)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware("relay-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.POST("/api/messages", relayHandler.SubmitMessage)
	router.GET("/api/chats/:user_id", relayHandler.ListConversations)
	router.GET("/api/chats/:user_id/:peer_id/messages", relayHandler.GetTranscript)
	router.PUT("/api/messages/read/:user_id/:peer_id", relayHandler.MarkRead)
	router.DELETE("/api/messages/:message_id", relayHandler.DeleteMessage)
	router.DELETE("/api/chats/:user_id/:peer_id", relayHandler.DeleteConversation)

	router.GET("/ws", relayWS.Handle)
	router.GET("/healthz", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("relay service listening on :%s", cfg.Port)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}
