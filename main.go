package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"staff-chat/internal/auth"
	"staff-chat/internal/config"
	"staff-chat/internal/db"
	grpcserver "staff-chat/internal/grpc"
	"staff-chat/internal/handlers"
	"staff-chat/internal/logger"
	"staff-chat/internal/middleware"
	"staff-chat/internal/models"
	"staff-chat/internal/observability"
	"staff-chat/internal/rabbitmq"
	"staff-chat/internal/realtime"
	"staff-chat/internal/repositories"
	"staff-chat/internal/services"
	"staff-chat/internal/telemetry"
	"staff-chat/internal/ws"
)

const serviceName = "staff-chat"

type stores struct {
	participants  repositories.ParticipantRepository
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	watermarks    repositories.WatermarkRepository
	database      *sqlx.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.Bootstrap()
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	if st.database != nil {
		defer st.database.Close()
	}

	checks := map[string]handlers.Check{}
	if st.database != nil {
		checks["postgres"] = st.database.PingContext
	}

	var (
		broker   realtime.Broker
		verifier auth.SessionVerifier
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("parse redis url")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		broker = realtime.NewRedisBroker(client, log)
		verifier = auth.NewRedisSessions(client)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		log.Info().Msg("using redis push channel and session store")
	} else {
		broker = realtime.NewLocalBroker()
		verifier = auth.StaticSessions(cfg.SessionTokens())
		log.Info().Int("sessions", len(cfg.SessionTokens())).Msg("using in-process push channel and static sessions")
	}
	defer broker.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("noop_reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, serviceName, cfg.Env, log)

	svc := services.NewChatService(services.Deps{
		Participants:  st.participants,
		Conversations: st.conversations,
		Messages:      st.messages,
		Watermarks:    st.watermarks,
		Broker:        broker,
		Audit:         audit,
		Log:           log,
		RecentLimit:   cfg.RecentMessageLimit,
	})

	hub := ws.NewHub(broker, log)
	defer hub.Close()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.RequestLogger(log),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/healthz", handlers.Health(checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/conversations/:conversation_id", ws.NewConversationWebSocketHandler(hub, svc, verifier, log).Handle)

	api := router.Group("/", middleware.AuthMiddleware(verifier))
	handlers.NewChatHandler(svc, log).Register(api)
	handlers.RegisterDebugRoutes(api, audit, cfg.DebugRoutes)

	healthServer := grpcserver.NewHealthServer(checks, log)
	go healthServer.Watch(ctx, 10*time.Second)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("listen grpc")
	}
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Str("grpc_port", cfg.GRPCPort).Str("store", cfg.StoreDriver).Msg("staff chat listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	healthServer.GracefulStop()
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		mem := repositories.NewMemoryStore(time.Now)
		for _, id := range cfg.SessionTokens() {
			mem.AddParticipant(models.Participant{ID: id, DisplayName: id, Active: true})
		}
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return stores{participants: mem, conversations: mem, messages: mem, watermarks: mem}, nil
	}

	database, err := db.Connect(ctx, cfg.DBDSN, log)
	if err != nil {
		return stores{}, err
	}
	return stores{
		participants:  repositories.NewParticipantRepo(database),
		conversations: repositories.NewConversationRepo(database),
		messages:      repositories.NewMessageRepo(database),
		watermarks:    repositories.NewWatermarkRepo(database),
		database:      database,
	}, nil
}
