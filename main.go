package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"nexchat-service/internal/config"
	"nexchat-service/internal/db"
	"nexchat-service/internal/dispatcher"
	"nexchat-service/internal/docstore"
	"nexchat-service/internal/friends"
	grpcserver "nexchat-service/internal/grpc"
	"nexchat-service/internal/handlers"
	"nexchat-service/internal/idempotency"
	"nexchat-service/internal/ledger"
	"nexchat-service/internal/logging"
	"nexchat-service/internal/middleware"
	"nexchat-service/internal/nex"
	"nexchat-service/internal/observability"
	"nexchat-service/internal/presence"
	"nexchat-service/internal/push"
	"nexchat-service/internal/rabbitmq"
	"nexchat-service/internal/repositories"
	"nexchat-service/internal/session"
	"nexchat-service/internal/telemetry"
	"nexchat-service/internal/triggers"
	"nexchat-service/internal/typing"
	"nexchat-service/internal/users"
	"nexchat-service/internal/ws"
)

const (
	serviceName     = "nexchat-service"
	auditRoutingKey = "audit_logs.nexchat"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format, serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
		shutdownTracer = func(context.Context) error { return nil }
	}

	clk := clockwork.NewRealClock()
	store, closeStore := openStore(ctx, cfg, clk, logger)
	defer closeStore()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, serviceName, cfg.Server.Env, logger)

	dir := users.NewDirectory(store)
	errCh := make(chan error, 4)
	var wg sync.WaitGroup

	var grpcSrv *grpcserver.Server
	if cfg.RunsDispatcher() {
		grpcSrv = runDispatcher(ctx, cfg, store, dir, clk, audit, logger, &wg, errCh)
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName), observability.HTTPMetricsMiddleware())
	handlers.RegisterHealthRoutes(router, cfg.Server.Mode, rabbitmq.PublisherMode(publisher))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var (
		hub      *ws.Hub
		workflow *friends.Workflow
	)
	if cfg.RunsGateway() {
		hub, workflow = registerGateway(router, cfg, store, dir, clk, publisher, audit, logger)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Device-Id", "X-Request-Id"},
	}).Handler(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("mode", cfg.Server.Mode).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("component failed, shutting down")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if hub != nil {
		hub.CloseAll()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if workflow != nil {
		workflow.Close()
	}
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	wg.Wait()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown")
	}
}

func openStore(ctx context.Context, cfg *config.Config, clk clockwork.Clock, logger zerolog.Logger) (docstore.Store, func()) {
	if cfg.Store.Backend == config.StoreFirestore {
		fs, err := docstore.OpenFirestore(ctx, cfg.Store.ProjectID)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open firestore")
		}
		logger.Info().Str("project_id", cfg.Store.ProjectID).Msg("document store on firestore")
		return fs, func() { _ = fs.Close() }
	}
	logger.Info().Msg("document store in memory")
	return docstore.NewMemory(clk), func() {}
}

func openLocalState(cfg *config.Config, logger zerolog.Logger) repositories.LocalStateRepository {
	if cfg.Database.DSN == "" {
		return repositories.NewMemoryLocalState()
	}
	database, err := db.Connect(cfg.Database.DSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to db")
	}
	return repositories.NewLocalStateRepo(database)
}

func openGuard(ctx context.Context, cfg *config.Config, clk clockwork.Clock, logger zerolog.Logger) idempotency.Guard {
	if cfg.Redis.URL == "" {
		return idempotency.NewMemoryGuard(clk, cfg.Redis.TTL)
	}
	client, err := idempotency.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, event guard in memory")
		return idempotency.NewMemoryGuard(clk, cfg.Redis.TTL)
	}
	return idempotency.NewRedisGuard(client, "nexchat:", cfg.Redis.TTL)
}

func openPush(ctx context.Context, cfg *config.Config, logger zerolog.Logger) push.Sender {
	if cfg.Push.Backend == config.PushFCM {
		sender, err := push.NewFCMSender(ctx, cfg.Store.ProjectID)
		if err == nil {
			return sender
		}
		logger.Warn().Err(err).Msg("fcm unavailable, logging pushes instead")
	}
	return push.NewLogSender(logger)
}

func runDispatcher(
	ctx context.Context,
	cfg *config.Config,
	store docstore.Store,
	dir *users.Directory,
	clk clockwork.Clock,
	audit *telemetry.AuditEmitter,
	logger zerolog.Logger,
	wg *sync.WaitGroup,
	errCh chan<- error,
) *grpcserver.Server {
	bus := rabbitmq.NewTriggerBus(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Queue, logger)
	d := dispatcher.New(dispatcher.Deps{
		Store:          store,
		Users:          dir,
		Push:           openPush(ctx, cfg, logger),
		Guard:          openGuard(ctx, cfg, clk, logger),
		Clock:          clk,
		Audit:          audit,
		Log:            logger,
		TypingCooldown: cfg.Chat.TypingPushCooldown,
		Sound:          cfg.Push.Sound,
	})
	watcher := triggers.NewWatcher(store, bus, triggers.DefaultSources(), logger)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		defer bus.Close()
		if err := bus.Consume(ctx, d.Handle); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	grpcSrv := grpcserver.NewServer(logger)
	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to listen for grpc")
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	go func() {
		select {
		case <-watcher.Ready():
			grpcSrv.SetServing(true)
		case <-ctx.Done():
		}
	}()
	return grpcSrv
}

func registerGateway(
	router *gin.Engine,
	cfg *config.Config,
	store docstore.Store,
	dir *users.Directory,
	clk clockwork.Clock,
	publisher rabbitmq.Publisher,
	audit *telemetry.AuditEmitter,
	logger zerolog.Logger,
) (*ws.Hub, *friends.Workflow) {
	local := openLocalState(cfg, logger)
	verifier := middleware.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Expiration)

	deps := session.Deps{
		Presence: presence.NewTracker(store, logger),
		Typing:   typing.NewService(store, clk, cfg.Chat.TypingIdleTimeout, logger),
		Ledger:   ledger.New(store, logger),
		Nex:      nex.NewService(store, logger),
		Log:      logger,
	}
	workflow := friends.NewWorkflow(store, dir, clk, cfg.Chat.FriendRequestGrace, logger)
	popups := friends.NewPopupWatcher(store, dir, local, logger)
	hub := ws.NewHub(publisher, logger)

	chatHandler := handlers.NewChatHandler(dir, deps.Ledger, deps.Presence, deps.Nex, audit, logger)
	friendHandler := handlers.NewFriendHandler(workflow, audit)
	userHandler := handlers.NewUserHandler(dir)
	handlers.RegisterRoutes(router, middleware.AuthMiddleware(verifier), chatHandler, friendHandler, userHandler)

	router.GET("/ws/chats/:peer_id", ws.NewChatWebSocketHandler(hub, deps, verifier, local).Handle)
	router.GET("/ws/home", ws.NewHomeWebSocketHandler(hub, popups, verifier, logger).Handle)

	handlers.RegisterDebugRoutes(router, audit, local, cfg.Server.DebugRoutes)
	if cfg.Server.DebugRoutes {
		router.POST("/debug/token/:user_id", func(c *gin.Context) {
			token, err := verifier.Issue(c.Param("user_id"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
	}
	logger.Info().Str("amqp_mode", rabbitmq.PublisherMode(publisher)).Str("amqp_noop_reason", rabbitmq.PublisherNoopReason(publisher)).Msg("gateway ready")
	return hub, workflow
}
