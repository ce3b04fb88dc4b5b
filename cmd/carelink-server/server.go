package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ehr/carelink/internal/config"
	"github.com/ehr/carelink/internal/domain/chat"
	"github.com/ehr/carelink/internal/domain/notification"
	"github.com/ehr/carelink/internal/domain/pharmacy"
	"github.com/ehr/carelink/internal/domain/user"
	"github.com/ehr/carelink/internal/platform/auth"
	"github.com/ehr/carelink/internal/platform/changefeed"
	"github.com/ehr/carelink/internal/platform/db"
	"github.com/ehr/carelink/internal/platform/middleware"
	"github.com/ehr/carelink/internal/platform/mongostore"
	"github.com/ehr/carelink/internal/platform/websocket"
	"github.com/ehr/carelink/migrations"
)

const version = "0.1.0"

// store bundles the repositories and change source of one storage driver.
type store struct {
	driver        string
	chats         chat.Repository
	notifications notification.Repository
	users         user.Repository
	requests      pharmacy.Repository
	source        changefeed.Source
	health        echo.HandlerFunc
	close         func()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		database := client.Database(cfg.MongoDatabase)
		if err := mongostore.EnsureIndexes(ctx, database); err != nil {
			logger.Warn().Err(err).Msg("failed to ensure mongo indexes")
		}
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to mongo")
		return &store{
			driver:        config.StoreMongo,
			chats:         chat.NewRepoMongo(database),
			notifications: notification.NewRepoMongo(database),
			users:         user.NewRepoMongo(database),
			requests:      pharmacy.NewRepoMongo(database),
			source:        changefeed.NewMongoSource(database),
			health:        mongostore.HealthHandler(client),
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(ctx)
			},
		}, nil

	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		n, err := db.NewMigrator(pool, migrations.FS).Up(ctx, "public")
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info().Int("applied", n).Msg("connected to postgres")
		return &store{
			driver:        config.StorePostgres,
			chats:         chat.NewRepoPG(pool),
			notifications: notification.NewRepoPG(pool),
			users:         user.NewRepoPG(pool),
			requests:      pharmacy.NewRepoPG(pool),
			source:        changefeed.NewPgSource(pool),
			health:        db.HealthHandler(pool, "public"),
			close:         pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
}

func openBackplane(cfg *config.Config, logger zerolog.Logger) (websocket.Backplane, error) {
	switch cfg.Backplane {
	case config.BackplaneRedis:
		return websocket.NewRedisBackplane(cfg.RedisURL, "", logger)
	case config.BackplaneNATS:
		return websocket.NewNATSBackplane(cfg.NATSURL, "", logger)
	}
	return nil, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// realtimeHealth reports presence counters and change-feed capability.
func realtimeHealth(hub *websocket.Hub, bridge *changefeed.Bridge) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"connections": hub.ClientCount(),
			"users":       hub.Registry().UserCount(),
			"rooms":       hub.RoomCount(),
			"changeFeed": map[string]interface{}{
				"available": bridge.Available(),
				"entities":  bridge.Status(),
			},
		})
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to connect to store")
	}
	defer st.close()

	// Presence and fan-out
	hub := websocket.NewHub(websocket.NewRegistry(), logger)
	publisher := websocket.NewPublisher(hub, websocket.DefaultEventTable(cfg.WSLegacyEvents))

	bp, err := openBackplane(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backplane", cfg.Backplane).Msg("failed to open backplane")
	}
	if bp != nil {
		if err := hub.AttachBackplane(ctx, bp); err != nil {
			logger.Fatal().Err(err).Msg("failed to attach backplane")
		}
		defer bp.Close()
		logger.Info().Str("backplane", cfg.Backplane).Msg("backplane attached")
	}

	// Domain services
	verifier := newVerifier(cfg)
	directory := user.NewDirectory(st.users, logger)

	dispatcher := notification.NewDispatcher(st.notifications, publisher, directory, logger)
	notificationSvc := notification.NewService(st.notifications, dispatcher)

	chatSvc := chat.NewService(st.chats, st.requests, publisher, dispatcher, directory, logger)
	gateway := chat.NewGateway(hub, chatSvc, st.requests, verifier, directory,
		chat.GatewayOptions{DevMode: cfg.ResolvedAuthMode() == "development"}, logger)

	router := websocket.NewRouter(hub)
	gateway.Register(router)

	bridge := changefeed.NewBridge(st.source, hub, logger, changefeed.WithSettleDelay(cfg.ChangefeedSettleDelay))

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.DevUserHeader, auth.DevRoleHeader},
	}))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	wsHandler := websocket.NewWebSocketHandler(ctx, hub, router, websocket.HandlerOptions{
		AllowedOrigins: cfg.CORSOrigins,
		SendRate:       rate.Limit(cfg.ChatSendRPS),
		SendBurst:      cfg.ChatSendBurst,
	}, logger)
	wsHandler.RegisterRoutes(e)

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.ResolvedAuthMode() == "development" {
		apiV1.Use(auth.DevAuthMiddleware(verifier))
	} else {
		apiV1.Use(auth.JWTMiddleware(verifier))
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	chat.NewHandler(chatSvc).RegisterRoutes(apiV1)
	notification.NewHandler(notificationSvc).RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/store", st.health)
	e.GET("/health/realtime", realtimeHealth(hub, bridge))

	bridge.Start(ctx)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", st.driver).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	hub.CloseAll()
	bridge.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
