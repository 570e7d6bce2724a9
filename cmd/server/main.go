package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vault_chat/internal/config"
	"vault_chat/internal/handler"
	"vault_chat/internal/metrics"
	"vault_chat/internal/middleware"
	"vault_chat/internal/notify"
	"vault_chat/internal/repository"
	"vault_chat/internal/service"
	"vault_chat/internal/store"
	"vault_chat/internal/store/memstore"
	"vault_chat/internal/store/miniostore"
	"vault_chat/internal/store/pgstore"
	"vault_chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)
	ctx := context.Background()

	if cfg.Telemetry.Enabled {
		shutdown, err := initOTEL(ctx, cfg)
		if err != nil {
			appLogger.Fatal("Failed to init telemetry", "error", err)
		}
		defer func() {
			c, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_ = shutdown(c)
		}()
	}

	// Redis обязателен для postgres-хранилища, в памяти - только для лимитов
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Fatal("Failed to connect to Redis", "error", err)
		}
		appLogger.Info("Redis connection established")
	}

	docs, closeDocs, err := openDocumentStore(ctx, cfg, rdb, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to open document store", "error", err)
	}
	defer closeDocs()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to open blob storage", "error", err)
	}
	appLogger.Info("Storage ready", "store", cfg.Store.Backend, "storage", cfg.Storage.Backend)

	publisher := notify.NewNopPublisher()
	if cfg.Kafka.Enabled {
		publisher = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, appLogger)
		appLogger.Info("Kafka publisher enabled", "topic", cfg.Kafka.Topic)
	}
	defer publisher.Close()

	appMetrics := metrics.New(prometheus.DefaultRegisterer)

	// Инициализация репозиториев
	repos := repository.NewRepositories(docs, blobs, rdb, appLogger)

	// Инициализация сервисов
	services := service.NewServices(repos, publisher, appMetrics, cfg, appLogger)
	defer services.Sessions.Close()

	// Инициализация middleware
	authMiddleware := middleware.NewAuthMiddleware(services.Auth, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)

	// Инициализация handlers
	handlers := handler.NewHandlers(services, cfg, appLogger)

	// Настройка роутера
	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	// Запуск HTTP сервера. WriteTimeout не задается: websocket-соединения живут долго.
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     otelhttp.NewHandler(router, cfg.Telemetry.ServiceName),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Сначала закрываем сессии: websocket-клиенты получают close-фрейм и отключаются.
	services.Sessions.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func openDocumentStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, log logger.Logger) (store.DocumentStore, func(), error) {
	if cfg.Store.Backend == config.StoreBackendMemory {
		docs := memstore.New()
		if cfg.Store.SeedFile != "" {
			n, err := seedUsers(docs, cfg.Store.SeedFile)
			if err != nil {
				return nil, nil, fmt.Errorf("seed users: %w", err)
			}
			log.Info("Users seeded", "count", n, "file", cfg.Store.SeedFile)
		}
		return docs, func() {}, nil
	}

	// Подключение к PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	// Проверка подключения к БД
	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info("Database connection established")

	docs := pgstore.New(dbPool, rdb, cfg.Store.ResyncInterval, log)
	if err := docs.Migrate(ctx); err != nil {
		dbPool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return docs, dbPool.Close, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config) (store.BlobStore, error) {
	if cfg.Storage.Backend == config.StorageBackendMemory {
		return memstore.NewBlobs(), nil
	}

	blobs, err := miniostore.New(miniostore.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		URLTTL:    cfg.Storage.URLTTL,
	})
	if err != nil {
		return nil, err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return blobs, nil
}

func initOTEL(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Telemetry.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.Telemetry.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	))
	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	// Health check
	router.GET("/health", handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware.RequireAuth())
	{
		v1.POST("/auth/logout", handlers.Auth.Logout)
		v1.GET("/users/me", handlers.User.GetMe)

		chats := v1.Group("/chats")
		{
			chats.GET("", handlers.Chat.List)
			chats.PUT("/active", handlers.Chat.SetActive)
			chats.DELETE("/active", handlers.Chat.ClearActive)
			chats.GET("/:peerId/messages", handlers.Chat.GetMessages)
			chats.POST("/:peerId/messages", rateLimitMiddleware.Limit("messages"), handlers.Chat.SendMessage)
			chats.POST("/:peerId/read", handlers.Chat.MarkRead)
		}

		stories := v1.Group("/stories")
		{
			stories.GET("", handlers.Story.List)
			stories.POST("", rateLimitMiddleware.Limit("stories"), handlers.Story.Create)
			stories.DELETE("/:id", handlers.Story.Delete)
			stories.POST("/:id/views", handlers.Story.RecordView)
		}
	}

	// WebSocket: живые обновления сессии
	router.GET("/ws", authMiddleware.RequireAuth(), handlers.WebSocket.HandleStream)

	return router
}
