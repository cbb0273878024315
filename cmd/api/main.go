package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/synesthesie/imagemeta/internal/cache"
	"github.com/synesthesie/imagemeta/internal/clock"
	"github.com/synesthesie/imagemeta/internal/config"
	"github.com/synesthesie/imagemeta/internal/handlers"
	"github.com/synesthesie/imagemeta/internal/logger"
	"github.com/synesthesie/imagemeta/internal/metadata"
	"github.com/synesthesie/imagemeta/internal/metrics"
	"github.com/synesthesie/imagemeta/internal/middleware"
	"github.com/synesthesie/imagemeta/internal/models"
	"github.com/synesthesie/imagemeta/internal/repository"
	"github.com/synesthesie/imagemeta/internal/services"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	// Initialize configuration
	cfg := config.New()

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.InitGlobal(log)
	if envErr != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize store
	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}

	// Initialize Redis. It backs the rate limiters and, when selected, the
	// search cache; without it both degrade instead of failing startup.
	var redisClient redis.UniversalClient
	if cfg.CacheBackend == "redis" || cfg.RateLimitEnabled || cfg.UploadRateLimitPerDay > 0 {
		client, err := models.InitRedis(ctx, cfg, logger.Component(log, "redis"))
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, rate limiting disabled")
		} else {
			redisClient = client
			defer client.Close()
		}
	}

	cacheBackend := newCacheBackend(ctx, cfg, redisClient, m, log)
	readiness := map[string]handlers.Pinger{}
	if redisBackend, ok := cacheBackend.(*cache.RedisBackend); ok {
		readiness["cache"] = redisBackend
	}
	searchCache := cache.New(cacheBackend, cache.Config{
		ResultsTTL: cfg.CacheResultsTTL,
		CountTTL:   cfg.CacheCountTTL,
	})

	var objects services.ObjectStore
	if cfg.S3Enabled() {
		s3Store, err := services.NewS3Store(ctx, cfg, logger.Component(log, "s3"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to init S3 object store")
		}
		objects = s3Store
	} else {
		log.Warn().Msg("S3 not configured, image bytes will not be stored")
	}

	// Initialize services
	realClock := clock.RealClock{}
	metadataService := services.NewMetadataService(store, searchCache, services.MetadataOptions{
		Extractor:    metadata.NewExtractor(log),
		Objects:      objects,
		Metrics:      m,
		Clock:        realClock,
		IDs:          clock.UUIDGenerator{},
		Logger:       log,
		MaxImageSize: cfg.UploadMaxImageSize,
	})

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.AccessLog(logger.Component(log, "http"), m))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))

	// Health checks outside API group (no /api/v1 prefix)
	healthHandler := handlers.NewHealthHandler(readiness, logger.Component(log, "health"))
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	metadataHandler := handlers.NewMetadataHandler(metadataService, cfg.UploadMaxImageSize, logger.Component(log, "handlers"))

	// Setup routes
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWTSecret, logger.Component(log, "auth")))
	api.Use(middleware.RateLimiter(redisClient, cfg, log))
	{
		api.GET("/health", healthHandler.Health)
		metadataHandler.Register(api,
			middleware.RequireAuth(),
			middleware.UploadRateLimit(redisClient, cfg, realClock, log),
		)
	}

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  120 * time.Second, // large image uploads
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// openStore selects the repository named by DB_DRIVER.
func openStore(cfg *config.Config, log zerolog.Logger) (repository.Store, error) {
	if cfg.DBDriver == models.DriverMemory {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), nil
	}

	db, err := models.InitDB(cfg, logger.Component(log, "database"))
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		return nil, err
	}
	return repository.NewGormStore(db), nil
}

// newCacheBackend returns the redis backend when it is selected and
// reachable, otherwise an in-memory backend with a janitor purging expired
// entries until ctx ends.
func newCacheBackend(ctx context.Context, cfg *config.Config, redisClient redis.UniversalClient, m *metrics.Metrics, log zerolog.Logger) cache.Backend {
	if cfg.CacheBackend == "redis" {
		if redisClient != nil {
			log.Info().Msg("Search cache backed by redis")
			return cache.NewRedisBackend(redisClient, cfg.CacheKeyPrefix)
		}
		log.Warn().Msg("Redis unavailable, falling back to in-memory search cache")
	}

	backend := cache.NewMemoryBackend(cfg.CacheMaxEntries, clock.RealClock{})
	go backend.RunJanitor(ctx, cfg.CachePurgeInterval, func(n int) {
		m.CacheEntriesPurged.Add(float64(n))
	})
	return backend
}
