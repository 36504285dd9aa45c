package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/familyportal/devicelink/internal/config"
	"github.com/familyportal/devicelink/internal/database"
	"github.com/familyportal/devicelink/internal/handler"
	"github.com/familyportal/devicelink/internal/jobs"
	"github.com/familyportal/devicelink/internal/middleware"
	"github.com/familyportal/devicelink/internal/redis"
	"github.com/familyportal/devicelink/internal/repository"
	"github.com/familyportal/devicelink/internal/service"
	"github.com/familyportal/devicelink/internal/telemetry"
	"github.com/familyportal/devicelink/internal/util"
	"github.com/familyportal/devicelink/internal/verifier"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	isProduction := config.IsProduction()
	setupLogger(cfg.LogFormat, cfg.LogLevel)

	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), telemetry.Config{
		ServiceName: config.ServiceName,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Error().Err(err).Msg("failed to flush traces")
		}
	}()

	sealer, err := util.NewSealer(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}

	lifetimes := repository.Lifetimes{
		PendingTTL:  cfg.PendingTTL,
		LinkedGrace: cfg.LinkedGrace,
	}

	var (
		pairingCodeRepo repository.PairingCodeRepository
		limiter         service.Limiter
		closers         []io.Closer
	)

	switch cfg.StoreBackend {
	case config.StoreRedis:
		ctx, cancel := context.WithTimeout(context.Background(), config.StorePingTimeout)
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		closers = append(closers, redisClient)
		log.Info().Msg("redis connected")

		pairingCodeRepo = repository.NewRedisPairingCodeRepository(redisClient.Client, sealer, lifetimes)
		limiter = service.NewRedisRateLimiter(redisClient.Client)

	case config.StorePostgres:
		db, err := database.ConnectAndMigrate(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		closers = append(closers, db)

		ctx, cancel := context.WithTimeout(context.Background(), config.StorePingTimeout)
		err = db.Ping(ctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		log.Info().Msg("database connected")

		pairingCodeRepo = repository.NewPostgresPairingCodeRepository(db, sealer, lifetimes)
		limiter = service.NewMemoryRateLimiter()

	default:
		pairingCodeRepo = repository.NewMemoryPairingCodeRepository(lifetimes)
		limiter = service.NewMemoryRateLimiter()
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	log.Info().Str("backend", cfg.StoreBackend).Msg("pairing store ready")

	tokenVerifier := verifier.NewGoogleVerifier(verifier.GoogleConfig{
		Endpoint: cfg.GoogleAPIEndpoint,
		Timeout:  cfg.VerifierTimeout,
	})

	pairingService := service.NewPairingService(pairingCodeRepo, tokenVerifier, service.PairingConfig{
		CodeLength:   cfg.CodeLength,
		PendingTTL:   cfg.PendingTTL,
		LinkedGrace:  cfg.LinkedGrace,
		PollInterval: cfg.PollInterval,
	})

	createLimit := middleware.NewIPRateLimitMiddleware(limiter, cfg.CreateRateLimitPerMin, config.RateLimitWindow, "create")
	linkLimit := middleware.NewIPRateLimitMiddleware(limiter, cfg.LinkRateLimitPerMin, config.RateLimitWindow, "link")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	deviceCodeHandler := handler.NewDeviceCodeHandler(pairingService, createLimit.Handler, linkLimit.Handler)
	healthHandler := handler.NewHealthHandler(pairingCodeRepo, cfg.StoreBackend, config.StorePingTimeout)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Method(http.MethodGet, "/health", healthHandler)

	r.Mount("/api/device-code", deviceCodeHandler.Routes())
	r.Mount("/.netlify/functions/device-code", deviceCodeHandler.Routes())

	cleanupJob := jobs.NewCleanupJob(pairingCodeRepo, cfg.SweepInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      otelhttp.NewHandler(r, "devicelink"),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// setupLogger switches to JSON lines for log shippers and applies the level.
func setupLogger(format, level string) {
	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	setLogLevel(level)
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
