package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"github.com/dopaminelite/filestorage/internal/config"
	"github.com/dopaminelite/filestorage/internal/domain"
	"github.com/dopaminelite/filestorage/internal/logger"
	"github.com/dopaminelite/filestorage/internal/repository"
	"github.com/dopaminelite/filestorage/internal/server"
	"github.com/dopaminelite/filestorage/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Log, cfg.OTEL.ServiceName)
	log.Info().
		Str("storage", cfg.Storage.Provider).
		Str("record_store", cfg.RecordStore).
		Msg("starting file storage service")

	ctx := context.Background()

	otelProvider, err := telemetry.Initialize(ctx, cfg.OTEL, logger.Component(log, "telemetry"))
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize OpenTelemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	files, closeStore := openRecordStore(ctx, cfg, log)
	defer closeStore()

	// Redis is optional; without it records are read uncached and uploads are not replayed
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	}

	storage, err := repository.NewStorageProvider(ctx, cfg.Storage, logger.Component(log, "storage"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage provider")
	}
	log.Info().Str("provider", storage.Name()).Msg("storage provider ready")

	app := server.NewApp(server.AppDependencies{
		Config:      cfg,
		Files:       files,
		Storage:     storage,
		RedisClient: redisClient,
		Logger:      log,
		AccessLog:   true,
	})

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("shutting down gracefully")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("port", cfg.Server.Port).Msg("server starting")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}

// openRecordStore connects the configured record backend and returns a close func
func openRecordStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (domain.FileRepository, func()) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.RecordStore {
	case config.RecordStorePostgres:
		if err := repository.MigratePostgres(cfg.Postgres.DatabaseURL, logger.Component(log, "migrate")); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate PostgreSQL")
		}
		pool, err := repository.ConnectPostgres(connectCtx, cfg.Postgres.DatabaseURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
		}
		return repository.NewPostgresFileRepository(pool), pool.Close

	default:
		mongoOpts := options.Client().ApplyURI(cfg.MongoDB.URI)
		if cfg.OTEL.Enabled {
			mongoOpts.SetMonitor(otelmongo.NewMonitor())
		}

		mongoClient, err := mongo.Connect(connectCtx, mongoOpts)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to MongoDB")
		}
		if err := mongoClient.Ping(connectCtx, nil); err != nil {
			log.Fatal().Err(err).Msg("failed to ping MongoDB")
		}
		log.Info().Str("database", cfg.MongoDB.Database).Msg("mongodb connected")

		repo := repository.NewMongoFileRepository(mongoClient.Database(cfg.MongoDB.Database))
		if err := repo.EnsureIndexes(connectCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to create MongoDB indexes")
		}
		return repo, func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				log.Error().Err(err).Msg("error disconnecting from MongoDB")
			}
		}
	}
}
