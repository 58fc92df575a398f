package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dopaminelite/filestorage/internal/config"
	"github.com/dopaminelite/filestorage/internal/domain"
	"github.com/dopaminelite/filestorage/internal/handler"
	"github.com/dopaminelite/filestorage/internal/logger"
	"github.com/dopaminelite/filestorage/internal/middleware"
	"github.com/dopaminelite/filestorage/internal/repository"
	"github.com/dopaminelite/filestorage/internal/service"
	"github.com/dopaminelite/filestorage/internal/telemetry"
)

const (
	idempotencyTTL = 24 * time.Hour
	// multipart framing on top of the file bytes
	bodyLimitHeadroom = 1024 * 1024
)

// AppDependencies holds the dependencies required to start the application
type AppDependencies struct {
	Config  *config.Config
	Files   domain.FileRepository
	Storage domain.StorageProvider
	// RedisClient is optional; nil disables the record cache and upload replay
	RedisClient *redis.Client
	Logger      zerolog.Logger
	// AccessLog enables fiber's request logger
	AccessLog bool
}

// NewApp creates and configures the Fiber application with the given dependencies
func NewApp(deps AppDependencies) *fiber.App {
	cfg := deps.Config
	log := deps.Logger

	files := deps.Files
	if deps.RedisClient != nil {
		files = repository.NewCachedFileRepository(files,
			repository.NewRedisCacheRepository(deps.RedisClient),
			logger.Component(log, "file_cache"))
	}

	fileService := service.NewFileService(files, deps.Storage, cfg.SignedURL, log)
	fileHandler := handler.NewFileHandler(fileService, cfg.Server.MaxUploadSizeMB, logger.Component(log, "file_handler"))

	app := fiber.New(fiber.Config{
		AppName:      "DopamineLite File Storage",
		BodyLimit:    int(cfg.Server.MaxUploadSizeMB*1024*1024) + bodyLimitHeadroom,
		ErrorHandler: errorHandler(log),
	})

	// Global middleware
	app.Use(recover.New())
	if deps.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(telemetry.FiberMiddleware("/health"))
	app.Use(cors.New(corsConfig(cfg.CORS)))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "healthy",
			"service":     "file-storage",
			"storage":     deps.Storage.Name(),
			"recordStore": cfg.RecordStore,
		})
	})

	v1 := app.Group("/api/v1/files")

	// registered before /:fileId so the literal segment wins
	if resolver, ok := deps.Storage.(handler.TokenResolver); ok {
		rawHandler := handler.NewRawFileHandler(resolver, logger.Component(log, "raw_handler"))
		app.Get(repository.RawFilePath, rawHandler.Serve)
	}

	v1.Post("/", middleware.Idempotency(deps.RedisClient, idempotencyTTL, log), fileHandler.Upload)
	v1.Get("/", fileHandler.List)
	v1.Post("/signed-urls", fileHandler.SignBulk)
	v1.Get("/:fileId", fileHandler.Get)
	v1.Delete("/:fileId", fileHandler.Delete)
	v1.Get("/:fileId/signed-url", fileHandler.SignOne)

	return app
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	origins := strings.Join(cfg.AllowedOrigins, ",")
	return cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS, PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, " + middleware.IdempotencyKeyHeader,
		ExposeHeaders:    "Content-Disposition, Content-Type, Content-Length, Authorization",
		// fiber refuses credentials with a wildcard origin
		AllowCredentials: !strings.Contains(origins, "*"),
		MaxAge:           3600,
	}
}

// errorHandler renders errors that escape handlers (unknown routes, oversized bodies, panics)
func errorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		kind := domain.KindInternal
		message := "internal server error"
		switch {
		case code == fiber.StatusNotFound:
			kind, message = domain.KindNotFound, fe.Message
		case code >= 400 && code < 500:
			kind, message = domain.KindBadRequest, fe.Message
		default:
			log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		}

		return c.Status(code).JSON(handler.ErrorBody{Error: handler.ErrorDetail{
			Code:    string(kind),
			Message: message,
		}})
	}
}
