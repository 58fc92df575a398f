package handler

import (
	"errors"
	"mime"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/dopaminelite/filestorage/internal/domain"
	"github.com/dopaminelite/filestorage/internal/repository"
)

// TokenResolver turns a signed URL token into the file it grants
type TokenResolver interface {
	Resolve(token string) (string, domain.SignedURLIntent, error)
}

// RawFileHandler serves bytes behind local signed URLs
type RawFileHandler struct {
	resolver TokenResolver
	log      zerolog.Logger
}

func NewRawFileHandler(resolver TokenResolver, log zerolog.Logger) *RawFileHandler {
	return &RawFileHandler{resolver: resolver, log: log}
}

// Serve handles GET /api/v1/files/raw?token=
func (h *RawFileHandler) Serve(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return badRequest(c, "token is required", "token")
	}

	path, intent, err := h.resolver.Resolve(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("rejected signed url token")
		return c.Status(fiber.StatusForbidden).JSON(ErrorBody{Error: ErrorDetail{
			Code:    "FORBIDDEN",
			Message: "signed url is invalid or has expired",
		}})
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorBody{Error: ErrorDetail{
				Code:    string(domain.KindNotFound),
				Message: "file content not found",
			}})
		}
		h.log.Error().Err(err).Str("path", path).Msg("failed to open stored file")
		return writeError(c, domain.NewStorageError("failed to read stored file", err))
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return writeError(c, domain.NewStorageError("failed to read stored file", err))
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, repository.ContentDisposition(intent, filepath.Base(path)))
	c.Set(fiber.HeaderCacheControl, "private, no-store")
	c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
	c.Set(fiber.HeaderContentSecurityPolicy, "default-src 'none'; sandbox")

	// fasthttp closes the stream once the body is written
	return c.SendStream(f, int(info.Size()))
}
