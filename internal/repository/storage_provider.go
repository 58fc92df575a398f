package repository

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appConfig "github.com/dopaminelite/filestorage/internal/config"
	"github.com/dopaminelite/filestorage/internal/domain"
)

// NewStorageProvider builds the blob backend selected by cfg.Provider.
// The returned provider is shared read-only for the life of the process.
func NewStorageProvider(ctx context.Context, cfg appConfig.StorageConfig, log zerolog.Logger) (domain.StorageProvider, error) {
	log.Info().Str("provider", cfg.Provider).Msg("initializing storage provider")

	switch cfg.Provider {
	case appConfig.ProviderLocal:
		return NewLocalStorage(cfg.LocalBasePath, cfg.PublicBaseURL, []byte(cfg.SigningSecret), log)
	case appConfig.ProviderS3:
		return NewS3Storage(ctx, cfg.S3, log)
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

// activeTypes run script when a browser renders them, so they are never served inline
var activeTypes = map[string]struct{}{
	"text/html":              {},
	"application/xhtml+xml":  {},
	"image/svg+xml":          {},
	"text/xml":               {},
	"application/xml":        {},
	"text/javascript":        {},
	"application/javascript": {},
}

// ContentDisposition renders the header value a signed URL should carry.
// VIEW of an active content type is downgraded to attachment.
func ContentDisposition(intent domain.SignedURLIntent, storedName string) string {
	if intent == domain.IntentDownload || IsActiveContent(storedName) {
		return mime.FormatMediaType("attachment", map[string]string{"filename": displayName(storedName)})
	}
	return "inline"
}

// IsActiveContent reports whether the name's extension maps to a scriptable type
func IsActiveContent(name string) bool {
	mediaType, _, err := mime.ParseMediaType(mime.TypeByExtension(strings.ToLower(path.Ext(name))))
	if err != nil {
		return false
	}
	_, ok := activeTypes[mediaType]
	return ok
}

// displayName strips the "<uuid>_" prefix generated for stored names
func displayName(storedName string) string {
	if len(storedName) > 37 && storedName[36] == '_' {
		if _, err := uuid.Parse(storedName[:36]); err == nil {
			return storedName[37:]
		}
	}
	return storedName
}
