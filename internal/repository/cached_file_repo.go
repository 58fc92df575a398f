package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dopaminelite/filestorage/internal/domain"
	"github.com/dopaminelite/filestorage/internal/logger"
)

const (
	fileByIDKeyPrefix = "stored_file:id:"
	fileCacheTTL      = 5 * time.Minute
)

// CachedFileRepository wraps a FileRepository with a Redis read-through cache on FindByID.
// Cache failures are logged and never fail the call.
type CachedFileRepository struct {
	next  domain.FileRepository
	cache *RedisCacheRepository
	log   zerolog.Logger
}

func NewCachedFileRepository(next domain.FileRepository, cache *RedisCacheRepository, log zerolog.Logger) *CachedFileRepository {
	return &CachedFileRepository{
		next:  next,
		cache: cache,
		log:   log,
	}
}

func (r *CachedFileRepository) FindByID(ctx context.Context, id string) (*domain.StoredFile, error) {
	key := fileByIDKeyPrefix + id

	var file domain.StoredFile
	err := r.cache.Get(ctx, key, &file)
	if err == nil {
		return &file, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		r.log.Warn().Err(err).Str(logger.FieldFileID, id).Msg("file cache read failed")
	}

	result, err := r.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// a fill never replaces an entry, so a row read before a concurrent
	// Update cannot overwrite the copy Update stored
	if _, err := r.cache.SetIfAbsent(ctx, key, result, fileCacheTTL); err != nil {
		r.log.Warn().Err(err).Str(logger.FieldFileID, id).Msg("file cache write failed")
	}
	return result, nil
}

// Update writes through and replaces the cached copy with the updated record.
// If that write fails the entry is dropped instead.
func (r *CachedFileRepository) Update(ctx context.Context, file *domain.StoredFile) error {
	if err := r.next.Update(ctx, file); err != nil {
		return err
	}

	key := fileByIDKeyPrefix + file.ID
	if err := r.cache.Set(ctx, key, file, fileCacheTTL); err != nil {
		r.log.Warn().Err(err).Str(logger.FieldFileID, file.ID).Msg("file cache refresh failed")
		if err := r.cache.Delete(ctx, key); err != nil {
			r.log.Error().Err(err).Str(logger.FieldFileID, file.ID).Msg("file cache invalidation failed")
		}
	}
	return nil
}

// === Pass-through methods (no caching) ===

func (r *CachedFileRepository) Create(ctx context.Context, file *domain.StoredFile) error {
	return r.next.Create(ctx, file)
}

func (r *CachedFileRepository) Query(ctx context.Context, filter domain.FileFilter, limit, offset int) ([]*domain.StoredFile, int64, error) {
	return r.next.Query(ctx, filter, limit, offset)
}

var _ domain.FileRepository = (*CachedFileRepository)(nil)
