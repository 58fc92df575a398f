package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dopaminelite/filestorage/internal/config"
	"github.com/dopaminelite/filestorage/internal/domain"
	"github.com/dopaminelite/filestorage/internal/logger"
)

const (
	tracerName = "file-storage/service"

	MaxListLimit     = 100
	DefaultListLimit = 20

	bulkSignConcurrency = 8
	defaultMimeType     = "application/octet-stream"
)

// FileServiceImpl implements domain.FileService. It holds no mutable state beyond
// the injected handles, so one instance serves all requests.
type FileServiceImpl struct {
	repo       domain.FileRepository
	storage    domain.StorageProvider
	defaultTTL time.Duration
	maxTTL     time.Duration
	metrics    *fileMetrics
	tracer     trace.Tracer
	log        zerolog.Logger
	now        func() time.Time
}

// NewFileService creates a new file service
func NewFileService(
	repo domain.FileRepository,
	storage domain.StorageProvider,
	cfg config.SignedURLConfig,
	log zerolog.Logger,
) *FileServiceImpl {
	return &FileServiceImpl{
		repo:       repo,
		storage:    storage,
		defaultTTL: time.Duration(cfg.DefaultExpirationSeconds) * time.Second,
		maxTTL:     time.Duration(cfg.MaxExpirationSeconds) * time.Second,
		metrics:    newFileMetrics(),
		tracer:     otel.Tracer(tracerName),
		log:        logger.Component(log, "file_service"),
		now:        time.Now,
	}
}

// Upload stores the bytes first and only then creates the record pointing at them.
// A record failure after a successful store leaves the blob orphaned.
func (s *FileServiceImpl) Upload(ctx context.Context, in domain.UploadInput) (result *domain.UploadResult, err error) {
	ctx, span := s.tracer.Start(ctx, "FileService.Upload", trace.WithAttributes(
		attribute.String("file.context_type", string(in.ContextType)),
		attribute.Int("file.size_bytes", len(in.Content)),
	))
	defer func() { endSpan(span, err) }()

	if len(in.Content) == 0 {
		s.log.Error().Str(logger.FieldUserID, in.CreatedByUserID).Msg("attempted to upload empty file")
		return nil, domain.NewBadRequest("file must not be empty").WithDetail("field", "files")
	}
	if in.CreatedByUserID == "" {
		return nil, domain.NewBadRequest("createdByUserId is required").WithDetail("field", "createdByUserId")
	}
	if !in.ContextType.Valid() {
		return nil, domain.NewBadRequest(fmt.Sprintf("unknown context type %q", in.ContextType)).WithDetail("field", "contextType")
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	storedName := uuid.NewString() + "_" + storedBaseName(in.OriginalFileName)
	bucket := in.ContextType.Bucket()

	s.log.Debug().
		Str("original_name", in.OriginalFileName).
		Int("size", len(in.Content)).
		Str("mime_type", mimeType).
		Str(logger.FieldUserID, in.CreatedByUserID).
		Str("context_type", string(in.ContextType)).
		Msg("uploading file")

	location, err := s.storage.Store(ctx, in.Content, storedName, bucket, mimeType)
	if err != nil {
		s.log.Error().Err(err).Str("original_name", in.OriginalFileName).Msg("failed to store file")
		return nil, domain.NewBadRequest("failed to store file").WithCause(err)
	}

	file := &domain.StoredFile{
		OriginalFileName: in.OriginalFileName,
		StoredFileName:   storedName,
		MimeType:         mimeType,
		SizeBytes:        int64(len(in.Content)),
		Bucket:           bucket,
		StoragePath:      location,
		ContextType:      in.ContextType,
		ContextRefID:     in.ContextRefID,
		CreatedByUserID:  in.CreatedByUserID,
		IsDeleted:        false,
	}
	if err := s.repo.Create(ctx, file); err != nil {
		s.log.Error().Err(err).Str("storage_path", location).Msg("failed to create file record, blob orphaned")
		return nil, domain.NewInternal("failed to save file record", err)
	}

	s.metrics.uploaded(ctx, in.ContextType, s.storage.Name())
	s.log.Info().Str(logger.FieldFileID, file.ID).Str("bucket", bucket).Msg("file uploaded")

	result = &domain.UploadResult{File: file}
	if in.GenerateSignedURL {
		url, err := s.storage.Sign(ctx, file.StoragePath, domain.IntentView, s.defaultTTL)
		if err != nil {
			s.log.Error().Err(err).Str(logger.FieldFileID, file.ID).Msg("failed to sign uploaded file")
			return nil, domain.NewStorageError("failed to generate signed url", err).WithDetail("fileId", file.ID)
		}
		expiresAt := s.now().UTC().Add(s.defaultTTL)
		result.SignedURL = &url
		result.ExpiresAt = &expiresAt
		s.metrics.signed(ctx, domain.IntentView, 1)
	}
	return result, nil
}

// Get returns a live record
func (s *FileServiceImpl) Get(ctx context.Context, id string) (file *domain.StoredFile, err error) {
	ctx, span := s.tracer.Start(ctx, "FileService.Get", trace.WithAttributes(attribute.String("file.id", id)))
	defer func() { endSpan(span, err) }()

	return s.findLive(ctx, id)
}

// SoftDelete flags the record deleted. The bytes stay where they are and a
// second delete observes NotFound.
func (s *FileServiceImpl) SoftDelete(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "FileService.SoftDelete", trace.WithAttributes(attribute.String("file.id", id)))
	defer func() { endSpan(span, err) }()

	file, err := s.findLive(ctx, id)
	if err != nil {
		return err
	}

	file.IsDeleted = true
	if err := s.repo.Update(ctx, file); err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return err
		}
		return domain.NewInternal("failed to update file record", err).WithDetail("fileId", id)
	}

	s.metrics.deleted(ctx, file.ContextType)
	s.log.Info().Str(logger.FieldFileID, id).Msg("file marked as deleted")
	return nil
}

// SignOne signs the location of a live record
func (s *FileServiceImpl) SignOne(ctx context.Context, id string, intent domain.SignedURLIntent, ttlSeconds *int) (signed *domain.SignedURL, err error) {
	ctx, span := s.tracer.Start(ctx, "FileService.SignOne", trace.WithAttributes(
		attribute.String("file.id", id),
		attribute.String("file.intent", string(intent)),
	))
	defer func() { endSpan(span, err) }()

	ttl, err := s.resolveTTL(ttlSeconds)
	if err != nil {
		return nil, err
	}
	intent, err = normalizeIntent(intent)
	if err != nil {
		return nil, err
	}

	result, err := s.sign(ctx, id, intent, ttl, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.signed(ctx, intent, 1)
	return &result, nil
}

// SignBulk resolves and signs every item or none of them. Results keep the request order.
func (s *FileServiceImpl) SignBulk(ctx context.Context, items []domain.BulkSignItem, ttlSeconds *int) (signed []domain.SignedURL, err error) {
	ctx, span := s.tracer.Start(ctx, "FileService.SignBulk", trace.WithAttributes(attribute.Int("file.count", len(items))))
	defer func() { endSpan(span, err) }()

	if len(items) == 0 {
		return nil, domain.NewBadRequest("items list must not be empty").WithDetail("field", "items")
	}
	ttl, err := s.resolveTTL(ttlSeconds)
	if err != nil {
		return nil, err
	}

	intents := make([]domain.SignedURLIntent, len(items))
	for i, item := range items {
		if item.FileID == "" {
			return nil, domain.NewBadRequest("fileId is required").WithDetail("field", fmt.Sprintf("items[%d].fileId", i))
		}
		if intents[i], err = normalizeIntent(item.Intent); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	results := make([]domain.SignedURL, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkSignConcurrency)
	for i, item := range items {
		g.Go(func() error {
			res, err := s.sign(gctx, item.FileID, intents[i], ttl, now)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Error().Err(err).Int("count", len(items)).Msg("bulk sign aborted")
		return nil, err
	}

	for _, intent := range intents {
		s.metrics.signed(ctx, intent, 1)
	}
	return results, nil
}

// List returns one page of live records. The filter shape follows a fixed ladder,
// see listFilter, and the window starts at the page that contains offset.
func (s *FileServiceImpl) List(ctx context.Context, in domain.ListInput) (list *domain.FileList, err error) {
	ctx, span := s.tracer.Start(ctx, "FileService.List", trace.WithAttributes(
		attribute.Int("list.limit", in.Limit),
		attribute.Int("list.offset", in.Offset),
	))
	defer func() { endSpan(span, err) }()

	if in.Limit <= 0 {
		return nil, domain.NewBadRequest("limit must be > 0").WithDetail("field", "limit")
	}
	if in.Limit > MaxListLimit {
		return nil, domain.NewBadRequest(fmt.Sprintf("limit must be <= %d", MaxListLimit)).WithDetail("field", "limit")
	}
	if in.Offset < 0 {
		return nil, domain.NewBadRequest("offset must be >= 0").WithDetail("field", "offset")
	}
	if in.ContextType != "" && !in.ContextType.Valid() {
		return nil, domain.NewBadRequest(fmt.Sprintf("unknown context type %q", in.ContextType)).WithDetail("field", "contextType")
	}

	page := in.Offset / in.Limit
	files, total, err := s.repo.Query(ctx, listFilter(in), in.Limit, page*in.Limit)
	if err != nil {
		return nil, domain.NewInternal("failed to list files", err)
	}
	if files == nil {
		files = []*domain.StoredFile{}
	}

	s.log.Debug().Int("page", page).Int("count", len(files)).Int64("total", total).Msg("listed files")
	return &domain.FileList{Items: files, Total: total}, nil
}

// listFilter picks exactly one of six query shapes, tried in order:
// owner+type+ref, owner+type, owner, type+ref, type, none.
// Parameters that do not fit the chosen shape are ignored.
func listFilter(in domain.ListInput) domain.FileFilter {
	live := false
	f := domain.FileFilter{IsDeleted: &live}

	owner, ct, ref := in.CreatedByUserID != "", in.ContextType != "", in.ContextRefID != ""
	switch {
	case owner && ct && ref:
		f.CreatedByUserID, f.ContextType, f.ContextRefID = in.CreatedByUserID, in.ContextType, in.ContextRefID
	case owner && ct:
		f.CreatedByUserID, f.ContextType = in.CreatedByUserID, in.ContextType
	case owner:
		f.CreatedByUserID = in.CreatedByUserID
	case ct && ref:
		f.ContextType, f.ContextRefID = in.ContextType, in.ContextRefID
	case ct:
		f.ContextType = in.ContextType
	}
	return f
}

// findLive loads a record and treats soft-deleted ones as absent
func (s *FileServiceImpl) findLive(ctx context.Context, id string) (*domain.StoredFile, error) {
	file, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			s.log.Debug().Str(logger.FieldFileID, id).Msg("file not found")
			return nil, domain.NewFileNotFound(id)
		}
		return nil, domain.NewInternal("failed to load file record", err).WithDetail("fileId", id)
	}
	if file.IsDeleted {
		s.log.Debug().Str(logger.FieldFileID, id).Msg("file is soft deleted")
		return nil, domain.NewFileNotFound(id)
	}
	return file, nil
}

func (s *FileServiceImpl) sign(ctx context.Context, id string, intent domain.SignedURLIntent, ttl time.Duration, now time.Time) (domain.SignedURL, error) {
	file, err := s.findLive(ctx, id)
	if err != nil {
		return domain.SignedURL{}, err
	}

	url, err := s.storage.Sign(ctx, file.StoragePath, intent, ttl)
	if err != nil {
		s.log.Error().Err(err).Str(logger.FieldFileID, id).Msg("failed to sign file")
		return domain.SignedURL{}, domain.NewStorageError("failed to generate signed url", err).WithDetail("fileId", id)
	}
	return domain.SignedURL{FileID: file.ID, URL: url, ExpiresAt: now.Add(ttl)}, nil
}

// resolveTTL applies the default when no override is given
func (s *FileServiceImpl) resolveTTL(ttlSeconds *int) (time.Duration, error) {
	if ttlSeconds == nil {
		return s.defaultTTL, nil
	}
	// bound in seconds before converting; a huge value would overflow time.Duration
	maxSeconds := int64(s.maxTTL / time.Second)
	if secs := int64(*ttlSeconds); secs <= 0 || secs > maxSeconds {
		return 0, domain.NewBadRequest(fmt.Sprintf("expiresInSeconds must be between 1 and %d", maxSeconds)).
			WithDetail("field", "expiresInSeconds")
	}
	return time.Duration(*ttlSeconds) * time.Second, nil
}

func normalizeIntent(intent domain.SignedURLIntent) (domain.SignedURLIntent, error) {
	return domain.ParseSignedURLIntent(string(intent))
}

// storedBaseName strips any directory part a client sent with the file name
func storedBaseName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return "file"
	}
	return base
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

var _ domain.FileService = (*FileServiceImpl)(nil)
