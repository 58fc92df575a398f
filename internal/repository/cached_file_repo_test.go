package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dopaminelite/filestorage/internal/domain"
)

// countingRepo serves a single record and counts FindByID calls
type countingRepo struct {
	file  *domain.StoredFile
	finds int
}

func (r *countingRepo) Create(_ context.Context, f *domain.StoredFile) error {
	r.file = f
	return nil
}

func (r *countingRepo) FindByID(_ context.Context, id string) (*domain.StoredFile, error) {
	r.finds++
	if r.file == nil || r.file.ID != id {
		return nil, domain.NewFileNotFound(id)
	}
	cp := *r.file
	return &cp, nil
}

func (r *countingRepo) Update(_ context.Context, f *domain.StoredFile) error {
	cp := *f
	r.file = &cp
	return nil
}

func (r *countingRepo) Query(context.Context, domain.FileFilter, int, int) ([]*domain.StoredFile, int64, error) {
	if r.file == nil {
		return nil, 0, nil
	}
	return []*domain.StoredFile{r.file}, 1, nil
}

func setupCachedRepo(t *testing.T) (*CachedFileRepository, *countingRepo, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingRepo{}
	return NewCachedFileRepository(inner, NewRedisCacheRepository(client), zerolog.Nop()), inner, mr
}

func sampleFile() *domain.StoredFile {
	ref := "REF-1"
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &domain.StoredFile{
		ID:               "01JTESTFILE",
		OriginalFileName: "a.txt",
		StoredFileName:   "x_a.txt",
		MimeType:         "text/plain",
		SizeBytes:        5,
		Bucket:           "document",
		StoragePath:      "/data/document/x_a.txt",
		ContextType:      domain.ContextDocument,
		ContextRefID:     &ref,
		CreatedByUserID:  "U1",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestCachedFileRepositoryReadThrough(t *testing.T) {
	repo, inner, mr := setupCachedRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleFile()))

	first, err := repo.FindByID(ctx, "01JTESTFILE")
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, "01JTESTFILE")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.finds)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(fileByIDKeyPrefix+"01JTESTFILE"))

	ttl := mr.TTL(fileByIDKeyPrefix + "01JTESTFILE")
	assert.Equal(t, fileCacheTTL, ttl)
}

func TestCachedFileRepositoryUpdateRefreshesCache(t *testing.T) {
	repo, inner, mr := setupCachedRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleFile()))

	file, err := repo.FindByID(ctx, "01JTESTFILE")
	require.NoError(t, err)

	file.IsDeleted = true
	require.NoError(t, repo.Update(ctx, file))
	assert.True(t, mr.Exists(fileByIDKeyPrefix+"01JTESTFILE"))

	again, err := repo.FindByID(ctx, "01JTESTFILE")
	require.NoError(t, err)
	assert.True(t, again.IsDeleted)
	assert.Equal(t, 1, inner.finds)
}

// gatedRepo pauses FindByID after the row has been read
type gatedRepo struct {
	*countingRepo
	loaded  chan struct{}
	release chan struct{}
}

func (r *gatedRepo) FindByID(ctx context.Context, id string) (*domain.StoredFile, error) {
	f, err := r.countingRepo.FindByID(ctx, id)
	close(r.loaded)
	<-r.release
	return f, err
}

func TestCachedFileRepositoryStaleFillAfterDelete(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &gatedRepo{
		countingRepo: &countingRepo{file: sampleFile()},
		loaded:       make(chan struct{}),
		release:      make(chan struct{}),
	}
	repo := NewCachedFileRepository(inner, NewRedisCacheRepository(client), zerolog.Nop())
	ctx := context.Background()

	// a reader picks up the live row and stalls before filling the cache
	done := make(chan *domain.StoredFile)
	go func() {
		f, err := repo.FindByID(ctx, "01JTESTFILE")
		assert.NoError(t, err)
		done <- f
	}()
	<-inner.loaded

	deleted := sampleFile()
	deleted.IsDeleted = true
	require.NoError(t, repo.Update(ctx, deleted))

	close(inner.release)
	stale := <-done
	assert.False(t, stale.IsDeleted)

	after, err := repo.FindByID(ctx, "01JTESTFILE")
	require.NoError(t, err)
	assert.True(t, after.IsDeleted)
}

func TestCachedFileRepositoryMissIsNotCached(t *testing.T) {
	repo, _, mr := setupCachedRepo(t)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, mr.Exists(fileByIDKeyPrefix+"missing"))
}

func TestCachedFileRepositorySurvivesRedisOutage(t *testing.T) {
	repo, inner, mr := setupCachedRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, sampleFile()))

	mr.Close()

	file, err := repo.FindByID(ctx, "01JTESTFILE")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", file.OriginalFileName)
	assert.Equal(t, 1, inner.finds)
	require.NoError(t, repo.Update(ctx, file))
}

func TestRedisCacheRepositoryMiss(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cache := NewRedisCacheRepository(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	var dest map[string]string
	assert.ErrorIs(t, cache.Get(context.Background(), "nope", &dest), domain.ErrCacheMiss)

	require.NoError(t, cache.Set(context.Background(), "k", map[string]string{"a": "b"}, time.Minute))
	require.NoError(t, cache.Get(context.Background(), "k", &dest))
	assert.Equal(t, "b", dest["a"])

	written, err := cache.SetIfAbsent(context.Background(), "k", map[string]string{"a": "c"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, written)
	require.NoError(t, cache.Get(context.Background(), "k", &dest))
	assert.Equal(t, "b", dest["a"])

	require.NoError(t, cache.Delete(context.Background(), "k"))
	written, err = cache.SetIfAbsent(context.Background(), "k", map[string]string{"a": "c"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, time.Minute, mr.TTL("k"))
	assert.False(t, mr.Exists("k"))
	assert.NoError(t, cache.Delete(context.Background()))
}
