package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dopaminelite/filestorage/internal/domain"
)

// RedisCacheRepository stores JSON encoded values in Redis
type RedisCacheRepository struct {
	client *redis.Client
	tracer trace.Tracer
}

// NewRedisCacheRepository creates a new Redis cache repository
func NewRedisCacheRepository(client *redis.Client) *RedisCacheRepository {
	return &RedisCacheRepository{
		client: client,
		tracer: otel.Tracer("file-storage/cache"),
	}
}

func (r *RedisCacheRepository) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "redis"), attribute.String("db.operation", op))
	return r.tracer.Start(ctx, "cache."+op, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get decodes the value at key into dest. A missing key yields domain.ErrCacheMiss.
func (r *RedisCacheRepository) Get(ctx context.Context, key string, dest any) error {
	ctx, span := r.start(ctx, "get", attribute.String("cache.key", key))
	defer span.End()

	data, err := r.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return domain.ErrCacheMiss
	case err != nil:
		return failSpan(span, fmt.Errorf("cache: get %s: %w", key, err))
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	if err := json.Unmarshal(data, dest); err != nil {
		return failSpan(span, fmt.Errorf("cache: decode %s: %w", key, err))
	}
	return nil
}

// Set stores value under key for ttl
func (r *RedisCacheRepository) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := r.start(ctx, "set",
		attribute.String("cache.key", key),
		attribute.Int64("cache.ttl_seconds", int64(ttl.Seconds())),
	)
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		return failSpan(span, fmt.Errorf("cache: encode %s: %w", key, err))
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return failSpan(span, fmt.Errorf("cache: set %s: %w", key, err))
	}
	return nil
}

// SetIfAbsent stores value under key only when nothing is cached there yet.
// It reports whether the value was written.
func (r *RedisCacheRepository) SetIfAbsent(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	ctx, span := r.start(ctx, "setnx",
		attribute.String("cache.key", key),
		attribute.Int64("cache.ttl_seconds", int64(ttl.Seconds())),
	)
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		return false, failSpan(span, fmt.Errorf("cache: encode %s: %w", key, err))
	}
	written, err := r.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, failSpan(span, fmt.Errorf("cache: setnx %s: %w", key, err))
	}
	span.SetAttributes(attribute.Bool("cache.written", written))
	return written, nil
}

// Delete removes keys; deleting absent keys is not an error
func (r *RedisCacheRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, span := r.start(ctx, "delete", attribute.Int("cache.key_count", len(keys)))
	defer span.End()

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return failSpan(span, fmt.Errorf("cache: delete: %w", err))
	}
	return nil
}
