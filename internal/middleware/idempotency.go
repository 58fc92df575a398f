package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	IdempotencyKeyHeader    = "X-Idempotency-Key"
	IdempotentReplayHeader  = "X-Idempotent-Replay"
	idempotencyKeyPrefix    = "idempotency:"
	idempotencyStoreTimeout = 2 * time.Second
)

// cachedResponse is what gets replayed for a repeated key
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// Idempotency replays the stored 2xx response of a mutating request carrying the
// same X-Idempotency-Key on the same route within ttl. Requests without the header,
// or any Redis failure, fall through to the handler.
func Idempotency(client *redis.Client, ttl time.Duration, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if client == nil {
			return c.Next()
		}
		// Only apply to mutating methods
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPatch && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		idemKey := c.Get(IdempotencyKeyHeader)
		if idemKey == "" {
			return c.Next()
		}

		key := idempotencyKeyPrefix + c.Method() + ":" + c.Path() + ":" + idemKey
		ctx := c.UserContext()

		if data, err := client.Get(ctx, key).Bytes(); err == nil {
			var cached cachedResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				c.Set(IdempotentReplayHeader, "true")
				c.Set(fiber.HeaderContentType, cached.ContentType)
				return c.Status(cached.Status).Send(cached.Body)
			}
		} else if err != redis.Nil {
			log.Warn().Err(err).Msg("idempotency lookup failed")
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status < 200 || status >= 300 {
			return nil
		}

		// fasthttp reuses the response buffer, so copy before it escapes the handler
		entry := cachedResponse{
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return nil
		}

		storeCtx, cancel := context.WithTimeout(context.Background(), idempotencyStoreTimeout)
		defer cancel()
		if err := client.Set(storeCtx, key, data, ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("idempotency store failed")
		}
		return nil
	}
}
