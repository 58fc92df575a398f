package middleware

import (
	"io"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIdempotentApp(t *testing.T) (*fiber.App, *int, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	calls := 0

	app := fiber.New()
	app.Use(Idempotency(client, time.Hour, zerolog.Nop()))
	app.Post("/files", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": calls})
	})
	app.Post("/fail", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"call": calls})
	})
	return app, &calls, mr
}

func post(t *testing.T, app *fiber.App, path, key string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest("POST", path, nil)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), resp.Header.Get(IdempotentReplayHeader)
}

func TestIdempotencyReplaysSuccess(t *testing.T) {
	app, calls, _ := setupIdempotentApp(t)

	status, body, replay := post(t, app, "/files", "k1")
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, `{"call":1}`, body)
	assert.Empty(t, replay)

	status, body, replay = post(t, app, "/files", "k1")
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, `{"call":1}`, body)
	assert.Equal(t, "true", replay)
	assert.Equal(t, 1, *calls)

	_, body, _ = post(t, app, "/files", "k2")
	assert.Equal(t, `{"call":2}`, body)
}

func TestIdempotencyWithoutKey(t *testing.T) {
	app, calls, _ := setupIdempotentApp(t)

	for i := 1; i <= 2; i++ {
		_, body, _ := post(t, app, "/files", "")
		assert.Equal(t, `{"call":`+strconv.Itoa(i)+`}`, body)
	}
	assert.Equal(t, 2, *calls)
}

func TestIdempotencySkipsFailures(t *testing.T) {
	app, calls, mr := setupIdempotentApp(t)

	post(t, app, "/fail", "k1")
	status, _, replay := post(t, app, "/fail", "k1")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Empty(t, replay)
	assert.Equal(t, 2, *calls)
	assert.Empty(t, mr.Keys())
}

func TestIdempotencyRedisDown(t *testing.T) {
	app, calls, mr := setupIdempotentApp(t)
	mr.Close()

	status, _, _ := post(t, app, "/files", "k1")
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, 1, *calls)
}
