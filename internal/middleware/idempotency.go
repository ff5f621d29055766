package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
	idempotencyLockTTL   = 30 * time.Second
	idempotencyKeyPrefix = "idempotency:"
)

// cachedResponse stores the response for idempotent requests.
type cachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response of a mutating request that repeats
// an Idempotency-Key on the same route. A repeat that arrives while the first
// request is still running gets 409. Server errors are not stored, so the
// client may retry them.
func Idempotency(client redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := idempotencyKeyPrefix + c.FullPath() + ":" + key
		inflightKey := cacheKey + ":inflight"

		cached, err := getCachedResponse(ctx, client, cacheKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "idempotency cache unavailable", "error", err)
			c.Next()
			return
		}

		if cached != nil {
			for k, v := range cached.Headers {
				for _, val := range v {
					c.Header(k, val)
				}
			}
			c.Header("Idempotent-Replayed", "true")
			c.Data(cached.StatusCode, "application/json", cached.Body)
			c.Abort()
			return
		}

		acquired, err := client.SetNX(ctx, inflightKey, CorrelationID(c), idempotencyLockTTL).Result()
		if err == nil && !acquired {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
			return
		}
		if acquired {
			defer client.Del(context.WithoutCancel(ctx), inflightKey)
		}

		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		c.Next()

		if c.Writer.Status() >= 200 && c.Writer.Status() < 500 {
			response := cachedResponse{
				StatusCode: c.Writer.Status(),
				Body:       w.body.Bytes(),
				Headers:    extractResponseHeaders(c),
			}
			if err := setCachedResponse(ctx, client, cacheKey, &response, idempotencyTTL); err != nil {
				slog.WarnContext(ctx, "idempotent response not stored", "error", err)
			}
		}
	}
}

func getCachedResponse(ctx context.Context, client redis.UniversalClient, key string) (*cachedResponse, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}

	return &cached, nil
}

func setCachedResponse(ctx context.Context, client redis.UniversalClient, key string, response *cachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}

	return client.Set(ctx, key, data, ttl).Err()
}

// extractResponseHeaders keeps the headers worth replaying.
func extractResponseHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	for _, name := range []string{"Content-Type", "Location"} {
		if v := c.Writer.Header().Get(name); v != "" {
			headers.Set(name, v)
		}
	}
	return headers
}
