package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func correlationRouter(seen *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Correlation())
	r.GET("/", func(c *gin.Context) {
		*seen = CorrelationIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestCorrelation_EchoesIncomingID(t *testing.T) {
	var seen string
	r := correlationRouter(&seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(CorrelationHeader))
	assert.Equal(t, "abc-123", seen)
}

func TestCorrelation_GeneratesWhenMissingOrOversized(t *testing.T) {
	for _, incoming := range []string{"", strings.Repeat("x", 200)} {
		var seen string
		r := correlationRouter(&seen)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if incoming != "" {
			req.Header.Set(CorrelationHeader, incoming)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		id := rec.Header().Get(CorrelationHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, seen)
	}
}
