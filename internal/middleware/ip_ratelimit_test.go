package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familyportal/devicelink/internal/httputil"
	"github.com/familyportal/devicelink/internal/service"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/device-code", nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

func TestIPRateLimitMiddleware(t *testing.T) {
	t.Run("blocks after limit with retry header", func(t *testing.T) {
		mw := NewIPRateLimitMiddleware(service.NewMemoryRateLimiter(), 2, time.Minute, "create")
		handler := mw.Handler(okHandler())

		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
			assert.Equal(t, http.StatusOK, rec.Code)
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		var body httputil.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Rate limit exceeded", body.Error)

		details, ok := body.Details.(map[string]interface{})
		require.True(t, ok, "rate limit body should carry details")
		retryAfter, ok := details["retryAfter"].(float64)
		require.True(t, ok)
		assert.Equal(t, rec.Header().Get("Retry-After"), strconv.Itoa(int(retryAfter)))
	})

	t.Run("ips are counted separately", func(t *testing.T) {
		mw := NewIPRateLimitMiddleware(service.NewMemoryRateLimiter(), 1, time.Minute, "link")
		handler := mw.Handler(okHandler())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("10.0.0.2"))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("10.0.0.3"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("zero limit disables", func(t *testing.T) {
		mw := NewIPRateLimitMiddleware(service.NewMemoryRateLimiter(), 0, time.Minute, "create")
		handler := mw.Handler(okHandler())

		for i := 0; i < 20; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, requestFrom("10.0.0.4"))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})
}
