package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/familyportal/devicelink/internal/audit"
	apperrors "github.com/familyportal/devicelink/internal/errors"
	"github.com/familyportal/devicelink/internal/httputil"
	"github.com/familyportal/devicelink/internal/service"
)

// IPRateLimitMiddleware limits requests per client IP. A limit of zero or
// less disables it.
type IPRateLimitMiddleware struct {
	limiter service.Limiter
	limit   int
	window  time.Duration
	prefix  string
}

func NewIPRateLimitMiddleware(limiter service.Limiter, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	if m.limit <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		key := fmt.Sprintf("ip:%s:%s", m.prefix, ip)
		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)

		if !allowed {
			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secondsLeft))
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": m.prefix},
			})
			httputil.WriteError(w, apperrors.RateLimitExceeded().WithDetails(map[string]int{
				"retryAfter": secondsLeft,
			}))
			return
		}

		next.ServeHTTP(w, r)
	})
}
