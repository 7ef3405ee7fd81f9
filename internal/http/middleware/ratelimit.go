package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/turnero/hospital-core/pkg/logging"
)

// WindowCounter is the slice of storage.Store the limiter needs.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit rejects clients exceeding maxRequests per window with 429. The
// counter lives in Redis so limits hold across instances. If the counter is
// unreachable the limiter fails open; dropping traffic because Redis is down
// would turn a cache outage into an API outage.
func RateLimit(counter WindowCounter, maxRequests int64, window time.Duration, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if counter == nil || maxRequests <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ip := r.RemoteAddr
			// Prefer X-Real-Ip set by chi's RealIP middleware.
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				ip = xri
			}
			key := fmt.Sprintf("ratelimit:%s", ip)
			count, err := counter.IncrWindow(r.Context(), key, window)
			if err != nil {
				logger.Error("rate limit counter unavailable", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}
			if count > maxRequests {
				logger.Warn("rate limit exceeded", "ip", ip, "count", count, "max", maxRequests)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
