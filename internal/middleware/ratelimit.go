package middleware

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/shopflow/printbridge/internal/kvstore"
)

// RateLimit builds a middleware that allows at most limit requests per
// window. Authenticated callers are counted by user id, anonymous ones by
// remote address, so one noisy tenant cannot starve the rest. The counters
// live in the kvstore; with Redis the limit holds across replicas.
func RateLimit(counters kvstore.Store, name string, limit int64, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			// Unlimited
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, ok := UserID(r.Context())
			if !ok {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				who = host
			}

			key := fmt.Sprintf("ratelimit:%s:%s", name, who)
			count, err := counters.Incr(r.Context(), key, window)
			if err != nil {
				// A broken counter store must not take the API down
				log.Printf("⚠️ Rate limit: count %s: %v", key, err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
