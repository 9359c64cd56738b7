package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/daostar/grants-aggregator/internal/store"
)

// RequestLogger is the persistence the accounting middleware needs.
type RequestLogger interface {
	LogRequest(ctx context.Context, l *store.RequestLog) error
}

// StoreRequests persists per-request accounting rows for the admin stats
// view. Writes happen off the request path; a failed write is only logged.
func StoreRequests(logs RequestLogger, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logs == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			entry := &store.RequestLog{
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: ww.status,
				DurationMS: float64(time.Since(start).Microseconds()) / 1000,
				ClientIP:   clientIP(r),
			}
			if k := APIKeyFrom(r.Context()); k != nil {
				entry.APIKeyID = &k.ID
			}

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := logs.LogRequest(ctx, entry); err != nil {
					logger.Warn("request log write failed", "error", err)
				}
			}()
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
