package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Logger logs every outbound call at debug level, and transport failures at warn
func Logger(logger *slog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)
			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"request_id", req.Header.Get(RequestIDHeader),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.Warn("gateway call failed", append(attrs, "err", err)...)
				return nil, err
			}
			logger.Debug("gateway call", append(attrs, "status", resp.StatusCode)...)
			return resp, nil
		})
	}
}
