package middleware

import (
	"crypto/rand"
	"net/http"

	"github.com/oklog/ulid/v2"
)

// RequestIDHeader carries the per-call correlation id
const RequestIDHeader = "X-Request-ID"

// NewRequestID returns a new ULID
func NewRequestID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// RequestID stamps every outbound request with an X-Request-ID if it has none
func RequestID() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get(RequestIDHeader) != "" {
				return next.RoundTrip(req)
			}
			r := req.Clone(req.Context())
			r.Header.Set(RequestIDHeader, NewRequestID())
			return next.RoundTrip(r)
		})
	}
}
