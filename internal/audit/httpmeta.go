package audit

import (
	"net"
	"net/http"
)

// correlationHeaders are checked in order when extracting a request id.
var correlationHeaders = []string{"X-Request-Id", "X-Correlation-Id", "X-Trace-Id"}

// RequestMetadata returns a serialisable snapshot of the HTTP request that
// triggered an audited action.
func RequestMetadata(r *http.Request) map[string]any {
	client := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		client = host
	}
	return map[string]any{
		"method":     r.Method,
		"path":       r.URL.Path,
		"client":     client,
		"user_agent": r.UserAgent(),
		"host":       r.Host,
	}
}

// RequestID extracts a correlation identifier from common header names.
func RequestID(r *http.Request) string {
	for _, header := range correlationHeaders {
		if value := r.Header.Get(header); value != "" {
			return value
		}
	}
	return ""
}
