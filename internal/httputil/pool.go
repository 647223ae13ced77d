// Package httputil provides a tuned, pooled HTTP client shared by the
// engine/sidecar adapters (TTS, STT, intent routing).
package httputil

import (
	"net/http"
	"time"
)

// NewPooledClient creates an http.Client with connection pooling sized for
// repeated calls to a single sidecar host.
func NewPooledClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
