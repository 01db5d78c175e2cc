package collectors

import (
	"net/http"
	"time"
)

// newPooledHTTPClient builds an *http.Client configured the way
// transport.HTTPTransport configures its connection pool: bounded idle
// connections, HTTP/2 attempted by default, and a hard request timeout so a
// stalled source-host or registry-statistics endpoint can't hang a
// collector indefinitely.
func newPooledHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		Timeout: timeout,
	}
}

// sharedHTTPClient is the default client handed to any collector that
// builds its own API client on top of *http.Client rather than an SDK that
// manages its own transport (go-github and gitea's SDK each take one).
var sharedHTTPClient = newPooledHTTPClient(30 * time.Second)
