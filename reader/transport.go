package reader

import (
	"net"
	"net/http"

	"golang.org/x/time/rate"

	"fundingsim/config"
)

// limitedTransport sets the User-Agent and waits on a shared limiter before
// every request.
type limitedTransport struct {
	agent   string
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	req = req.Clone(req.Context())
	if t.agent != "" {
		req.Header.Set("User-Agent", t.agent)
	}
	return t.base.RoundTrip(req)
}

// NewHTTPClient builds the client every venue reader uses: pooled
// connections, an optional bound local IP, the configured timeout and a
// request rate limit.
func NewHTTPClient(cfg config.ReaderConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
	}
	if cfg.LocalIP != "" {
		if ip := net.ParseIP(cfg.LocalIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &http.Client{
		Transport: limitedTransport{
			agent:   cfg.UserAgent,
			limiter: rate.NewLimiter(rate.Limit(rps), burst),
			base:    transport,
		},
		Timeout: cfg.Timeout,
	}
}
