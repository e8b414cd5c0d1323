package webserver

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ProbeTimeout bounds a single readiness request.
const ProbeTimeout = time.Second

var localHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// NewProbeClient returns a client for readiness checks. Certificates are not
// verified for loopback hosts so self-signed dev servers count as reachable.
func NewProbeClient() *http.Client {
	insecure := &http.Transport{
		DisableKeepAlives: true,
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // loopback only
	}
	secure := &http.Transport{DisableKeepAlives: true}

	return &http.Client{
		Timeout: ProbeTimeout,
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.URL.Scheme == "https" && localHosts[req.URL.Hostname()] {
				return insecure.RoundTrip(req)
			}
			return secure.RoundTrip(req)
		}),
		// A redirect is an answer; do not follow it.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// IsReachable reports whether rawURL answers a GET with a status in
// [200, 500). Connection errors and timeouts count as unreachable.
func IsReachable(ctx context.Context, client *http.Client, rawURL string) bool {
	if _, err := url.Parse(rawURL); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode >= 200 && resp.StatusCode < 500
}
