// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package httpx builds the outbound HTTP client the remote engines
// share. The transport bounds every connection phase so a wedged
// upstream can never hold an engine call open indefinitely, while the
// response header timeout stays generous because transcription and
// chat completions routinely think for a long time before the first
// byte.
package httpx

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultClientTimeout  = 120 * time.Second
	dialTimeout           = 10 * time.Second
	idleConnTimeout       = 90 * time.Second
	expectContinueTimeout = 1 * time.Second
	maxIdleConns          = 16
	maxIdleConnsPerHost   = 4
)

// NewClient returns an outbound client whose total deadline is timeout.
// Zero or negative picks the default suited to remote engine calls.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	// The upstream may buffer the whole response before replying, so
	// headers get the full budget minus a small grace for the body.
	responseHeaderTimeout := timeout - 5*time.Second
	if responseHeaderTimeout <= 0 {
		responseHeaderTimeout = timeout
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          maxIdleConns,
			MaxIdleConnsPerHost:   maxIdleConnsPerHost,
			IdleConnTimeout:       idleConnTimeout,
			TLSHandshakeTimeout:   dialTimeout,
			ResponseHeaderTimeout: responseHeaderTimeout,
			ExpectContinueTimeout: expectContinueTimeout,
		},
	}
}
