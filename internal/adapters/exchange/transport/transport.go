// Package transport builds the outbound HTTP client used for vendor calls.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const (
	defaultTimeout        = 30 * time.Second
	dialTimeout           = 10 * time.Second
	keepAlive             = 30 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	idleConnTimeout       = 90 * time.Second
	maxIdleConns          = 100
	maxIdleConnsPerHost   = 10
	http2ReadIdleTimeout  = 30 * time.Second
	http2PingTimeout      = 15 * time.Second
	expectContinueTimeout = 1 * time.Second
	responseHeaderTimeout = 20 * time.Second
)

// Option configures Build.
type Option func(*builder)

type builder struct {
	timeout      time.Duration
	roundTripper http.RoundTripper
}

// WithTimeout bounds a single HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(b *builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithRoundTripper replaces the network transport, e.g. with the in-process
// mock vendor.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(b *builder) {
		if rt != nil {
			b.roundTripper = rt
		}
	}
}

// Build creates an HTTP client with TLS 1.2+ and HTTP/2 negotiated over ALPN.
func Build(opts ...Option) (*http.Client, error) {
	b := &builder{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(b)
	}

	if b.roundTripper != nil {
		return &http.Client{Transport: b.roundTripper, Timeout: b.timeout}, nil
	}

	t1 := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		ExpectContinueTimeout: expectContinueTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
	}

	t2, err := http2.ConfigureTransports(t1)
	if err != nil {
		return nil, fmt.Errorf("failed to configure http2: %w", err)
	}
	// Detect dead HTTP/2 connections instead of waiting on the OS.
	t2.ReadIdleTimeout = http2ReadIdleTimeout
	t2.PingTimeout = http2PingTimeout

	return &http.Client{Transport: t1, Timeout: b.timeout}, nil
}
