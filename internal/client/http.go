package client

/*
issuerscan — measures which certificate authorities sign the web's TLS certificates
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package client builds the HTTP clients used by probes. Every probe gets its own
transport because the TLS verification hook carries per-probe state; transports
never pool connections so that a finished probe holds no sockets. Proxies are
not consulted: the certificate measured must be the origin server's.
*/

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTP client-specific defaults.
const (
	// DialTimeout is the maximum amount of time a dial will wait for a connect to complete.
	DialTimeout = 5 * time.Second
	// TLSHandshakeTimeout bounds the TLS handshake, including the verification hook.
	TLSHandshakeTimeout = 10 * time.Second
	// ResponseHeaderTimeout bounds the wait for response headers after the request is sent.
	ResponseHeaderTimeout = 10 * time.Second
	// RequestTimeout is the timeout for the entire HTTP request, including connection time,
	// all redirects, and reading the response body.
	RequestTimeout = 15 * time.Second
	// MaxRedirects matches net/http's default redirect policy.
	MaxRedirects = 10
	// UserAgent identifies probe traffic to the servers being measured.
	UserAgent = "issuerscan/1.0 (+https://github.com/x-stp/issuerscan)"
)

// DialContextFunc matches net.Dialer.DialContext.
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config holds the per-probe transport settings.
// A zero-value Config will result in default settings being used.
type Config struct {
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	RequestTimeout        time.Duration
	MaxRedirects          int
	UserAgent             string
	// DialContext replaces the default dialer, e.g. to pin host names to test servers.
	DialContext DialContextFunc
}

// DefaultConfig returns a new Config populated with default settings.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:           DialTimeout,
		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ResponseHeaderTimeout: ResponseHeaderTimeout,
		RequestTimeout:        RequestTimeout,
		MaxRedirects:          MaxRedirects,
		UserAgent:             UserAgent,
	}
}

// TurboConfig trades accuracy on slow hosts for throughput on very large lists:
// unresponsive servers are given up on much sooner.
func TurboConfig() *Config {
	return &Config{
		DialTimeout:           2 * time.Second,
		TLSHandshakeTimeout:   4 * time.Second,
		ResponseHeaderTimeout: 4 * time.Second,
		RequestTimeout:        8 * time.Second,
		MaxRedirects:          3,
		UserAgent:             UserAgent,
	}
}

// WithDefaults returns a copy of config with zero fields filled from DefaultConfig.
// A nil config yields DefaultConfig().
func (c *Config) WithDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.DialTimeout == 0 {
		out.DialTimeout = d.DialTimeout
	}
	if out.TLSHandshakeTimeout == 0 {
		out.TLSHandshakeTimeout = d.TLSHandshakeTimeout
	}
	if out.ResponseHeaderTimeout == 0 {
		out.ResponseHeaderTimeout = d.ResponseHeaderTimeout
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = d.RequestTimeout
	}
	if out.MaxRedirects == 0 {
		out.MaxRedirects = d.MaxRedirects
	}
	if out.UserAgent == "" {
		out.UserAgent = d.UserAgent
	}
	return &out
}

// errTooManyRedirects is returned from CheckRedirect once MaxRedirects is exceeded.
var errTooManyRedirects = errors.New("too many redirects")

// NewProbeClient returns a single-use client whose handshakes use tlsConfig.
// Callers must call CloseIdleConnections when done.
func NewProbeClient(config *Config, tlsConfig *tls.Config) *http.Client {
	config = config.WithDefaults()

	dial := config.DialContext
	if dial == nil {
		dial = (&net.Dialer{Timeout: config.DialTimeout}).DialContext
	}

	transport := &http.Transport{
		DialContext:           dial,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
		MaxIdleConnsPerHost:   -1,
		ForceAttemptHTTP2:     true,
	}

	maxRedirects := config.MaxRedirects
	return &http.Client{
		Transport: transport,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, len(via))
			}
			return nil
		},
	}
}
