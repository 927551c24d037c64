package core

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

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/x-stp/issuerscan/internal/client"
	"github.com/x-stp/issuerscan/internal/metrics"
)

// Outcome is the terminal classification of one probe.
type Outcome int

const (
	// OutcomeSuccess: the gate accepted the chain and the server answered 2xx.
	OutcomeSuccess Outcome = iota
	// OutcomeCertificateInvalid: the gate rejected the first handshake.
	OutcomeCertificateInvalid
	// OutcomeTransportFailure: DNS, connect, handshake, timeout or non-2xx status.
	OutcomeTransportFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCertificateInvalid:
		return "certificate_invalid"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// DomainProber probes a single domain. Implementations never return errors;
// every failure is folded into the stat table.
type DomainProber interface {
	Probe(ctx context.Context, domain string) Outcome
}

// ProberConfig configures a Prober.
type ProberConfig struct {
	Client  *client.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Prober issues one HTTPS GET per domain with the certificate gate in the handshake.
type Prober struct {
	gate    *CertificateGate
	stats   *StatTable
	client  *client.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewProber creates a Prober recording into stats through gate.
func NewProber(stats *StatTable, gate *CertificateGate, config *ProberConfig) *Prober {
	if config == nil {
		config = &ProberConfig{Logger: zerolog.Nop()}
	}
	return &Prober{
		gate:    gate,
		stats:   stats,
		client:  config.Client.WithDefaults(),
		logger:  config.Logger,
		metrics: config.Metrics,
	}
}

// Probe counts the attempt, fetches https://<domain>/ and classifies the result.
// Certificate outcomes are recorded by the gate during the handshake; Probe only
// records transport failures. Connections are released on every path.
func (p *Prober) Probe(ctx context.Context, domain string) Outcome {
	p.stats.Increment(LabelDomainsTested)
	start := time.Now()

	acct := &HandshakeAccount{}
	httpClient := client.NewProbeClient(p.client, p.gate.TLSConfig(acct))
	defer httpClient.CloseIdleConnections()

	outcome := p.fetch(ctx, httpClient, domain, acct)
	p.metrics.ObserveProbe(outcome.String(), time.Since(start))
	return outcome
}

func (p *Prober) fetch(ctx context.Context, httpClient *http.Client, domain string, acct *HandshakeAccount) Outcome {
	var handshakeStart time.Time
	trace := &httptrace.ClientTrace{
		TLSHandshakeStart: func() { handshakeStart = time.Now() },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			if !handshakeStart.IsZero() {
				p.metrics.ObserveHandshake(time.Since(handshakeStart))
			}
		},
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+domain, nil)
	if err != nil {
		return p.transportFailure(domain, err)
	}
	req.Header.Set("User-Agent", p.client.UserAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		if acct.Rejected() {
			return OutcomeCertificateInvalid
		}
		return p.transportFailure(domain, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxBodyDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return p.transportFailure(domain, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
	}
	return OutcomeSuccess
}

func (p *Prober) transportFailure(domain string, err error) Outcome {
	p.stats.Increment(LabelHTTPExceptions)
	kind := ClassifyTransportError(err)
	retryable := RetryableFailure(err)
	p.metrics.RecordTransportError(kind, retryable)
	p.logger.Debug().
		Str("domain", domain).
		Str("error_type", kind).
		Bool("retryable", retryable).
		Err(err).
		Msg("probe failed")
	return OutcomeTransportFailure
}

// RetryableFailure reports whether a later run could plausibly see a different
// outcome for the same domain: a retryable *customError or a network timeout.
func RetryableFailure(err error) bool {
	if IsRetryable(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ClassifyTransportError buckets a probe failure for metrics and logs.
func ClassifyTransportError(err error) string {
	var (
		dnsErr *net.DNSError
		netErr net.Error
		opErr  *net.OpError
		recErr tls.RecordHeaderError
	)
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnexpectedStatus):
		return "status"
	case errors.Is(err, ErrCertificateRejected):
		return "redirect_certificate"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &recErr), strings.Contains(err.Error(), "tls:"):
		return "tls"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return "connect"
	default:
		return "other"
	}
}
