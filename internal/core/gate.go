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
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/x-stp/issuerscan/internal/certlib"
	"github.com/x-stp/issuerscan/internal/metrics"
)

// Verdict is the gate's decision about one presented chain.
// Accept is the trust decision alone; a failed issuer extraction leaves it true.
type Verdict struct {
	Accept     bool
	PolicyErr  error
	Label      string
	ExtractErr error
	Leaf       *x509.Certificate
}

// GateConfig configures a CertificateGate. Zero values are usable.
type GateConfig struct {
	// Roots is the trust anchor pool. Nil means the system pool.
	Roots *x509.CertPool
	// Now overrides the verification clock.
	Now     func() time.Time
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// CertificateGate decides whether a handshake may proceed and accounts for the
// outcome in the stat table. It holds no lock of its own; the only shared state it
// touches is the StatTable, whose critical section contains no I/O.
type CertificateGate struct {
	stats   *StatTable
	roots   *x509.CertPool
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewCertificateGate creates a gate that records into stats.
func NewCertificateGate(stats *StatTable, config *GateConfig) *CertificateGate {
	if config == nil {
		config = &GateConfig{Logger: zerolog.Nop()}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &CertificateGate{
		stats:   stats,
		roots:   config.Roots,
		now:     now,
		logger:  config.Logger,
		metrics: config.Metrics,
	}
}

// Decide evaluates a presented chain for serverName. It has no side effects.
func (g *CertificateGate) Decide(chain []*x509.Certificate, serverName string) Verdict {
	if err := certlib.VerifyChain(chain, serverName, g.roots, g.now()); err != nil {
		return Verdict{PolicyErr: err}
	}
	label, err := certlib.IssuerLabel(chain[0])
	return Verdict{Accept: true, Label: label, ExtractErr: err, Leaf: chain[0]}
}

// Record folds a verdict into the stat table: one "Certificate invalid" for a
// rejection, one CA label for an accepted chain with a parseable issuer, and
// nothing for an accepted chain whose issuer could not be parsed.
func (g *CertificateGate) Record(v Verdict, serverName string) {
	switch {
	case !v.Accept:
		g.stats.Increment(LabelCertificateInvalid)
		g.metrics.RecordPolicyFailure(certlib.PolicyErrorKind(v.PolicyErr))
		g.logger.Debug().Str("domain", serverName).Err(v.PolicyErr).Msg("certificate rejected")
	case v.ExtractErr == nil:
		g.stats.Increment(v.Label)
		g.metrics.RecordIssuer(v.Label)
	default:
		g.metrics.RecordIssuerParseFailure()
		ev := g.logger.Debug().Str("domain", serverName).Err(v.ExtractErr)
		if v.Leaf != nil {
			cd := certlib.CertificateFromX509(v.Leaf)
			ev = ev.Str("issuer", cd.Issuer.Aggregated).Str("fingerprint", cd.Fingerprint())
		}
		ev.Msg("issuer organization not extractable")
	}
}

// HandshakeAccount tracks the gate's bookkeeping for one probe. A probe that
// follows redirects performs several handshakes; only the first is accounted.
type HandshakeAccount struct {
	claimed  atomic.Bool
	rejected atomic.Bool
}

// Rejected reports whether the accounted handshake was rejected by the gate.
func (a *HandshakeAccount) Rejected() bool {
	return a.rejected.Load()
}

// VerifyConnection returns a tls.Config.VerifyConnection hook that applies the
// trust decision to every handshake and records the first one into acct.
func (g *CertificateGate) VerifyConnection(acct *HandshakeAccount) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		v := g.Decide(cs.PeerCertificates, cs.ServerName)
		if acct.claimed.CompareAndSwap(false, true) {
			if !v.Accept {
				acct.rejected.Store(true)
			}
			g.Record(v, cs.ServerName)
		}
		if !v.Accept {
			return fmt.Errorf("%w: %v", ErrCertificateRejected, v.PolicyErr)
		}
		return nil
	}
}

// TLSConfig returns a client TLS configuration with the gate wired in.
// Built-in verification is switched off because it would abort the handshake
// before the hook runs; VerifyConnection performs the equivalent check itself.
func (g *CertificateGate) TLSConfig(acct *HandshakeAccount) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // verified in VerifyConnection
		VerifyConnection:   g.VerifyConnection(acct),
		MinVersion:         tls.VersionTLS10,
	}
}
