package certlib

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
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// ErrNoPeerCertificate is the verdict for a handshake in which the server sent no certificate.
var ErrNoPeerCertificate = errors.New("no peer certificate presented")

// VerifyChain computes the same trust verdict crypto/tls would reach for a client
// connecting to serverName: the leaf must chain to roots (nil means the system pool)
// through the presented intermediates, be valid at now, carry the server-auth usage,
// and match serverName. A zero now means the current time.
func VerifyChain(certs []*x509.Certificate, serverName string, roots *x509.CertPool, now time.Time) error {
	if len(certs) == 0 || certs[0] == nil {
		return ErrNoPeerCertificate
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		if c != nil {
			intermediates.AddCert(c)
		}
	}

	opts := x509.VerifyOptions{
		DNSName:       serverName,
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := certs[0].Verify(opts); err != nil {
		return fmt.Errorf("verify %s: %w", serverName, err)
	}
	return nil
}

// PolicyErrorKind buckets a VerifyChain error into a short label for metrics and logs.
func PolicyErrorKind(err error) string {
	var (
		invalid   x509.CertificateInvalidError
		hostname  x509.HostnameError
		authority x509.UnknownAuthorityError
	)
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNoPeerCertificate):
		return "no_certificate"
	case errors.As(err, &hostname):
		return "hostname_mismatch"
	case errors.As(err, &authority):
		return "unknown_authority"
	case errors.As(err, &invalid):
		if invalid.Reason == x509.Expired {
			return "expired"
		}
		return "invalid"
	default:
		return "other"
	}
}
