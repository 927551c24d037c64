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
	"fmt"

	"github.com/zeebo/xxh3"
)

// SubjectData holds components of an X.509 Subject or Issuer Name.
type SubjectData struct {
	Aggregated string `json:"aggregated"`
	C          string `json:"C,omitempty"`
	O          string `json:"O,omitempty"`
	CN         string `json:"CN,omitempty"`
}

// CertificateData is the diagnostic view of a peer certificate used in debug logs.
// Nothing here is persisted; only aggregate counts leave a run.
type CertificateData struct {
	Subject   SubjectData
	Issuer    SubjectData
	NotBefore int64
	NotAfter  int64
	DNSNames  []string
	raw       []byte
}

// Fingerprint is a NON-CRYPTOGRAPHIC xxh3 hash of the DER bytes, good enough to
// correlate log lines about the same certificate.
func (c *CertificateData) Fingerprint() string {
	return fmt.Sprintf("%016x", xxh3.Hash(c.raw))
}

func subjectFromName(aggregated string, cn string, country, org []string) SubjectData {
	sd := SubjectData{Aggregated: aggregated, CN: cn}
	if len(country) > 0 {
		sd.C = country[0]
	}
	if len(org) > 0 {
		sd.O = org[0]
	}
	return sd
}

// CertificateFromX509 builds the diagnostic view of cert.
func CertificateFromX509(cert *x509.Certificate) *CertificateData {
	return &CertificateData{
		Subject:   subjectFromName(cert.Subject.String(), cert.Subject.CommonName, cert.Subject.Country, cert.Subject.Organization),
		Issuer:    subjectFromName(cert.Issuer.String(), cert.Issuer.CommonName, cert.Issuer.Country, cert.Issuer.Organization),
		NotBefore: cert.NotBefore.Unix(),
		NotAfter:  cert.NotAfter.Unix(),
		DNSNames:  cert.DNSNames,
		raw:       cert.Raw,
	}
}
