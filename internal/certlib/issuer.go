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
	"strings"
)

// orgMarker introduces the organization attribute in a rendered distinguished name.
const orgMarker = "O="

// Errors returned by ExtractOrganization. Issuer strings come from arbitrary remote
// servers, so every malformed shape maps to one of these instead of a partial label.
var (
	ErrNoOrganization           = errors.New("issuer has no O= attribute")
	ErrUnterminatedOrganization = errors.New("issuer O= attribute is not followed by a separator")
	ErrEmptyOrganization        = errors.New("issuer O= attribute is empty")
)

// ExtractOrganization returns the value of the O= attribute of a rendered issuer
// distinguished name, e.g. "CN=R3, O=Let's Encrypt, C=US" yields "Let's Encrypt".
//
// The value runs from just after the marker (skipping one opening quote) up to the
// next comma. A closing quote or an escaping backslash directly before that comma
// is dropped. Commas inside quoted or escaped values are not unescaped:
// `O="Example, Inc.", C=US` and `O=Example\, Inc.,C=US` both yield "Example".
// An organization that is the last attribute has no terminating comma
// and is reported as ErrUnterminatedOrganization.
func ExtractOrganization(issuer string) (string, error) {
	idx := indexOrgMarker(issuer)
	if idx < 0 {
		return "", ErrNoOrganization
	}

	start := idx + len(orgMarker)
	quoted := false
	if start < len(issuer) && issuer[start] == '"' {
		start++
		quoted = true
	}
	if start >= len(issuer) {
		return "", ErrUnterminatedOrganization
	}

	n := strings.IndexByte(issuer[start:], ',')
	if n < 0 {
		return "", ErrUnterminatedOrganization
	}
	end := start + n
	switch {
	case quoted && end > start && issuer[end-1] == '"':
		end--
	case escapedAt(issuer, start, end):
		// pkix.Name.String renders "Example, Inc." as Example\, Inc.; the
		// label keeps the text before the comma without the escape.
		end--
	}
	if end <= start {
		return "", ErrEmptyOrganization
	}
	return issuer[start:end], nil
}

// escapedAt reports whether the comma at s[end] is escaped by an odd run of
// backslashes inside s[start:end].
func escapedAt(s string, start, end int) bool {
	run := 0
	for i := end - 1; i >= start && s[i] == '\\'; i-- {
		run++
	}
	return run%2 == 1
}

// indexOrgMarker finds the first O= that starts an attribute rather than sitting
// inside another attribute's value (as in "CN=GEO=1").
func indexOrgMarker(s string) int {
	for off := 0; off < len(s); {
		i := strings.Index(s[off:], orgMarker)
		if i < 0 {
			return -1
		}
		i += off
		if i == 0 {
			return 0
		}
		switch s[i-1] {
		case ',', ' ', '+':
			return i
		}
		off = i + 1
	}
	return -1
}

// IssuerLabel extracts the CA organization label from a parsed certificate's issuer.
func IssuerLabel(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", ErrNoOrganization
	}
	return ExtractOrganization(cert.Issuer.String())
}
