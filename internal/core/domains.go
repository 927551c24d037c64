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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/xxh3"
)

// LoadDomains reads a ranked list of "<rank>,<domain>" lines. The domain is
// everything after the first comma, or the whole line if there is none. Blank
// lines are skipped; duplicates are kept and probed independently.
func LoadDomains(r io.Reader) ([]string, error) {
	var domains []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, ','); i >= 0 {
			line = line[i+1:]
		}
		domain := normalizeDomain(line)
		if domain == "" {
			continue
		}
		domains = append(domains, domain)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed reading domain list: %w", err)
	}
	if len(domains) == 0 {
		return nil, ErrEmptyDomainList
	}
	return domains, nil
}

// normalizeDomain lowercases the host and strips surrounding whitespace and the
// root dot, so "Example.COM." and "example.com" are the same request.
func normalizeDomain(field string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(field), "."))
}

// LoadDomainsFile opens path and reads it with LoadDomains.
func LoadDomainsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open domain list %q: %w", path, err)
	}
	defer f.Close()

	domains, err := LoadDomains(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return domains, nil
}

// DomainListDigest identifies an input list across runs. It is a NON-CRYPTOGRAPHIC
// xxh3 hash over the domains in order.
func DomainListDigest(domains []string) string {
	h := xxh3.New()
	for _, d := range domains {
		_, _ = h.WriteString(d)
		_, _ = h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
