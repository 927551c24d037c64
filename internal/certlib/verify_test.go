package certlib

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/issuerscan/internal/testpki"
)

func TestVerifyChain(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, pkix.Name{CommonName: "Test CA Root", Organization: []string{"Test CA"}, Country: []string{"US"}})
	other := testpki.NewCA(t, pkix.Name{CommonName: "Other Root", Organization: []string{"Other"}, Country: []string{"US"}})
	valid := ca.IssueValid(t, "good.example")
	expired := ca.IssueExpired(t, "badtls.example")

	testCases := []struct {
		name       string
		chain      []*x509.Certificate
		serverName string
		roots      *x509.CertPool
		wantKind   string
	}{
		{"Valid", valid.Chain(ca), "good.example", ca.Pool(), "none"},
		{"Leaf only", []*x509.Certificate{valid.Cert}, "good.example", ca.Pool(), "none"},
		{"Expired", expired.Chain(ca), "badtls.example", ca.Pool(), "expired"},
		{"Hostname mismatch", valid.Chain(ca), "evil.example", ca.Pool(), "hostname_mismatch"},
		{"Untrusted root", valid.Chain(ca), "good.example", other.Pool(), "unknown_authority"},
		{"No certificates", nil, "good.example", ca.Pool(), "no_certificate"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := VerifyChain(tc.chain, tc.serverName, tc.roots, time.Time{})
			assert.Equal(t, tc.wantKind, PolicyErrorKind(err), "err: %v", err)
			if tc.wantKind == "none" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestVerifyChainHonoursCurrentTime(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, pkix.Name{CommonName: "Root", Organization: []string{"Test CA"}, Country: []string{"US"}})
	expired := ca.IssueExpired(t, "badtls.example")

	err := VerifyChain(expired.Chain(ca), "badtls.example", ca.Pool(), expired.Cert.NotAfter.Add(-time.Minute))
	assert.NoError(t, err)
}

func TestCertificateFromX509(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, pkix.Name{CommonName: "Root", Organization: []string{"Test CA"}, Country: []string{"NL"}})
	leaf := ca.IssueValid(t, "good.example", "www.good.example")

	cd := CertificateFromX509(leaf.Cert)
	assert.Equal(t, "good.example", cd.Subject.CN)
	assert.Equal(t, "Test CA", cd.Issuer.O)
	assert.Equal(t, "NL", cd.Issuer.C)
	assert.Equal(t, []string{"good.example", "www.good.example"}, cd.DNSNames)
	assert.Len(t, cd.Fingerprint(), 16)
	assert.Equal(t, cd.Fingerprint(), CertificateFromX509(leaf.Cert).Fingerprint())
}
