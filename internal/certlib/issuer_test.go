package certlib

import (
	"crypto/x509/pkix"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-stp/issuerscan/internal/testpki"
)

func TestExtractOrganization(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		issuer  string
		want    string
		wantErr error
	}{
		{"Spaced separators", "CN=example, O=Example CA, C=US", "Example CA", nil},
		{"Go rendering", "CN=R3,O=Let's Encrypt,C=US", "Let's Encrypt", nil},
		{"Organization first", "O=DigiCert Inc,OU=www.digicert.com,CN=DigiCert TLS RSA SHA256 2020 CA1", "DigiCert Inc", nil},
		{"Quoted with embedded comma stops at comma", `O="Example, Inc.", C=US`, "Example", nil},
		{"Quoted without comma drops closing quote", `CN=x, O="Acme", C=US`, "Acme", nil},
		{"Escaped comma stops before the escape", `CN=x,O=Example\, Inc.,C=US`, "Example", nil},
		{"Escaped backslash before real comma is kept", `CN=x,O=Back\\,C=US`, `Back\\`, nil},
		{"Only an escaped comma", `CN=x,O=\, Inc.,C=US`, "", ErrEmptyOrganization},
		{"Multi-valued RDN", "CN=x+O=Plus Org,C=US", "Plus Org", nil},
		{"Marker inside another value is skipped", "CN=GEO=1,O=Real Org,C=US", "Real Org", nil},
		{"OU is not O", "OU=Unit,CN=x,C=US", "", ErrNoOrganization},
		{"No organization", "CN=example, C=US", "", ErrNoOrganization},
		{"Empty string", "", "", ErrNoOrganization},
		{"Organization last", "CN=example,O=Solo CA", "", ErrUnterminatedOrganization},
		{"Bare marker at end", "CN=example,O=", "", ErrUnterminatedOrganization},
		{"Quote at end", `CN=example,O="`, "", ErrUnterminatedOrganization},
		{"Empty value", "CN=example,O=,C=US", "", ErrEmptyOrganization},
		{"Empty quoted value", `CN=example,O="",C=US`, "", ErrEmptyOrganization},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractOrganization(tc.issuer)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIssuerLabelFromCertificate(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, pkix.Name{CommonName: "Test CA Root", Organization: []string{"Test CA"}, Country: []string{"US"}})
	leaf := ca.IssueValid(t, "good.example")

	label, err := IssuerLabel(leaf.Cert)
	require.NoError(t, err)
	assert.Equal(t, "Test CA", label)

	solo := testpki.NewCA(t, pkix.Name{Organization: []string{"Solo"}})
	_, err = IssuerLabel(solo.IssueValid(t, "solo.example").Cert)
	assert.ErrorIs(t, err, ErrUnterminatedOrganization)

	_, err = IssuerLabel(nil)
	assert.ErrorIs(t, err, ErrNoOrganization)
}

func TestIssuerLabelWithCommaInOrganization(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, pkix.Name{
		CommonName:   "Go Daddy Secure Certificate Authority - G2",
		Organization: []string{"GoDaddy.com, Inc."},
		Country:      []string{"US"},
	})
	leaf := ca.IssueValid(t, "shop.example")
	require.Contains(t, leaf.Cert.Issuer.String(), `O=GoDaddy.com\, Inc.`)

	label, err := IssuerLabel(leaf.Cert)
	require.NoError(t, err)
	assert.Equal(t, "GoDaddy.com", label)
}

func FuzzExtractOrganization(f *testing.F) {
	for _, seed := range []string{"CN=a, O=b, C=c", `O="`, "O=", "", "O=,", `O="a,b"`} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, issuer string) {
		label, err := ExtractOrganization(issuer)
		if err == nil && label == "" {
			t.Fatalf("empty label without error for %q", issuer)
		}
	})
}
