package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveProbe("success", time.Second)
		m.ProbeStarted()
		m.ProbeFinished()
		m.RecordIssuer("Test CA")
		m.RecordPolicyFailure("expired")
		m.RecordIssuerParseFailure()
		m.RecordTransportError("dns", false)
		m.RecordPanic()
		m.ObserveAdmissionWait(time.Millisecond)
		m.ObserveHandshake(time.Millisecond)
	})
}

func TestRecordIssuerWhenEnabled(t *testing.T) {
	EnableMetrics()
	m := GetMetrics()
	assert.Same(t, m, GetMetrics())

	before := testutil.ToFloat64(m.IssuerTotal.WithLabelValues("Metrics Test CA"))
	m.RecordIssuer("Metrics Test CA")
	m.RecordIssuer("Metrics Test CA")
	assert.Equal(t, before+2, testutil.ToFloat64(m.IssuerTotal.WithLabelValues("Metrics Test CA")))

	m.ProbeStarted()
	m.ProbeStarted()
	m.ProbeFinished()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbesInFlight))
	m.ProbeFinished()
}

func TestIssuerLabelsAreCapped(t *testing.T) {
	t.Parallel()

	m := &Metrics{issuers: make(map[string]struct{})}
	for i := 0; i < MaxIssuerLabels; i++ {
		assert.Equal(t, fmt.Sprintf("CA %d", i), m.issuerLabel(fmt.Sprintf("CA %d", i)))
	}
	assert.Equal(t, OtherIssuerLabel, m.issuerLabel("One Too Many CA"))
	assert.Equal(t, "CA 7", m.issuerLabel("CA 7"), "known issuers keep their label")
}

func TestRecordTransportErrorLabelsRetryable(t *testing.T) {
	EnableMetrics()
	m := GetMetrics()

	before := testutil.ToFloat64(m.TransportErrorsTotal.WithLabelValues("timeout", "true"))
	m.RecordTransportError("timeout", true)
	assert.Equal(t, before+1, testutil.ToFloat64(m.TransportErrorsTotal.WithLabelValues("timeout", "true")))
}
