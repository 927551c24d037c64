package metrics

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
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for a scan.
// Every method is safe on a nil *Metrics and a no-op while metrics are disabled.
type Metrics struct {
	// Probe metrics
	ProbesTotal    *prometheus.CounterVec
	ProbeDuration  *prometheus.HistogramVec
	ProbesInFlight prometheus.Gauge
	ProbePanics    prometheus.Counter

	// Handshake / certificate metrics
	TLSHandshakeDuration prometheus.Histogram
	IssuerTotal          *prometheus.CounterVec
	PolicyFailuresTotal  *prometheus.CounterVec
	IssuerParseFailures  prometheus.Counter

	// Network metrics
	TransportErrorsTotal *prometheus.CounterVec

	// Admission metrics
	AdmissionWait prometheus.Histogram

	issuersMu sync.Mutex
	issuers   map[string]struct{}
}

// MaxIssuerLabels caps the distinct values of the issuer label. Organization
// names come from remote servers; once the cap is reached further names are
// counted under OtherIssuerLabel. The report file is not affected.
const MaxIssuerLabels = 500

// OtherIssuerLabel collects issuers beyond MaxIssuerLabels.
const OtherIssuerLabel = "other"

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled = true
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// Registry exposes the registry the metrics are registered with.
func Registry() *prometheus.Registry {
	return registry
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30}

	return &Metrics{
		issuers: make(map[string]struct{}, MaxIssuerLabels),
		ProbesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "issuerscan_probes_total",
				Help: "Total number of completed probes by outcome",
			},
			[]string{"outcome"},
		),
		ProbeDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "issuerscan_probe_duration_seconds",
				Help:    "Wall-clock time of a probe from admission to completion",
				Buckets: buckets,
			},
			[]string{"outcome"},
		),
		ProbesInFlight: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "issuerscan_probes_in_flight",
				Help: "Number of probes currently running",
			},
		),
		ProbePanics: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "issuerscan_probe_panics_total",
				Help: "Total number of panics recovered inside probes",
			},
		),
		TLSHandshakeDuration: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "issuerscan_tls_handshake_duration_seconds",
				Help:    "Time spent on TLS handshakes, including the verification hook",
				Buckets: buckets,
			},
		),
		IssuerTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "issuerscan_issuer_total",
				Help: "Accepted certificates by issuing CA organization",
			},
			[]string{"issuer"},
		),
		PolicyFailuresTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "issuerscan_certificate_policy_failures_total",
				Help: "Rejected certificates by reason",
			},
			[]string{"reason"},
		),
		IssuerParseFailures: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "issuerscan_issuer_parse_failures_total",
				Help: "Accepted certificates whose issuer organization could not be extracted",
			},
		),
		TransportErrorsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "issuerscan_transport_errors_total",
				Help: "Probe transport failures by error type and whether a later run could succeed",
			},
			[]string{"error_type", "retryable"},
		),
		AdmissionWait: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "issuerscan_admission_wait_seconds",
				Help:    "Time the scanner waited for a free slot before admitting a probe",
				Buckets: buckets,
			},
		),
	}
}

func (m *Metrics) active() bool {
	return m != nil && metricsEnabled
}

// ObserveProbe records a finished probe.
func (m *Metrics) ObserveProbe(outcome string, d time.Duration) {
	if !m.active() {
		return
	}
	m.ProbesTotal.WithLabelValues(outcome).Inc()
	m.ProbeDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveHandshake records one TLS handshake duration.
func (m *Metrics) ObserveHandshake(d time.Duration) {
	if !m.active() {
		return
	}
	m.TLSHandshakeDuration.Observe(d.Seconds())
}

// ProbeStarted increments the in-flight gauge.
func (m *Metrics) ProbeStarted() {
	if !m.active() {
		return
	}
	m.ProbesInFlight.Inc()
}

// ProbeFinished decrements the in-flight gauge.
func (m *Metrics) ProbeFinished() {
	if !m.active() {
		return
	}
	m.ProbesInFlight.Dec()
}

// RecordPanic counts a recovered probe panic.
func (m *Metrics) RecordPanic() {
	if !m.active() {
		return
	}
	m.ProbePanics.Inc()
}

// RecordIssuer counts an accepted certificate for issuer.
func (m *Metrics) RecordIssuer(issuer string) {
	if !m.active() {
		return
	}
	m.IssuerTotal.WithLabelValues(m.issuerLabel(issuer)).Inc()
}

func (m *Metrics) issuerLabel(issuer string) string {
	m.issuersMu.Lock()
	defer m.issuersMu.Unlock()
	if _, ok := m.issuers[issuer]; ok {
		return issuer
	}
	if len(m.issuers) >= MaxIssuerLabels {
		return OtherIssuerLabel
	}
	m.issuers[issuer] = struct{}{}
	return issuer
}

// RecordPolicyFailure counts a rejected certificate.
func (m *Metrics) RecordPolicyFailure(reason string) {
	if !m.active() {
		return
	}
	m.PolicyFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordIssuerParseFailure counts an accepted certificate without a label.
func (m *Metrics) RecordIssuerParseFailure() {
	if !m.active() {
		return
	}
	m.IssuerParseFailures.Inc()
}

// RecordTransportError counts a transport failure of kind errorType.
func (m *Metrics) RecordTransportError(errorType string, retryable bool) {
	if !m.active() {
		return
	}
	m.TransportErrorsTotal.WithLabelValues(errorType, strconv.FormatBool(retryable)).Inc()
}

// ObserveAdmissionWait records how long admission of one probe was blocked.
func (m *Metrics) ObserveAdmissionWait(d time.Duration) {
	if !m.active() {
		return
	}
	m.AdmissionWait.Observe(d.Seconds())
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string) error {
	if !metricsEnabled {
		return nil
	}

	// Only start once
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Info().Str("addr", addr).Msg("starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	})

	return nil
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		log.Info().Msg("shutting down metrics server")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}
