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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/x-stp/issuerscan/internal/metrics"
)

// ScannerConfig holds the admission-control parameters of a run.
type ScannerConfig struct {
	// Concurrency is the ceiling on probes in flight. Non-positive means DefaultConcurrency.
	Concurrency int
	// Rate paces admissions across the whole run in probes per second. Zero disables pacing.
	Rate float64
	// ProgressEvery is the number of completions between progress lines. Zero means ProgressInterval.
	ProgressEvery int64
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// Result is what a scan hands to the persistence layer.
type Result struct {
	Stats     Stats
	Loaded    int
	Admitted  int
	StartedAt time.Time
	Elapsed   time.Duration
}

// Complete reports whether every loaded domain was admitted.
func (r *Result) Complete() bool {
	return r.Admitted == r.Loaded
}

// CheckInvariant verifies that "Domains Tested" equals the number of admitted
// domains (the whole list for a complete run). A mismatch is a counting defect.
func (r *Result) CheckInvariant() error {
	if got := r.Stats[LabelDomainsTested]; got != int64(r.Admitted) {
		return fmt.Errorf("%w: %q=%d but %d domains were admitted (%d loaded)",
			ErrInvariantViolation, LabelDomainsTested, got, r.Admitted, r.Loaded)
	}
	return nil
}

// Scanner drives one bounded-concurrency pass over a domain list.
// Admission is a weighted semaphore of size Concurrency; the drain barrier is a
// WaitGroup. A Scanner and its StatTable serve a single run.
type Scanner struct {
	stats     *StatTable
	prober    DomainProber
	config    ScannerConfig
	completed atomic.Int64
	inFlight  atomic.Int64
	peak      atomic.Int64
}

// NewScanner creates a scanner for one run.
func NewScanner(stats *StatTable, prober DomainProber, config *ScannerConfig) *Scanner {
	cfg := ScannerConfig{Logger: zerolog.Nop()}
	if config != nil {
		cfg = *config
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = ProgressInterval
	}
	return &Scanner{stats: stats, prober: prober, config: cfg}
}

// Completed returns the number of probes that have finished so far.
func (s *Scanner) Completed() int64 {
	return s.completed.Load()
}

// PeakInFlight returns the highest number of simultaneously running probes seen.
func (s *Scanner) PeakInFlight() int64 {
	return s.peak.Load()
}

// Scan probes every domain with at most Concurrency probes in flight and waits for
// all of them. Cancelling ctx stops admission; probes already running finish under
// their own transport timeouts and the partial result is returned with
// ErrScanCancelled. No other error is returned: per-domain failures live in Stats.
func (s *Scanner) Scan(ctx context.Context, domains []string) (*Result, error) {
	started := time.Now()
	sem := semaphore.NewWeighted(int64(s.config.Concurrency))
	var limiter *rate.Limiter
	if s.config.Rate > 0 {
		burst := max(1, int(s.config.Rate))
		limiter = rate.NewLimiter(rate.Limit(s.config.Rate), burst)
	}

	// Running probes must not observe run cancellation, or a shutdown would turn
	// every in-flight handshake into a spurious transport failure.
	probeCtx := context.WithoutCancel(ctx)

	s.config.Logger.Info().
		Int("domains", len(domains)).
		Int("concurrency", s.config.Concurrency).
		Float64("rate", s.config.Rate).
		Msg("scan starting")

	var wg sync.WaitGroup
	admitted := 0
admission:
	for _, domain := range domains {
		waitStart := time.Now()
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break admission
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break admission
		}
		s.config.Metrics.ObserveAdmissionWait(time.Since(waitStart))

		admitted++
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			defer sem.Release(1)
			s.runProbe(probeCtx, domain)
		}(domain)
	}

	wg.Wait()

	result := &Result{
		Stats:     s.stats.Snapshot(),
		Loaded:    len(domains),
		Admitted:  admitted,
		StartedAt: started,
		Elapsed:   time.Since(started),
	}
	s.config.Logger.Info().
		Int("admitted", admitted).
		Int64("completed", s.completed.Load()).
		Int64("peak_in_flight", s.peak.Load()).
		Dur("elapsed", result.Elapsed).
		Msg("scan finished")

	if !result.Complete() {
		return result, fmt.Errorf("%w after %d of %d domains: %v", ErrScanCancelled, admitted, len(domains), context.Cause(ctx))
	}
	return result, nil
}

// runProbe wraps a single probe with progress accounting. A panicking probe is
// logged and counted as completed; it never takes the scan down.
func (s *Scanner) runProbe(ctx context.Context, domain string) {
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	s.config.Metrics.ProbeStarted()

	defer func() {
		if r := recover(); r != nil {
			s.config.Metrics.RecordPanic()
			s.config.Logger.Error().Str("domain", domain).Interface("panic", r).Msg("panic recovered in probe")
		}
		s.inFlight.Add(-1)
		s.config.Metrics.ProbeFinished()
		if done := s.completed.Add(1); done%s.config.ProgressEvery == 0 {
			s.config.Logger.Info().Int64("checked", done).Msgf("%d Domains Checked", done)
		}
	}()

	s.prober.Probe(ctx, domain)
}
