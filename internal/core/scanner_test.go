package core

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProber mimics Prober's accounting without touching the network: every
// domain counts as tested, then lands on a label chosen by its name.
type fakeProber struct {
	stats   *StatTable
	delay   time.Duration
	running atomic.Int64
	maxSeen atomic.Int64
	release chan struct{}
}

func (f *fakeProber) Probe(ctx context.Context, domain string) Outcome {
	f.stats.Increment(LabelDomainsTested)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	switch {
	case strings.HasPrefix(domain, "panic"):
		panic("probe exploded")
	case strings.HasPrefix(domain, "bad"):
		f.stats.Increment(LabelCertificateInvalid)
		return OutcomeCertificateInvalid
	case strings.HasPrefix(domain, "down"):
		f.stats.Increment(LabelHTTPExceptions)
		return OutcomeTransportFailure
	default:
		f.stats.Increment("CA " + domain[len(domain)-1:])
		return OutcomeSuccess
	}
}

func testDomains(n int) []string {
	domains := make([]string, 0, n)
	for i := 0; i < n; i++ {
		switch i % 5 {
		case 0:
			domains = append(domains, fmt.Sprintf("bad%d.example", i))
		case 1:
			domains = append(domains, fmt.Sprintf("down%d.example", i))
		default:
			domains = append(domains, fmt.Sprintf("ok%d.example-%c", i, 'a'+i%3))
		}
	}
	return domains
}

func runScan(t *testing.T, concurrency int, domains []string) (*Result, *Scanner, *fakeProber) {
	t.Helper()
	stats := NewStatTable()
	prober := &fakeProber{stats: stats, delay: time.Millisecond}
	s := NewScanner(stats, prober, &ScannerConfig{Concurrency: concurrency, Logger: zerolog.Nop()})
	res, err := s.Scan(context.Background(), domains)
	require.NoError(t, err)
	return res, s, prober
}

func TestScanConcurrencyDoesNotChangeTotals(t *testing.T) {
	t.Parallel()

	domains := testDomains(60)
	serial, s1, p1 := runScan(t, 1, domains)
	parallel, s5, p5 := runScan(t, 5, domains)

	assert.Equal(t, serial.Stats, parallel.Stats)
	assert.Equal(t, int64(len(domains)), serial.Stats[LabelDomainsTested])
	assert.Equal(t, int64(12), serial.Stats[LabelCertificateInvalid])
	assert.Equal(t, int64(12), serial.Stats[LabelHTTPExceptions])

	assert.Equal(t, int64(1), s1.PeakInFlight())
	assert.Equal(t, int64(1), p1.maxSeen.Load())
	assert.LessOrEqual(t, s5.PeakInFlight(), int64(5))
	assert.LessOrEqual(t, p5.maxSeen.Load(), int64(5))
	assert.Equal(t, int64(len(domains)), s5.Completed())
}

func TestScanListShorterThanCeiling(t *testing.T) {
	t.Parallel()

	domains := []string{"ok0.example-a", "bad1.example", "ok2.example-a"}
	res, s, _ := runScan(t, 1000, domains)

	assert.True(t, res.Complete())
	assert.NoError(t, res.CheckInvariant())
	assert.Equal(t, 3, res.Admitted)
	assert.Equal(t, int64(2), res.Stats["CA a"])
	assert.LessOrEqual(t, s.PeakInFlight(), int64(3))
}

func TestScanBlocksAdmissionAtCeiling(t *testing.T) {
	t.Parallel()

	const ceiling = 4
	stats := NewStatTable()
	prober := &fakeProber{stats: stats, release: make(chan struct{})}
	s := NewScanner(stats, prober, &ScannerConfig{Concurrency: ceiling})

	done := make(chan *Result, 1)
	go func() {
		res, _ := s.Scan(context.Background(), testDomains(20))
		done <- res
	}()

	require.Eventually(t, func() bool { return prober.running.Load() == ceiling }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(ceiling), prober.running.Load(), "admission must stop at the ceiling")

	close(prober.release)
	select {
	case res := <-done:
		assert.Equal(t, 20, res.Admitted)
		assert.NoError(t, res.CheckInvariant())
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not drain")
	}
	assert.Equal(t, int64(ceiling), prober.maxSeen.Load())
}

func TestScanLogsProgressEveryInterval(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	stats := NewStatTable()
	s := NewScanner(stats, &fakeProber{stats: stats}, &ScannerConfig{
		Concurrency: 8,
		Logger:      zerolog.New(&buf),
	})
	_, err := s.Scan(context.Background(), testDomains(250))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"100 Domains Checked"`)
	assert.Contains(t, out, `"message":"200 Domains Checked"`)
	assert.NotContains(t, out, "250 Domains Checked")
	assert.Equal(t, 2, strings.Count(out, "Domains Checked"))
}

func TestScanCancelledReturnsPartialResult(t *testing.T) {
	t.Parallel()

	stats := NewStatTable()
	prober := &fakeProber{stats: stats, release: make(chan struct{})}
	s := NewScanner(stats, prober, &ScannerConfig{Concurrency: 2})

	ctx, cancel := context.WithCancel(context.Background())
	type scanResult struct {
		res *Result
		err error
	}
	done := make(chan scanResult, 1)
	go func() {
		res, err := s.Scan(ctx, testDomains(10))
		done <- scanResult{res, err}
	}()

	require.Eventually(t, func() bool { return prober.running.Load() == 2 }, 5*time.Second, time.Millisecond)
	cancel()
	close(prober.release)

	var got scanResult
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled scan did not return")
	}
	require.ErrorIs(t, got.err, ErrScanCancelled)
	require.NotNil(t, got.res)
	assert.False(t, got.res.Complete())
	assert.Equal(t, 10, got.res.Loaded)
	assert.Equal(t, 2, got.res.Admitted)
	assert.Equal(t, int64(2), got.res.Stats[LabelDomainsTested])
	assert.NoError(t, got.res.CheckInvariant())
}

func TestScanSurvivesPanickingProbe(t *testing.T) {
	t.Parallel()

	domains := []string{"panic.example", "ok1.example-a", "panic2.example"}
	res, s, _ := runScan(t, 2, domains)

	assert.Equal(t, int64(3), s.Completed())
	assert.Equal(t, int64(3), res.Stats[LabelDomainsTested])
	assert.Equal(t, int64(1), res.Stats["CA a"])
}

func TestScanEmptyList(t *testing.T) {
	t.Parallel()

	res, _, _ := runScan(t, 3, nil)
	assert.True(t, res.Complete())
	assert.Zero(t, res.Stats[LabelDomainsTested])
}

func TestResultCheckInvariant(t *testing.T) {
	t.Parallel()

	res := &Result{Stats: Stats{LabelDomainsTested: 4}, Loaded: 5, Admitted: 5}
	err := res.CheckInvariant()
	require.ErrorIs(t, err, ErrInvariantViolation)
	assert.Contains(t, err.Error(), "Domains Tested")

	res.Stats[LabelDomainsTested] = 5
	assert.NoError(t, res.CheckInvariant())
}

func TestNewScannerDefaults(t *testing.T) {
	t.Parallel()

	s := NewScanner(NewStatTable(), &fakeProber{}, nil)
	assert.Equal(t, DefaultConcurrency, s.config.Concurrency)
	assert.Equal(t, int64(ProgressInterval), s.config.ProgressEvery)
}

// syncBuffer serialises writes from concurrently logging goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
