package main

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
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/x-stp/issuerscan/internal/client"
	"github.com/x-stp/issuerscan/internal/config"
	"github.com/x-stp/issuerscan/internal/core"
	"github.com/x-stp/issuerscan/internal/metrics"
	"github.com/x-stp/issuerscan/internal/store"
)

// persistTimeout bounds report persistence, which runs even after an interrupt.
const persistTimeout = 30 * time.Second

// runScan is the handler for the 'scan' command.
func runScan(cmd *cobra.Command, conf config.Config) error {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Logger()

	// 1. Load the input before touching the network; a bad list is fatal.
	domains, err := core.LoadDomainsFile(conf.Input)
	if err != nil {
		return fmt.Errorf("failed to load domain list: %w", err)
	}
	digest := core.DomainListDigest(domains)
	logger.Info().
		Str("input", conf.Input).
		Int("domains", len(domains)).
		Str("digest", digest).
		Msg("domain list loaded")

	want := uint64(conf.Concurrency) + core.FileDescriptorHeadroom
	if got, err := core.RaiseOpenFileLimit(want); err != nil {
		logger.Warn().Err(err).Uint64("nofile", got).Msg("could not raise open file limit")
	} else if got < want {
		logger.Warn().Uint64("nofile", got).Uint64("wanted", want).Msg("open file limit is below the concurrency ceiling; expect dial failures")
	}

	roots, err := loadRoots(conf.RootsFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)
	go func() {
		select {
		case <-signalChan:
			logger.Warn().Msg("interrupt received, finishing in-flight probes")
			cancel()
		case <-ctx.Done():
		}
	}()

	// 2. Open sinks up front so a bad DSN fails before hours of probing.
	sink, err := openSinks(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close report sinks")
		}
	}()

	var m *metrics.Metrics
	if conf.Metrics.Addr != "" {
		metrics.EnableMetrics()
		m = metrics.GetMetrics()
		if err := metrics.StartMetricsServer(conf.Metrics.Addr); err != nil {
			logger.Error().Err(err).Msg("failed to start metrics server")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metrics.ShutdownMetricsServer(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown failed")
			}
		}()
	}

	// 3. Wire the pipeline: scanner -> prober -> gate -> stat table.
	stats := core.NewStatTable()
	gate := core.NewCertificateGate(stats, &core.GateConfig{
		Roots:   roots,
		Logger:  logger,
		Metrics: m,
	})
	prober := core.NewProber(stats, gate, &core.ProberConfig{
		Client:  clientConfig(conf),
		Logger:  logger,
		Metrics: m,
	})
	scanner := core.NewScanner(stats, prober, &core.ScannerConfig{
		Concurrency: conf.Concurrency,
		Rate:        conf.Rate,
		Logger:      logger,
		Metrics:     m,
	})

	result, scanErr := scanner.Scan(ctx, domains)
	if scanErr != nil && !errors.Is(scanErr, core.ErrScanCancelled) {
		return scanErr
	}

	// 4. Persist whatever was measured, interrupted or not.
	report := &store.Report{
		RunID:       runID,
		InputDigest: digest,
		StartedAt:   result.StartedAt,
		FinishedAt:  result.StartedAt.Add(result.Elapsed),
		Domains:     result.Loaded,
		Complete:    result.Complete(),
		Counts:      result.Stats,
	}
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()
	if err := sink.Write(persistCtx, report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Info().Str("output", conf.Output).Int("labels", len(report.Counts)).Msg("report written")

	displayFinalScanStats(cmd.OutOrStdout(), result, conf.Output)

	if err := result.CheckInvariant(); err != nil {
		return err
	}
	return scanErr
}

// openSinks returns the report file sink plus PostgreSQL when a DSN is configured.
func openSinks(ctx context.Context, conf config.Config, logger zerolog.Logger) (store.Sink, error) {
	sinks := store.MultiSink{store.NewFileSink(conf.Output)}
	if conf.Postgres.DSN == "" {
		return sinks, nil
	}

	pg, err := store.OpenPostgres(ctx, conf.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if conf.Postgres.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	logger.Info().Msg("postgres sink enabled")
	return append(sinks, pg), nil
}

// clientConfig maps run settings onto the probe transport.
func clientConfig(conf config.Config) *client.Config {
	base := client.DefaultConfig()
	if conf.Turbo {
		base = client.TurboConfig()
	}
	base.DialTimeout = durationOr(conf.Timeouts.Dial, base.DialTimeout)
	base.TLSHandshakeTimeout = durationOr(conf.Timeouts.TLSHandshake, base.TLSHandshakeTimeout)
	base.ResponseHeaderTimeout = durationOr(conf.Timeouts.ResponseHeader, base.ResponseHeaderTimeout)
	base.RequestTimeout = durationOr(conf.Timeouts.Request, base.RequestTimeout)
	return base
}

// loadRoots reads a PEM bundle. An empty path selects the system pool.
func loadRoots(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roots %q: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in roots %q", path)
	}
	return pool, nil
}

type issuerCount struct {
	label string
	count int64
}

// topIssuers returns the n most frequent CA labels, ties broken by label.
func topIssuers(stats core.Stats, n int) []issuerCount {
	reserved := make(map[string]bool, len(core.ReservedLabels))
	for _, l := range core.ReservedLabels {
		reserved[l] = true
	}
	var out []issuerCount
	for label, count := range stats {
		if !reserved[label] {
			out = append(out, issuerCount{label, count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].label < out[j].label
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// displayFinalScanStats shows the summary scan statistics.
func displayFinalScanStats(w io.Writer, result *core.Result, output string) {
	elapsed := result.Elapsed
	tested := result.Stats[core.LabelDomainsTested]
	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(tested) / elapsed.Seconds()
	}
	distinct := len(result.Stats) - len(core.ReservedLabels)

	fmt.Fprintln(w) // Ensure stats start on a new line
	fmt.Fprintf(w, "\n--- Final Scan Statistics ---\n")
	fmt.Fprintf(w, "    Processing Time: %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "     Domains Loaded: %d\n", result.Loaded)
	fmt.Fprintf(w, "     Domains Tested: %d\n", tested)
	fmt.Fprintf(w, "Certificate invalid: %d\n", result.Stats[core.LabelCertificateInvalid])
	fmt.Fprintf(w, "    HTTP-Exceptions: %d\n", result.Stats[core.LabelHTTPExceptions])
	fmt.Fprintf(w, "       Distinct CAs: %d\n", distinct)
	fmt.Fprintf(w, "       Overall Rate: %.0f domains/sec\n", rate)
	if !result.Complete() {
		fmt.Fprintf(w, "        Interrupted: %d of %d domains admitted\n", result.Admitted, result.Loaded)
	}
	for i, ic := range topIssuers(result.Stats, 10) {
		fmt.Fprintf(w, "  %2d. %-30s %d\n", i+1, ic.label, ic.count)
	}
	fmt.Fprintf(w, "     Report Written: %s\n", output)
	fmt.Fprintf(w, "-----------------------------\n")
}
