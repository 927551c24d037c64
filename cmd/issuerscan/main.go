/*
Package main is the entry point for the issuerscan command-line application.

issuerscan connects to every domain of a ranked list over HTTPS, validates the
certificate each server presents and counts the organization of the issuing CA.
The result is a label,count report, optionally mirrored into PostgreSQL.

Configuration comes from an optional YAML file (--config) overlaid by any flag
given explicitly on the command line. Logging uses zerolog; every line of a run
carries its run_id. Graceful shutdown on SIGINT/SIGTERM stops admitting new
probes, lets running ones finish and still writes the partial report.
*/
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
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/x-stp/issuerscan/internal/config"
	"github.com/x-stp/issuerscan/internal/core"
	"github.com/x-stp/issuerscan/internal/metrics"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags (persistent across commands)
var (
	configFile string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "issuerscan",
	Short: "issuerscan - measures which certificate authorities sign the web's TLS certificates",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel, logFormat)
	},
	SilenceUsage: true,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe every domain of a ranked list and count certificate issuers",
	Long: `Reads "<rank>,<domain>" lines, performs one HTTPS GET per domain with at most
--concurrency probes in flight and writes "<label>,<count>" lines sorted by label.
Besides CA organization names the report holds three reserved labels:
"Domains Tested", "Certificate invalid" and "HTTP-Exceptions".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runScan(cmd, conf)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "issuerscan %s\n", version)
	},
}

func init() {
	defaults := config.Default()

	// Persistent flags (available for all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file; flags given explicitly override it")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaults.Log.Level, "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", defaults.Log.Format, "Log format: auto, console or json")

	// Flags for the scan command
	scanCmd.Flags().StringP("input", "i", defaults.Input, "Ranked domain list (<rank>,<domain> per line)")
	scanCmd.Flags().StringP("output", "o", defaults.Output, "Report file (<label>,<count> per line)")
	scanCmd.Flags().IntP("concurrency", "c", core.DefaultConcurrency, "Maximum number of probes in flight")
	scanCmd.Flags().Float64("rate", 0, "Global admission rate in probes/second (0 disables pacing)")
	scanCmd.Flags().Duration("timeout", 0, "Per-probe request timeout, including redirects (0 for default)")
	scanCmd.Flags().Duration("handshake-timeout", 0, "TLS handshake timeout (0 for default)")
	scanCmd.Flags().Bool("turbo", false, "Shorter timeouts and fewer redirects for very large lists")
	scanCmd.Flags().String("roots", "", "PEM bundle of trust anchors (default: system roots)")
	scanCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090 (issuer label capped at "+strconv.Itoa(metrics.MaxIssuerLabels)+" values)")
	scanCmd.Flags().String("postgres-dsn", "", "Also store the report in PostgreSQL (env "+config.PostgresDSNEnv+")")
	scanCmd.Flags().Bool("ensure-schema", false, "Create the PostgreSQL tables if missing")

	// Add subcommands to the root command
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
