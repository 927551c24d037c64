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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/x-stp/issuerscan/internal/config"
)

// loadConfig reads --config and applies every flag the user set explicitly.
// Flags left at their defaults never override file values.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	conf, err := config.Load(configFile)
	if err != nil {
		return conf, err
	}
	if err := applyFlags(cmd.Flags(), &conf); err != nil {
		return conf, err
	}
	if cmd.Flags().Changed("log-level") || conf.Log.Level == "" {
		conf.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") || conf.Log.Format == "" {
		conf.Log.Format = logFormat
	}
	if err := conf.Validate(); err != nil {
		return conf, fmt.Errorf("invalid configuration: %w", err)
	}
	// The file may have chosen a different level or format than the flags did.
	if configFile != "" {
		if err := setupLogging(conf.Log.Level, conf.Log.Format); err != nil {
			return conf, err
		}
	}
	return conf, nil
}

func applyFlags(flags *pflag.FlagSet, conf *config.Config) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "input":
			conf.Input, err = flags.GetString(f.Name)
		case "output":
			conf.Output, err = flags.GetString(f.Name)
		case "concurrency":
			conf.Concurrency, err = flags.GetInt(f.Name)
		case "rate":
			conf.Rate, err = flags.GetFloat64(f.Name)
		case "timeout":
			conf.Timeouts.Request, err = flags.GetDuration(f.Name)
		case "handshake-timeout":
			conf.Timeouts.TLSHandshake, err = flags.GetDuration(f.Name)
		case "turbo":
			conf.Turbo, err = flags.GetBool(f.Name)
		case "roots":
			conf.RootsFile, err = flags.GetString(f.Name)
		case "metrics-addr":
			conf.Metrics.Addr, err = flags.GetString(f.Name)
		case "postgres-dsn":
			conf.Postgres.DSN, err = flags.GetString(f.Name)
		case "ensure-schema":
			conf.Postgres.EnsureSchema, err = flags.GetBool(f.Name)
		}
		if err != nil {
			err = fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	})
	return err
}

// durationOr returns d unless it is zero.
func durationOr(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}
