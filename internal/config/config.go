/*
Package config holds the settings of a scan run, read from an optional YAML file
and overridden by command-line flags.
*/
package config

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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// PostgresDSNEnv supplies the database DSN so credentials stay out of config files.
const PostgresDSNEnv = "ISSUERSCAN_POSTGRES_DSN"

// Config is the full set of run settings.
type Config struct {
	Input       string  `yaml:"input"`
	Output      string  `yaml:"output"`
	Concurrency int     `yaml:"concurrency"`
	Rate        float64 `yaml:"rate"`
	Turbo       bool    `yaml:"turbo"`
	RootsFile   string  `yaml:"roots_file"`

	Timeouts Timeouts `yaml:"timeouts"`
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
	Postgres Postgres `yaml:"postgres"`
}

// Timeouts bound each probe. Zero values fall back to the client defaults.
type Timeouts struct {
	Dial           time.Duration `yaml:"dial"`
	TLSHandshake   time.Duration `yaml:"tls_handshake"`
	ResponseHeader time.Duration `yaml:"response_header"`
	Request        time.Duration `yaml:"request"`
}

// Log selects level and output format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus endpoint. An empty address disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Postgres configures the optional database sink.
type Postgres struct {
	DSN          string `yaml:"dsn"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

// Default returns the settings used when neither a file nor flags say otherwise.
func Default() Config {
	return Config{
		Input:       "top-1m.csv",
		Output:      "statistics.txt",
		Concurrency: 1000,
		Log:         Log{Level: "info", Format: "auto"},
	}
}

// Load reads a YAML file over Default(). The Postgres DSN from the environment,
// when set, wins over the file.
func Load(path string) (Config, error) {
	conf := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return conf, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.UnmarshalWithOptions(b, &conf, yaml.Strict()); err != nil {
			return conf, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if dsn := os.Getenv(PostgresDSNEnv); dsn != "" {
		conf.Postgres.DSN = dsn
	}
	return conf, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Input == "" {
		errs = append(errs, errors.New("input cannot be empty"))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("output cannot be empty"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Rate < 0 {
		errs = append(errs, fmt.Errorf("rate cannot be negative, got %v", c.Rate))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be auto, console or json, got %q", c.Log.Format))
	}
	for name, d := range map[string]time.Duration{
		"dial":            c.Timeouts.Dial,
		"tls_handshake":   c.Timeouts.TLSHandshake,
		"response_header": c.Timeouts.ResponseHeader,
		"request":         c.Timeouts.Request,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("timeout %s cannot be negative", name))
		}
	}
	return errors.Join(errs...)
}
