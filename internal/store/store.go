/*
Package store persists the aggregate table of a finished scan. Only label counts
and run metadata are written; no per-domain detail leaves a run.
*/
package store

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
	"sort"
	"time"
)

// Report is the finished stat table plus the metadata needed to tell runs apart.
type Report struct {
	RunID       string
	InputDigest string
	StartedAt   time.Time
	FinishedAt  time.Time
	Domains     int
	Complete    bool
	Counts      map[string]int64
}

// SortedLabels returns the report's labels in ordinal order.
func (r *Report) SortedLabels() []string {
	labels := make([]string, 0, len(r.Counts))
	for label := range r.Counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Sink writes a report to durable storage.
type Sink interface {
	Write(ctx context.Context, report *Report) error
	Close() error
}

// MultiSink writes to every sink and joins their errors. A failing sink does not
// prevent the others from receiving the report.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(ctx context.Context, report *Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
