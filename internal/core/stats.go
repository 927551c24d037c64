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
	"sort"
	"sync"
)

// Reserved labels of the stat table. Every other key is a CA organization name.
const (
	LabelDomainsTested      = "Domains Tested"
	LabelHTTPExceptions     = "HTTP-Exceptions"
	LabelCertificateInvalid = "Certificate invalid"
)

// ReservedLabels lists the labels pre-seeded at zero in every StatTable.
var ReservedLabels = []string{LabelDomainsTested, LabelHTTPExceptions, LabelCertificateInvalid}

// Stats is an immutable copy of a StatTable taken after mutation has stopped.
type Stats map[string]int64

// SortedLabels returns the labels in ordinal (byte-wise) order.
func (s Stats) SortedLabels() []string {
	labels := make([]string, 0, len(s))
	for label := range s {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Total sums every count in the table.
func (s Stats) Total() int64 {
	var total int64
	for _, n := range s {
		total += n
	}
	return total
}

// StatTable is the label -> count map shared by every probe of a run.
// Check-then-insert-or-increment runs as one unit under mu, so concurrent first
// writes to a new label cannot race. Nothing else is done while mu is held.
type StatTable struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewStatTable returns a table with the reserved labels seeded at zero.
func NewStatTable() *StatTable {
	counts := make(map[string]int64, 64)
	for _, label := range ReservedLabels {
		counts[label] = 0
	}
	return &StatTable{counts: counts}
}

// Increment adds one to label, inserting it with a count of 1 if absent.
func (t *StatTable) Increment(label string) {
	t.mu.Lock()
	t.counts[label]++
	t.mu.Unlock()
}

// Get returns the current count for label.
func (t *StatTable) Get(label string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[label]
}

// Snapshot copies the table. Callers read a snapshot once the run has finished.
func (t *StatTable) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(Stats, len(t.counts))
	for label, n := range t.counts {
		out[label] = n
	}
	return out
}
