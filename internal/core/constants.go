/*
Package core constants that tune scan behaviour. Defaults match a desktop-class
host; large cloud instances can run ceilings in the tens of thousands.
*/
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

const (
	// DefaultConcurrency is the default ceiling on probes in flight.
	DefaultConcurrency = 1000

	// ProgressInterval is the number of completed probes between progress lines.
	ProgressInterval = 100

	// DefaultInputFile is the ranked domain list read when no input is given.
	DefaultInputFile = "top-1m.csv"

	// DefaultOutputFile receives the label,count report.
	DefaultOutputFile = "statistics.txt"

	// MaxBodyDrainBytes bounds how much of a response body a probe reads before
	// closing it. Only the status line matters; the rest is discarded.
	MaxBodyDrainBytes = 64 * 1024

	// FileDescriptorHeadroom is added to the concurrency ceiling when raising the
	// open-file limit, covering listeners, log files and the report.
	FileDescriptorHeadroom = 256
)
