/*
Package core holds the scanning engine of issuerscan: the shared stat table, the
certificate gate that runs inside every TLS handshake, the single-domain probe, and
the scanner that drives probes under a fixed concurrency ceiling.
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

import "errors"

// customError is an error type that includes a retryable flag.
// Nothing in a scan retries today; the flag records whether a later run could
// plausibly see a different outcome for the same domain.
type customError struct {
	message   string
	retryable bool
}

// NewError creates a new customError with the given message and retryable status.
func NewError(msg string, retryable bool) error {
	return &customError{
		message:   msg,
		retryable: retryable,
	}
}

// Error implements the standard Go `error` interface.
func (e *customError) Error() string {
	return e.message
}

// IsRetryable returns true if the error is designated as retryable, false otherwise.
func (e *customError) IsRetryable() bool {
	return e.retryable
}

// IsRetryable reports whether err wraps a retryable *customError.
// Unknown error types are treated as non-retryable.
func IsRetryable(err error) bool {
	var e *customError
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

var (
	// ErrCertificateRejected is returned from the TLS verification hook when the
	// peer's chain fails policy. The handshake aborts with a bad_certificate alert.
	ErrCertificateRejected = NewError("certificate rejected by policy", false)

	// ErrUnexpectedStatus marks a completed request whose status was not 2xx.
	ErrUnexpectedStatus = NewError("unexpected HTTP status", true)

	// ErrEmptyDomainList aborts a run before any probing starts.
	ErrEmptyDomainList = NewError("domain list is empty", false)

	// ErrScanCancelled is returned with a partial Result when the run context was
	// cancelled before every domain was admitted.
	ErrScanCancelled = NewError("scan cancelled", false)

	// ErrInvariantViolation means the stat table disagrees with the number of
	// admitted domains, i.e. a counting defect.
	ErrInvariantViolation = NewError("stat table invariant violated", false)
)
