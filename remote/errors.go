// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package remote

import "fmt"

// QueryError wraps a failed read against the backend. The sync core treats
// it as recoverable: cached data stays visible and the caller may retry.
type QueryError struct {
	Op         string // e.g. "query entries"
	StatusCode int    // 0 when the request never reached the backend
	Err        error
}

func (e *QueryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// WriteError wraps a failed write or delete against the backend. Writes are
// never silently dropped: this propagates to the caller and the local cache
// is left untouched.
type WriteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *WriteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
