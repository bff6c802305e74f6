// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package journalsync

import "fmt"

// CacheAccessError wraps a local store open/read/write failure. It is
// non-fatal: the sync engine falls back to treating the cache as empty.
type CacheAccessError struct {
	Op  string
	Err error
}

func (e *CacheAccessError) Error() string {
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Err)
}

func (e *CacheAccessError) Unwrap() error { return e.Err }

// DuplicateSurveyError reports an attempt to store a second completed
// survey for a day that already has one. Not retried automatically; the
// caller surfaces it as a user-facing conflict.
type DuplicateSurveyError struct {
	OwnerID    string
	TargetDate string
}

func (e *DuplicateSurveyError) Error() string {
	return fmt.Sprintf("completed survey already exists for %s on %s", e.OwnerID, e.TargetDate)
}

// BlobDeleteError reports a failed image cleanup during entry deletion.
// Always logged and swallowed; never blocks the owning record's delete.
type BlobDeleteError struct {
	Ref string
	Err error
}

func (e *BlobDeleteError) Error() string {
	return fmt.Sprintf("failed to delete image blob %s: %v", e.Ref, e.Err)
}

func (e *BlobDeleteError) Unwrap() error { return e.Err }
