// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package journalsync

import (
	"context"
	"fmt"

	"github.com/andrewhuhh/journal/remote"
)

// Mutations are remote-first: the backend write must succeed before the
// cache or any derived index is touched. The cache therefore never holds a
// record the backend rejected, and a failed write leaves local state
// byte-for-byte unchanged. There is no transaction spanning both stores;
// this ordering is the consistency mechanism.

// CreateEntry writes a new entry to the backend, then mirrors the stored
// record (with its assigned id) into the cache and the date index. The
// returned entry is the backend's canonical copy.
func (s *SyncContext) CreateEntry(ctx context.Context, e *remote.Entry) (*remote.Entry, error) {
	e.OwnerID = s.userID
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid entry: %w", err)
	}

	written, err := s.repo.WriteEntry(ctx, e)
	if err != nil {
		return nil, err // no optimistic insert; cache untouched
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.store.UpsertEntry(ctx, written); err != nil {
		// The write landed; a failed mirror only costs a future delta fetch.
		s.logger.Warn("failed to mirror created entry into cache", "id", written.ID, "error", err)
		return written, nil
	}
	if err := s.addDateToIndex(ctx, DateKey(written.Timestamp)); err != nil {
		s.logger.Warn("failed to update date index", "id", written.ID, "error", err)
	}
	return written, nil
}

// UpdateEntry patches an entry on the backend and overwrites the cached
// record with the returned full copy. Unspecified patch fields are left
// unchanged by the backend.
func (s *SyncContext) UpdateEntry(ctx context.Context, id string, patch remote.EntryPatch) (*remote.Entry, error) {
	s.writeMu.Lock()
	prev, err := s.store.GetEntry(ctx, id)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warn("cache read failed before update", "id", id, "error", err)
		prev = nil
	}

	updated, err := s.repo.UpdateEntry(ctx, id, patch)
	if err != nil {
		return nil, err // cache untouched, no partial local mutation
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.store.UpsertEntry(ctx, updated); err != nil {
		s.logger.Warn("failed to mirror updated entry into cache", "id", id, "error", err)
		return updated, nil
	}

	// Moving an entry across days shifts the date index on both sides. With
	// no cached copy the old day is unknown, so only the new day is recorded;
	// a stale old day falls out on the next cold rebuild.
	if prev == nil || DateKey(prev.Timestamp) != DateKey(updated.Timestamp) {
		if err := s.addDateToIndex(ctx, DateKey(updated.Timestamp)); err != nil {
			s.logger.Warn("failed to update date index", "id", id, "error", err)
		}
		if prev != nil {
			if empty, err := s.dayIsEmpty(ctx, DateKey(prev.Timestamp)); err == nil && empty {
				if err := s.removeDateFromIndex(ctx, DateKey(prev.Timestamp)); err != nil {
					s.logger.Warn("failed to update date index", "id", id, "error", err)
				}
			}
		}
	}
	return updated, nil
}

// DeleteEntry cascades: every referenced image blob is deleted first,
// best-effort — a blob failure is logged and skipped, never blocking the
// record delete. The backend record delete must succeed; only then is the
// cached copy removed and the date index trimmed when this was the last
// entry of its day.
func (s *SyncContext) DeleteEntry(ctx context.Context, id string) error {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		s.logger.Warn("cache read failed before delete", "id", id, "error", err)
		entry = nil
	}
	if entry == nil {
		// Not cached (or unreadable): ask the backend for the image refs.
		entry, err = s.repo.GetEntry(ctx, id)
		if err != nil {
			return fmt.Errorf("cannot resolve entry %s for delete: %w", id, err)
		}
	}

	for _, ref := range entry.Images {
		if err := s.repo.DeleteBlob(ctx, ref); err != nil {
			s.logger.Warn("image cleanup failed, continuing delete",
				"id", id, "error", &BlobDeleteError{Ref: ref, Err: err})
		}
	}

	if err := s.repo.DeleteEntry(ctx, id); err != nil {
		return err // cache untouched
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	remaining, dayKey, err := s.store.DeleteEntry(ctx, id)
	if err != nil {
		s.logger.Warn("failed to remove deleted entry from cache", "id", id, "error", err)
		return nil
	}
	if dayKey != "" && remaining == 0 {
		if err := s.removeDateFromIndex(ctx, dayKey); err != nil {
			s.logger.Warn("failed to update date index", "id", id, "error", err)
		}
	}
	return nil
}

// dayIsEmpty reports whether no cached entry of this user remains on the
// given calendar day.
func (s *SyncContext) dayIsEmpty(ctx context.Context, dayKey string) (bool, error) {
	entries, err := s.store.EntriesForOwner(ctx, s.userID)
	if err != nil {
		return false, err
	}
	for i := range entries {
		if DateKey(entries[i].Timestamp) == dayKey {
			return false, nil
		}
	}
	return true, nil
}
