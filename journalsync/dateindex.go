// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package journalsync

import (
	"context"
	"encoding/json"
	"sort"
)

// The date index is the set of calendar days that have at least one entry,
// kept for calendar-view lookups. It lives as a JSON blob in cache metadata,
// is maintained incrementally on entry create/move/delete, and is rebuilt
// from a full date-listing query when the cache is cold.

// EntryDates returns the sorted day keys on which the user has entries.
// When no index is cached it is rebuilt from the backend and persisted.
func (s *SyncContext) EntryDates(ctx context.Context) ([]string, error) {
	index, ok, err := s.loadDateIndex(ctx)
	if err != nil {
		s.logger.Warn("date index read failed, rebuilding", "user", s.userID, "error", err)
		ok = false
	}
	if !ok {
		dates, err := s.repo.ListEntryDates(ctx, s.userID)
		if err != nil {
			return nil, err
		}
		index = make(map[string]struct{}, len(dates))
		for _, d := range dates {
			index[d] = struct{}{}
		}
		if err := s.saveDateIndex(ctx, index); err != nil {
			s.logger.Warn("failed to persist rebuilt date index", "user", s.userID, "error", err)
		}
	}

	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// HasEntriesOn reports whether the day key is present in the index.
func (s *SyncContext) HasEntriesOn(ctx context.Context, dayKey string) (bool, error) {
	dates, err := s.EntryDates(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range dates {
		if d == dayKey {
			return true, nil
		}
	}
	return false, nil
}

func (s *SyncContext) addDateToIndex(ctx context.Context, dayKey string) error {
	index, ok, err := s.loadDateIndex(ctx)
	if err != nil {
		return err
	}
	if !ok {
		// Cold index: leave it unbuilt, the next EntryDates call rebuilds
		// from the backend and will include this day.
		return nil
	}
	if _, exists := index[dayKey]; exists {
		return nil
	}
	index[dayKey] = struct{}{}
	return s.saveDateIndex(ctx, index)
}

func (s *SyncContext) removeDateFromIndex(ctx context.Context, dayKey string) error {
	index, ok, err := s.loadDateIndex(ctx)
	if err != nil || !ok {
		return err
	}
	if _, exists := index[dayKey]; !exists {
		return nil
	}
	delete(index, dayKey)
	return s.saveDateIndex(ctx, index)
}

// loadDateIndex returns the cached index and whether one was present.
func (s *SyncContext) loadDateIndex(ctx context.Context) (map[string]struct{}, bool, error) {
	raw, err := s.store.GetMeta(ctx, dateIndexKey(s.userID))
	if err != nil {
		return nil, false, err
	}
	if raw == "" {
		return nil, false, nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		// Corrupt blob: treat as cold and rebuild lazily.
		return nil, false, nil
	}
	index := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		index[k] = struct{}{}
	}
	return index, true, nil
}

func (s *SyncContext) saveDateIndex(ctx context.Context, index map[string]struct{}) error {
	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	blob, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return s.store.SetMeta(ctx, dateIndexKey(s.userID), string(blob))
}
