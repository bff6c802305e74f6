// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package journalsync

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/andrewhuhh/journal/remote"
)

// LoadResult is what a load hands back to the UI.
type LoadResult struct {
	Entries   []remote.Entry
	FromCache bool
	Stale     bool

	// RefreshErr is set when a synchronous revalidation failed; the stale
	// cached entries are still returned (degraded result, never thrown away).
	RefreshErr error

	// RefreshDone is non-nil when a background revalidation was scheduled.
	// It receives the refresh outcome once and is then closed. Callers may
	// ignore it; a later Load will observe the merged data either way.
	RefreshDone <-chan error
}

// Load implements the cache-first read path:
//
//  1. Read cached entries and the last-sync time. The cache is valid while
//     now-lastSync < MaxAge.
//  2. Non-empty valid cache: return it, no network.
//  3. Non-empty stale cache: return it immediately and revalidate — in the
//     background when StaleWhileRevalidate is on, synchronously otherwise.
//  4. Empty cache: full paginated backfill.
//
// Query failures never clear the cache; whatever was cached stays visible.
func (s *SyncContext) Load(ctx context.Context) (*LoadResult, error) {
	entries, err := s.store.EntriesForOwner(ctx, s.userID)
	if err != nil {
		// Treat an unreadable cache as empty and fall through to backfill.
		s.logger.Warn("cache read failed, treating as empty", "user", s.userID, "error", err)
		entries = nil
	}

	if len(entries) == 0 {
		backfilled, err := s.Backfill(ctx)
		if err != nil {
			return nil, err
		}
		return &LoadResult{Entries: backfilled}, nil
	}

	if s.cacheFresh(ctx) {
		return &LoadResult{Entries: entries, FromCache: true}, nil
	}

	if s.config.StaleWhileRevalidate {
		return &LoadResult{
			Entries:     entries,
			FromCache:   true,
			Stale:       true,
			RefreshDone: s.scheduleRefresh(ctx),
		}, nil
	}

	if err := s.Refresh(ctx); err != nil {
		return &LoadResult{Entries: entries, FromCache: true, Stale: true, RefreshErr: err}, nil
	}
	merged, err := s.store.EntriesForOwner(ctx, s.userID)
	if err != nil {
		return &LoadResult{Entries: entries, FromCache: true, RefreshErr: err}, nil
	}
	return &LoadResult{Entries: merged, FromCache: true}, nil
}

// cacheFresh reports whether the last successful sync is within MaxAge.
// A missing or unparseable last-sync time counts as stale.
func (s *SyncContext) cacheFresh(ctx context.Context) bool {
	raw, err := s.store.GetMeta(ctx, lastSyncKey(s.userID))
	if err != nil || raw == "" {
		return false
	}
	lastSync, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return time.Since(lastSync) < s.config.MaxAge
}

// scheduleRefresh kicks off a background delta refresh, deduplicated per
// user: concurrent stale loads share one in-flight refresh. The returned
// channel reports the outcome once and closes.
func (s *SyncContext) scheduleRefresh(ctx context.Context) <-chan error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return nil
	}
	// The refresh must outlive the triggering request.
	bgCtx := context.WithoutCancel(ctx)
	results := s.flight.DoChan(s.userID, func() (any, error) {
		return nil, s.Refresh(bgCtx)
	})

	done := make(chan error, 1)
	go func() {
		defer close(done)
		res := <-results
		if res.Err != nil {
			s.logger.Warn("background refresh failed, cache left as-is",
				"user", s.userID, "error", res.Err)
		}
		done <- res.Err
	}()
	return done
}

// Refresh performs an incremental delta sync: fetch records whose server
// updated_at is past the persisted watermark, merge them over the cached set
// by id, re-sort by ts descending and persist. The watermark advances in the
// same transaction as the merged set, after the fetch succeeded — replaying
// the same delta is idempotent, so a crash before persist just repeats it.
func (s *SyncContext) Refresh(ctx context.Context) error {
	watermark, err := s.store.GetMeta(ctx, watermarkKey(s.userID))
	if err != nil {
		return err
	}
	if watermark == "" {
		// Never synced on this device; the full backfill owns this path.
		_, err := s.Backfill(ctx)
		return err
	}
	since, err := time.Parse(time.RFC3339Nano, watermark)
	if err != nil {
		_, err := s.Backfill(ctx)
		return err
	}

	delta, err := s.fetchAllPages(ctx, remote.EntryQuery{
		OwnerID:      s.userID,
		UpdatedAfter: since,
		PageSize:     s.config.PageSize,
	}, 0)
	if err != nil {
		return err
	}

	if len(delta) == 0 {
		// Nothing changed upstream; record the successful revalidation.
		return s.store.SetMeta(ctx, lastSyncKey(s.userID), time.Now().UTC().Format(time.RFC3339Nano))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cached, err := s.store.EntriesForOwner(ctx, s.userID)
	if err != nil {
		// Unreadable cache: persist the delta alone rather than dropping it.
		s.logger.Warn("cache read failed during merge, keeping delta only", "user", s.userID, "error", err)
		cached = nil
	}

	merged := mergeEntries(cached, delta)
	return s.persistEntries(ctx, merged)
}

// Backfill fetches the owner's full entry set page by page (ts descending)
// and replaces the cache with it. The loop stops on a short page, when the
// backend reports no more, or at BackfillLimit pages.
func (s *SyncContext) Backfill(ctx context.Context) ([]remote.Entry, error) {
	entries, err := s.fetchAllPages(ctx, remote.EntryQuery{
		OwnerID:  s.userID,
		PageSize: s.config.PageSize,
	}, s.config.BackfillLimit)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sortEntries(entries)
	if err := s.persistEntries(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// fetchAllPages follows pagination cursors until a short page, has_more
// false, or maxPages (0 = unlimited).
func (s *SyncContext) fetchAllPages(ctx context.Context, q remote.EntryQuery, maxPages int) ([]remote.Entry, error) {
	var all []remote.Entry
	for pages := 0; ; pages++ {
		if maxPages > 0 && pages >= maxPages {
			break
		}
		page, err := s.repo.QueryEntries(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Entries...)
		if !page.HasMore || len(page.Entries) < q.PageSize || page.NextCursor == "" {
			break
		}
		q.Cursor = page.NextCursor
	}
	return all, nil
}

// persistEntries writes the merged set, the delta watermark (max server
// updated_at seen) and the last-sync time in one transaction.
func (s *SyncContext) persistEntries(ctx context.Context, entries []remote.Entry) error {
	watermark := s.maxUpdatedAt(ctx, entries)
	meta := map[string]string{
		lastSyncKey(s.userID): time.Now().UTC().Format(time.RFC3339Nano),
	}
	if !watermark.IsZero() {
		meta[watermarkKey(s.userID)] = watermark.UTC().Format(time.RFC3339Nano)
	}
	return s.store.ReplaceEntries(ctx, s.userID, entries, meta)
}

// maxUpdatedAt returns the furthest server write time across the new set
// and the already persisted watermark, so the watermark never moves back.
func (s *SyncContext) maxUpdatedAt(ctx context.Context, entries []remote.Entry) time.Time {
	var maxUpd time.Time
	if raw, err := s.store.GetMeta(ctx, watermarkKey(s.userID)); err == nil && raw != "" {
		if prev, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			maxUpd = prev
		}
	}
	for i := range entries {
		if entries[i].UpdatedAt.After(maxUpd) {
			maxUpd = entries[i].UpdatedAt
		}
	}
	return maxUpd
}

// mergeEntries overlays delta records onto the cached set: a delta record
// replaces the cached record with the same id, unmatched cached records are
// kept, and the result is re-sorted by ts descending. Applying the same
// delta twice yields the same set.
func mergeEntries(cached, delta []remote.Entry) []remote.Entry {
	byID := make(map[string]int, len(cached))
	merged := make([]remote.Entry, len(cached))
	copy(merged, cached)
	for i := range merged {
		byID[merged[i].ID] = i
	}
	for _, d := range delta {
		if i, ok := byID[d.ID]; ok {
			merged[i] = d
		} else {
			byID[d.ID] = len(merged)
			merged = append(merged, d)
		}
	}
	sortEntries(merged)
	return merged
}

// sortEntries orders by ts descending, id descending on exact ties. The tie
// ordering is deterministic and stable across repeated loads but otherwise
// unspecified.
func sortEntries(entries []remote.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].ID > entries[j].ID
	})
}

// IsCacheError reports whether err originated in the local store.
func IsCacheError(err error) bool {
	var cacheErr *CacheAccessError
	return errors.As(err, &cacheErr)
}
