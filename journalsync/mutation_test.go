// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package journalsync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/andrewhuhh/journal/remote"
)

func cacheSnapshot(t *testing.T, sc *SyncContext) []remote.Entry {
	t.Helper()
	entries, err := sc.store.EntriesForOwner(context.Background(), testUser)
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	return entries
}

func TestCreateEntryMirrorsCacheAndIndex(t *testing.T) {
	repo := newFakeRepo()
	sc := newTestContext(t, repo, nil)
	ctx := context.Background()

	// Warm the date index so the create maintains it incrementally.
	if _, err := sc.EntryDates(ctx); err != nil {
		t.Fatalf("entry dates: %v", err)
	}

	ts := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	created, err := sc.CreateEntry(ctx, &remote.Entry{Content: "first", Timestamp: ts})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("created entry missing backend-assigned id")
	}
	if created.OwnerID != testUser {
		t.Fatalf("owner not stamped: %q", created.OwnerID)
	}

	cached, err := sc.store.GetEntry(ctx, created.ID)
	if err != nil || cached == nil {
		t.Fatalf("created entry not mirrored into cache: %v", err)
	}

	dates, err := sc.EntryDates(ctx)
	if err != nil {
		t.Fatalf("entry dates: %v", err)
	}
	if !equalIDs(dates, []string{DateKey(ts)}) {
		t.Fatalf("date index not updated: %v", dates)
	}
}

// Ordering invariant: a failed remote write leaves the cache byte-for-byte
// unchanged.
func TestCreateEntryRemoteFailureLeavesCacheUntouched(t *testing.T) {
	repo := newFakeRepo()
	sc := newTestContext(t, repo, nil)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	seedCache(t, sc, []remote.Entry{
		{ID: "e001", OwnerID: testUser, Content: "existing", Timestamp: old, UpdatedAt: old},
	}, old, old)
	before := cacheSnapshot(t, sc)

	repo.writeErr = &remote.WriteError{Op: "write entry", Err: fmt.Errorf("backend down")}
	_, err := sc.CreateEntry(ctx, &remote.Entry{Content: "doomed", Timestamp: time.Now()})
	if err == nil {
		t.Fatalf("expected write error")
	}
	var writeErr *remote.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected remote.WriteError, got %T", err)
	}

	if !reflect.DeepEqual(before, cacheSnapshot(t, sc)) {
		t.Fatalf("cache changed after failed create")
	}
}

func TestUpdateEntryOverwritesCachedRecord(t *testing.T) {
	repo := newFakeRepo()
	sc := newTestContext(t, repo, nil)
	ctx := context.Background()

	created, err := sc.CreateEntry(ctx, &remote.Entry{Content: "v1",
		Timestamp: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	content := "v2"
	updated, err := sc.UpdateEntry(ctx, created.ID, remote.EntryPatch{Content: &content})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Content != "v2" {
		t.Fatalf("patch not applied: %q", updated.Content)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("server write time did not advance")
	}

	cached, err := sc.store.GetEntry(ctx, created.ID)
	if err != nil || cached == nil {
		t.Fatalf("read cache: %v", err)
	}
	if cached.Content != "v2" {
		t.Fatalf("cache holds stale record after update: %q", cached.Content)
	}
}

func TestUpdateEntryRemoteFailureLeavesCacheUntouched(t *testing.T) {
	repo := newFakeRepo()
	sc := newTestContext(t, repo, nil)
	ctx := context.Background()

	created, err := sc.CreateEntry(ctx, &remote.Entry{Content: "v1", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := cacheSnapshot(t, sc)

	repo.writeErr = &remote.WriteError{Op: "update entry", Err: fmt.Errorf("backend down")}
	content := "v2"
	if _, err := sc.UpdateEntry(ctx, created.ID, remote.EntryPatch{Content: &content}); err == nil {
		t.Fatalf("expected update error")
	}
	if !reflect.DeepEqual(before, cacheSnapshot(t, sc)) {
		t.Fatalf("cache changed after failed update")
	}
}

// Moving an entry to another day shifts the date index on both sides.
func TestUpdateEntryMovesDateIndex(t *testing.T) {
	repo := newFakeRepo()
	sc := newTestContext(t, repo, nil)
	ctx := context.Background()

	if _, err := sc.EntryDates(ctx); err != nil {
		t.Fatalf("entry dates: %v", err)
	}

	day1 := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC)
	created, err := sc.CreateEntry(ctx, &remote.Entry{Content: "x", Timestamp: day1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := sc.UpdateEntry(ctx, created.ID, remote.EntryPatch{Timestamp: &day2}); err != nil {
		t.Fatalf("update: %v", err)
	}

	dates, err := sc.EntryDates(ctx)
	if err != nil {
		t.Fatalf("entry dates: %v", err)
	}
	if !equalIDs(dates, []string{DateKey(day2)}) {
		t.Fatalf("date index after move = %v, want only %s", dates, DateKey(day2))
	}
}

// An update for an entry that isn't cached locally (evicted, or written from
// another device) must still record the updated entry's day in the index.
func TestUpdateEntryUncachedStillIndexesNewDay(t *testing.T) {
	repo := newFakeRepo()
	sc := newTestContext(t, repo, nil)
	ctx := context.Background()

	day1 := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC)
	repo.entries = append(repo.entries, remote.Entry{
		ID: "e1", OwnerID: testUser, Content: "remote only", Timestamp: day1,
		UpdatedAt: repo.tick(),
	})

	// Warm the index from the backend; the entry itself stays uncached.
	if _, err := sc.EntryDates(ctx); err != nil {
		t.Fatalf("entry dates: %v", err)
	}

	if _, err := sc.UpdateEntry(ctx, "e1", remote.EntryPatch{Timestamp: &day2}); err != nil {
		t.Fatalf("update: %v", err)
	}

	on, err := sc.HasEntriesOn(ctx, DateKey(day2))
	if err != nil {
		t.Fatalf("has entries on: %v", err)
	}
	if !on {
		t.Fatalf("date index missing %s after update of uncached entry", DateKey(day2))
	}
}

// Delete cascade: one of two image deletes fails, the entry delete still
// goes through remotely and locally.
func TestDeleteEntryImageFailureDoesNotBlock(t *testing.T) {
	repo := newFakeRepo()
	sc := newTestContext(t, repo, nil)
	ctx := context.Background()

	created, err := sc.CreateEntry(ctx, &remote.Entry{
		Content:   "with images",
		Timestamp: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		Images:    []string{"blob://img1", "blob://img2"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	repo.blobDeleteErr = map[string]error{
		"blob://img1": fmt.Errorf("blob storage unavailable"),
	}

	if err := sc.DeleteEntry(ctx, created.ID); err != nil {
		t.Fatalf("delete must not fail on image cleanup: %v", err)
	}

	if len(repo.deletedBlobs) != 2 {
		t.Fatalf("expected both image deletes attempted, got %v", repo.deletedBlobs)
	}
	if !equalIDs(repo.deletedEntries, []string{created.ID}) {
		t.Fatalf("entry record not deleted remotely: %v", repo.deletedEntries)
	}
	if cached, _ := sc.store.GetEntry(ctx, created.ID); cached != nil {
		t.Fatalf("entry still cached after delete")
	}
}

func TestDeleteEntryRemoteFailureLeavesCacheUntouched(t *testing.T) {
	repo := newFakeRepo()
	sc := newTestContext(t, repo, nil)
	ctx := context.Background()

	created, err := sc.CreateEntry(ctx, &remote.Entry{Content: "x", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := cacheSnapshot(t, sc)

	repo.deleteErr = &remote.WriteError{Op: "delete entry", Err: fmt.Errorf("backend down")}
	if err := sc.DeleteEntry(ctx, created.ID); err == nil {
		t.Fatalf("expected delete error")
	}
	if !reflect.DeepEqual(before, cacheSnapshot(t, sc)) {
		t.Fatalf("cache changed after failed delete")
	}
}

// Deleting the last entry of a day removes the day from the date index;
// deleting one of several does not.
func TestDeleteEntryTrimsDateIndex(t *testing.T) {
	repo := newFakeRepo()
	sc := newTestContext(t, repo, nil)
	ctx := context.Background()

	if _, err := sc.EntryDates(ctx); err != nil {
		t.Fatalf("entry dates: %v", err)
	}

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	first, err := sc.CreateEntry(ctx, &remote.Entry{Content: "morning", Timestamp: day.Add(9 * time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := sc.CreateEntry(ctx, &remote.Entry{Content: "evening", Timestamp: day.Add(20 * time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := sc.DeleteEntry(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	dates, err := sc.EntryDates(ctx)
	if err != nil {
		t.Fatalf("entry dates: %v", err)
	}
	if !equalIDs(dates, []string{DateKey(day)}) {
		t.Fatalf("day dropped while an entry remains: %v", dates)
	}

	if err := sc.DeleteEntry(ctx, second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	dates, err = sc.EntryDates(ctx)
	if err != nil {
		t.Fatalf("entry dates: %v", err)
	}
	if len(dates) != 0 {
		t.Fatalf("date index not trimmed after last delete: %v", dates)
	}
}
