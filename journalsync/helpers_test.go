// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package journalsync

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/andrewhuhh/journal/remote"
)

// fakeRepo is an in-memory stand-in for the backend. It records queries so
// tests can assert on call counts and pagination behavior.
type fakeRepo struct {
	entries []remote.Entry
	surveys map[string]remote.Survey // keyed by normalized target date

	entryQueries   []remote.EntryQuery
	deletedEntries []string
	deletedBlobs   []string

	nextID    int
	serverNow time.Time

	queryErr       error
	writeErr       error
	deleteErr      error
	getSurveyErr   error
	writeSurveyErr error
	blobDeleteErr  map[string]error

	mu            sync.Mutex // guards surveyQueries, written from the refresh loop goroutine
	surveyQueries int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		surveys:   make(map[string]remote.Survey),
		nextID:    1,
		serverNow: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRepo) tick() time.Time {
	f.serverNow = f.serverNow.Add(time.Second)
	return f.serverNow
}

func (f *fakeRepo) QueryEntries(ctx context.Context, q remote.EntryQuery) (*remote.EntryPage, error) {
	f.entryQueries = append(f.entryQueries, q)
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	var matched []remote.Entry
	for _, e := range f.entries {
		if e.OwnerID != q.OwnerID {
			continue
		}
		if !q.UpdatedAfter.IsZero() && !e.UpdatedAt.After(q.UpdatedAfter) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !q.UpdatedAfter.IsZero() && !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})

	offset := 0
	if q.Cursor != "" {
		offset, _ = strconv.Atoi(q.Cursor)
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + q.PageSize
	if q.PageSize <= 0 || end > len(matched) {
		end = len(matched)
	}
	page := &remote.EntryPage{
		Entries: append([]remote.Entry(nil), matched[offset:end]...),
		HasMore: end < len(matched),
	}
	if page.HasMore {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeRepo) GetEntry(ctx context.Context, id string) (*remote.Entry, error) {
	for _, e := range f.entries {
		if e.ID == id {
			copied := e
			return &copied, nil
		}
	}
	return nil, &remote.QueryError{Op: "get entry", StatusCode: http.StatusNotFound,
		Err: fmt.Errorf("entry %s not found", id)}
}

func (f *fakeRepo) WriteEntry(ctx context.Context, e *remote.Entry) (*remote.Entry, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	stored := *e
	stored.ID = fmt.Sprintf("e%03d", f.nextID)
	f.nextID++
	now := f.tick()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	f.entries = append(f.entries, stored)
	copied := stored
	return &copied, nil
}

func (f *fakeRepo) UpdateEntry(ctx context.Context, id string, patch remote.EntryPatch) (*remote.Entry, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	for i := range f.entries {
		if f.entries[i].ID != id {
			continue
		}
		if patch.Content != nil {
			f.entries[i].Content = *patch.Content
		}
		if patch.Timestamp != nil {
			f.entries[i].Timestamp = *patch.Timestamp
		}
		if patch.Images != nil {
			f.entries[i].Images = *patch.Images
		}
		f.entries[i].UpdatedAt = f.tick()
		copied := f.entries[i]
		return &copied, nil
	}
	return nil, &remote.WriteError{Op: "update entry", StatusCode: http.StatusNotFound,
		Err: fmt.Errorf("entry %s not found", id)}
}

func (f *fakeRepo) DeleteEntry(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			break
		}
	}
	f.deletedEntries = append(f.deletedEntries, id)
	return nil
}

func (f *fakeRepo) ListEntryDates(ctx context.Context, ownerID string) ([]string, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	seen := make(map[string]struct{})
	var dates []string
	for _, e := range f.entries {
		if e.OwnerID != ownerID {
			continue
		}
		key := DateKey(e.Timestamp)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			dates = append(dates, key)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

func (f *fakeRepo) surveyQueryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.surveyQueries
}

func (f *fakeRepo) QuerySurveys(ctx context.Context, ownerID string, from, to time.Time) ([]remote.Survey, error) {
	f.mu.Lock()
	f.surveyQueries++
	f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []remote.Survey
	for _, s := range f.surveys {
		if s.OwnerID != ownerID {
			continue
		}
		day, err := time.Parse(time.RFC3339, s.TargetDate)
		if err != nil {
			continue
		}
		if day.Before(from) || !day.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRepo) GetSurvey(ctx context.Context, ownerID, targetDate string) (*remote.Survey, error) {
	if f.getSurveyErr != nil {
		return nil, f.getSurveyErr
	}
	if s, ok := f.surveys[targetDate]; ok && s.OwnerID == ownerID {
		copied := s
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeRepo) WriteSurvey(ctx context.Context, s *remote.Survey) error {
	if f.writeSurveyErr != nil {
		return f.writeSurveyErr
	}
	if existing, ok := f.surveys[s.TargetDate]; ok && existing.Status == remote.SurveyStatusCompleted {
		return &remote.WriteError{Op: "write survey", StatusCode: http.StatusConflict,
			Err: fmt.Errorf("completed survey exists for %s", s.TargetDate)}
	}
	stored := *s
	stored.UpdatedAt = f.tick()
	f.surveys[s.TargetDate] = stored
	return nil
}

func (f *fakeRepo) DeleteSurvey(ctx context.Context, ownerID, targetDate string) error {
	if f.writeSurveyErr != nil {
		return f.writeSurveyErr
	}
	if s, ok := f.surveys[targetDate]; ok && s.OwnerID == ownerID {
		delete(f.surveys, targetDate)
	}
	return nil
}

func (f *fakeRepo) UploadBlob(ctx context.Context, name, contentType string, data []byte) (string, error) {
	return "blob://" + name, nil
}

func (f *fakeRepo) DeleteBlob(ctx context.Context, ref string) error {
	f.deletedBlobs = append(f.deletedBlobs, ref)
	if err, ok := f.blobDeleteErr[ref]; ok {
		return err
	}
	return nil
}

var _ remote.Repository = (*fakeRepo)(nil)

const testUser = "user1"

func newTestContext(t *testing.T, repo remote.Repository, config *Config) *SyncContext {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// A second pool connection would see a fresh, empty in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	sc, err := NewSyncContext(db, repo, testUser, config)
	if err != nil {
		t.Fatalf("new sync context: %v", err)
	}
	return sc
}

// seedCache installs entries plus sync metadata directly in the store, as if
// a previous sync persisted them at syncedAt with the given watermark.
func seedCache(t *testing.T, sc *SyncContext, entries []remote.Entry, syncedAt, watermark time.Time) {
	t.Helper()
	meta := map[string]string{
		lastSyncKey(testUser):  syncedAt.UTC().Format(time.RFC3339Nano),
		watermarkKey(testUser): watermark.UTC().Format(time.RFC3339Nano),
	}
	if err := sc.store.ReplaceEntries(context.Background(), testUser, entries, meta); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
}

func entryIDs(entries []remote.Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
