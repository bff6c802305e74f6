// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package journalsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/andrewhuhh/journal/remote"
)

// Store is the on-device cache: entries, sync metadata, survey drafts and
// the completed-survey cache. It is opened once per process and shared; each
// operation runs in its own short transaction and never holds one across a
// network call. Cached copies may be discarded and rebuilt at will — the
// backend remains the source of truth.
type Store struct {
	db *sql.DB
}

// OpenStore initializes the cache schema on db and returns the store.
func OpenStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, &CacheAccessError{Op: "open", Err: fmt.Errorf("failed to enable WAL mode: %w", err)}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			ts         TEXT NOT NULL,  -- RFC3339Nano UTC, sort key
			day_key    TEXT NOT NULL,  -- calendar day of ts in local time
			updated_at TEXT NOT NULL,  -- server write time
			payload    TEXT NOT NULL   -- full record JSON
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_owner ON entries(owner_id)`,

		// String key/value: lastSync_<owner>, watermark_<owner>, dateIndex_<owner>
		`CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS drafts (
			target_date TEXT PRIMARY KEY,  -- normalized local-midnight timestamp
			owner_id    TEXT NOT NULL,
			payload     TEXT NOT NULL,
			saved_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS surveys_cache (
			target_date TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			payload     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_surveys_owner ON surveys_cache(owner_id)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return nil, &CacheAccessError{Op: "open", Err: fmt.Errorf("failed to create cache table: %w", err)}
		}
	}

	return &Store{db: db}, nil
}

// EntriesForOwner returns all cached entries for the owner sorted by ts
// descending (id descending on ties, matching the backend's ordering).
func (s *Store) EntriesForOwner(ctx context.Context, ownerID string) ([]remote.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM entries WHERE owner_id = ? ORDER BY ts DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, &CacheAccessError{Op: "read entries", Err: err}
	}
	defer rows.Close()

	var entries []remote.Entry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, &CacheAccessError{Op: "read entries", Err: err}
		}
		var e remote.Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, &CacheAccessError{Op: "read entries", Err: fmt.Errorf("corrupt cached entry: %w", err)}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &CacheAccessError{Op: "read entries", Err: err}
	}
	return entries, nil
}

// GetEntry returns the cached entry by id, or nil when not cached.
func (s *Store) GetEntry(ctx context.Context, id string) (*remote.Entry, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM entries WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &CacheAccessError{Op: "read entry", Err: err}
	}
	var e remote.Entry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, &CacheAccessError{Op: "read entry", Err: fmt.Errorf("corrupt cached entry: %w", err)}
	}
	return &e, nil
}

// ReplaceEntries atomically replaces the owner's cached set with entries and
// updates sync metadata in the same transaction, so the watermark never
// advances without the merged set being persisted.
func (s *Store) ReplaceEntries(ctx context.Context, ownerID string, entries []remote.Entry, meta map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &CacheAccessError{Op: "replace entries", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE owner_id = ?`, ownerID); err != nil {
		return &CacheAccessError{Op: "replace entries", Err: err}
	}
	for i := range entries {
		if err := upsertEntryInTx(ctx, tx, &entries[i]); err != nil {
			return &CacheAccessError{Op: "replace entries", Err: err}
		}
	}
	for key, value := range meta {
		if err := setMetaInTx(ctx, tx, key, value); err != nil {
			return &CacheAccessError{Op: "replace entries", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &CacheAccessError{Op: "replace entries", Err: err}
	}
	return nil
}

// UpsertEntry mirrors a single written record into the cache.
func (s *Store) UpsertEntry(ctx context.Context, e *remote.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &CacheAccessError{Op: "write entry", Err: err}
	}
	defer tx.Rollback()
	if err := upsertEntryInTx(ctx, tx, e); err != nil {
		return &CacheAccessError{Op: "write entry", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &CacheAccessError{Op: "write entry", Err: err}
	}
	return nil
}

func upsertEntryInTx(ctx context.Context, tx *sql.Tx, e *remote.Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (id, owner_id, ts, day_key, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			ts = excluded.ts,
			day_key = excluded.day_key,
			updated_at = excluded.updated_at,
			payload = excluded.payload
	`, e.ID, e.OwnerID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		DateKey(e.Timestamp),
		e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(payload))
	return err
}

// DeleteEntry removes a cached record and reports how many entries remain on
// the same calendar day, so the caller can maintain the date index.
func (s *Store) DeleteEntry(ctx context.Context, id string) (remainingOnDay int, dayKey string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", &CacheAccessError{Op: "delete entry", Err: err}
	}
	defer tx.Rollback()

	var ownerID string
	err = tx.QueryRowContext(ctx, `SELECT owner_id, day_key FROM entries WHERE id = ?`, id).Scan(&ownerID, &dayKey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", tx.Commit() // not cached, nothing to do
	}
	if err != nil {
		return 0, "", &CacheAccessError{Op: "delete entry", Err: err}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return 0, "", &CacheAccessError{Op: "delete entry", Err: err}
	}
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries WHERE owner_id = ? AND day_key = ?
	`, ownerID, dayKey).Scan(&remainingOnDay)
	if err != nil {
		return 0, "", &CacheAccessError{Op: "delete entry", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, "", &CacheAccessError{Op: "delete entry", Err: err}
	}
	return remainingOnDay, dayKey, nil
}

// GetMeta returns the metadata value for key, or "" when unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &CacheAccessError{Op: "read metadata", Err: err}
	}
	return value, nil
}

// SetMeta stores a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &CacheAccessError{Op: "write metadata", Err: err}
	}
	defer tx.Rollback()
	if err := setMetaInTx(ctx, tx, key, value); err != nil {
		return &CacheAccessError{Op: "write metadata", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &CacheAccessError{Op: "write metadata", Err: err}
	}
	return nil
}

func setMetaInTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// UpsertDraft stores an in-progress survey keyed by its normalized target
// date. Last writer wins on concurrent saves for the same day.
func (s *Store) UpsertDraft(ctx context.Context, draft *remote.Survey) error {
	payload, err := json.Marshal(draft)
	if err != nil {
		return &CacheAccessError{Op: "write draft", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (target_date, owner_id, payload, saved_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(target_date) DO UPDATE SET
			owner_id = excluded.owner_id,
			payload = excluded.payload,
			saved_at = excluded.saved_at
	`, draft.TargetDate, draft.OwnerID, string(payload))
	if err != nil {
		return &CacheAccessError{Op: "write draft", Err: err}
	}
	return nil
}

// GetDraft returns the draft for a normalized target date, or nil.
func (s *Store) GetDraft(ctx context.Context, targetDate string) (*remote.Survey, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM drafts WHERE target_date = ?`, targetDate).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &CacheAccessError{Op: "read draft", Err: err}
	}
	var draft remote.Survey
	if err := json.Unmarshal([]byte(payload), &draft); err != nil {
		return nil, &CacheAccessError{Op: "read draft", Err: fmt.Errorf("corrupt cached draft: %w", err)}
	}
	return &draft, nil
}

// DeleteDraft removes the draft for a normalized target date.
func (s *Store) DeleteDraft(ctx context.Context, targetDate string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE target_date = ?`, targetDate); err != nil {
		return &CacheAccessError{Op: "delete draft", Err: err}
	}
	return nil
}

// ListDraftDates returns the normalized target dates of all stored drafts.
func (s *Store) ListDraftDates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT target_date FROM drafts`)
	if err != nil {
		return nil, &CacheAccessError{Op: "list drafts", Err: err}
	}
	defer rows.Close()
	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, &CacheAccessError{Op: "list drafts", Err: err}
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &CacheAccessError{Op: "list drafts", Err: err}
	}
	return dates, nil
}

// UpsertSurvey stores a completed survey in the survey cache.
func (s *Store) UpsertSurvey(ctx context.Context, survey *remote.Survey) error {
	payload, err := json.Marshal(survey)
	if err != nil {
		return &CacheAccessError{Op: "write survey", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO surveys_cache (target_date, owner_id, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(target_date) DO UPDATE SET
			owner_id = excluded.owner_id,
			payload = excluded.payload
	`, survey.TargetDate, survey.OwnerID, string(payload))
	if err != nil {
		return &CacheAccessError{Op: "write survey", Err: err}
	}
	return nil
}

// GetSurvey returns the cached completed survey for a normalized target
// date, or nil.
func (s *Store) GetSurvey(ctx context.Context, targetDate string) (*remote.Survey, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM surveys_cache WHERE target_date = ?`, targetDate).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &CacheAccessError{Op: "read survey", Err: err}
	}
	var survey remote.Survey
	if err := json.Unmarshal([]byte(payload), &survey); err != nil {
		return nil, &CacheAccessError{Op: "read survey", Err: fmt.Errorf("corrupt cached survey: %w", err)}
	}
	return &survey, nil
}
