// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

// Package journalsync is the offline-first core of the journal client. It
// reconciles the on-device cache with the authoritative backend: cache-first
// loads with stale-while-revalidate, incremental delta sync by server write
// time, paginated backfill for a cold cache, remote-first mutations mirrored
// into the cache, and a day-keyed draft/survey sub-store.
package journalsync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/andrewhuhh/journal/remote"
)

// Config holds the tuning knobs of the sync core.
type Config struct {
	MaxAge               time.Duration // cache validity window
	PageSize             int           // backfill page size
	StaleWhileRevalidate bool          // serve stale cache while refreshing in background
	BackfillLimit        int           // max backfill pages, 0 = unlimited
	SurveySyncInterval   time.Duration // background survey pull period
	BackoffMin           time.Duration
	BackoffMax           time.Duration
}

// DefaultConfig returns the default knobs.
func DefaultConfig() *Config {
	return &Config{
		MaxAge:               24 * time.Hour,
		PageSize:             50,
		StaleWhileRevalidate: true,
		SurveySyncInterval:   5 * time.Minute,
		BackoffMin:           1 * time.Second,
		BackoffMax:           60 * time.Second,
	}
}

// SyncContext ties the sync core to one signed-in session. It is
// constructed on sign-in, passed explicitly to everything that needs it, and
// discarded on sign-out; there is no process-wide mutable sync state.
type SyncContext struct {
	store     *Store
	repo      remote.Repository
	userID    string
	sessionID string
	config    *Config
	logger    *slog.Logger

	flight  singleflight.Group // dedupes concurrent background refreshes
	writeMu sync.Mutex         // serializes cache writes from mutations and merges

	closed        int32 // set on Close; gates background work
	loopMu        sync.Mutex
	cancelRefresh context.CancelFunc
	refreshDone   chan struct{}
}

// NewSyncContext opens the cache schema on db and returns a session-scoped
// sync context for userID.
func NewSyncContext(db *sql.DB, repo remote.Repository, userID string, config *Config) (*SyncContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.PageSize <= 0 {
		return nil, fmt.Errorf("config.PageSize must be positive")
	}

	store, err := OpenStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	return &SyncContext{
		store:     store,
		repo:      repo,
		userID:    userID,
		sessionID: uuid.New().String(),
		config:    config,
		logger:    slog.Default(),
	}, nil
}

// Close detaches the session on sign-out: the background survey refresh loop
// is stopped (Close waits for it to exit) and no further background
// revalidation is scheduled. The cache itself is left intact for the next
// sign-in. Safe to call more than once.
func (s *SyncContext) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	s.loopMu.Lock()
	cancel, done := s.cancelRefresh, s.refreshDone
	s.cancelRefresh, s.refreshDone = nil, nil
	s.loopMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// SetLogger replaces the session logger.
func (s *SyncContext) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// UserID returns the stable user identifier this session is bound to.
func (s *SyncContext) UserID() string { return s.userID }

// SessionID returns the locally generated identifier of this session.
func (s *SyncContext) SessionID() string { return s.sessionID }

// Store exposes the underlying cache, mainly for callers that manage drafts
// directly.
func (s *SyncContext) Store() *Store { return s.store }

// UploadImage stores image bytes in blob storage under a fresh
// session-scoped object name and returns the ref to attach to an entry.
func (s *SyncContext) UploadImage(ctx context.Context, contentType string, data []byte) (string, error) {
	name := fmt.Sprintf("images/%s/%s", s.userID, uuid.New().String())
	return s.repo.UploadBlob(ctx, name, contentType, data)
}

// Metadata keys, per user.
func lastSyncKey(ownerID string) string  { return "lastSync_" + ownerID }
func watermarkKey(ownerID string) string { return "watermark_" + ownerID }
func dateIndexKey(ownerID string) string { return "dateIndex_" + ownerID }
