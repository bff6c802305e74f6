// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package journalsync

import (
	"context"
	"sync/atomic"
	"time"
)

// StartSurveyRefresh runs the periodic survey pull in a goroutine: every
// SurveySyncInterval it fetches the trailing window of completed surveys and
// sweeps superseded drafts. Errors back off exponentially between BackoffMin
// and BackoffMax; the loop stops when ctx is cancelled or the session is
// closed. At most one loop runs per session.
func (s *SyncContext) StartSurveyRefresh(ctx context.Context, window time.Duration) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.loopMu.Lock()
	if s.cancelRefresh != nil {
		s.loopMu.Unlock()
		cancel()
		return
	}
	done := make(chan struct{})
	s.cancelRefresh = cancel
	s.refreshDone = done
	s.loopMu.Unlock()

	go func() {
		defer close(done)
		s.surveyRefreshLoop(loopCtx, window)
	}()
}

func (s *SyncContext) surveyRefreshLoop(ctx context.Context, window time.Duration) {
	backoff := s.config.BackoffMin
	for {
		now := time.Now()
		if _, err := s.SyncSurveys(ctx, now.Add(-window), now); err != nil {
			s.logger.Warn("periodic survey sync failed", "user", s.userID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.config.BackoffMax {
				backoff = s.config.BackoffMax
			}
			continue
		}
		backoff = s.config.BackoffMin

		if err := s.CleanupOldDrafts(ctx); err != nil {
			s.logger.Warn("draft cleanup failed", "user", s.userID, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.SurveySyncInterval):
		}
	}
}
