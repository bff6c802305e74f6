// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package journalsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andrewhuhh/journal/remote"
)

// Per (user, day) a survey moves {none} -> {draft} -> {completed}. Drafts
// are overwritten freely (debounced autosave is a caller-side policy);
// promotion to completed is one-way, deletes the draft, and a second
// completed record for the same day fails with DuplicateSurveyError.

// SaveDraft upserts an in-progress survey keyed by its normalized target
// date. Concurrent saves for the same day are last-writer-wins.
func (s *SyncContext) SaveDraft(ctx context.Context, draft *remote.Survey, targetDate time.Time) error {
	draft.OwnerID = s.userID
	draft.TargetDate = NormalizeDate(targetDate)
	draft.Status = remote.SurveyStatusDraft
	return s.store.UpsertDraft(ctx, draft)
}

// LoadDraft returns the draft for the day, or nil.
func (s *SyncContext) LoadDraft(ctx context.Context, targetDate time.Time) (*remote.Survey, error) {
	return s.store.GetDraft(ctx, NormalizeDate(targetDate))
}

// DeleteDraft removes the draft for the day.
func (s *SyncContext) DeleteDraft(ctx context.Context, targetDate time.Time) error {
	return s.store.DeleteDraft(ctx, NormalizeDate(targetDate))
}

// CacheSurvey mirrors a completed survey into the local survey cache.
func (s *SyncContext) CacheSurvey(ctx context.Context, survey *remote.Survey) error {
	if survey.Status != remote.SurveyStatusCompleted {
		return fmt.Errorf("only completed surveys are cached, got status %q", survey.Status)
	}
	return s.store.UpsertSurvey(ctx, survey)
}

// SaveSurvey promotes a survey to completed: it is written to the backend,
// mirrored into the survey cache, and the day's draft is deleted. If a
// completed survey already exists for the day — locally, remotely, or
// detected by the backend's conflict answer — the call fails with
// DuplicateSurveyError and the existing record is left intact.
func (s *SyncContext) SaveSurvey(ctx context.Context, survey *remote.Survey, targetDate time.Time) error {
	survey.OwnerID = s.userID
	survey.TargetDate = NormalizeDate(targetDate)
	survey.Status = remote.SurveyStatusCompleted

	existing, err := s.GetSurveyForDate(ctx, targetDate)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == remote.SurveyStatusCompleted {
		return &DuplicateSurveyError{OwnerID: s.userID, TargetDate: survey.TargetDate}
	}

	if err := s.repo.WriteSurvey(ctx, survey); err != nil {
		var writeErr *remote.WriteError
		if errors.As(err, &writeErr) && writeErr.StatusCode == http.StatusConflict {
			return &DuplicateSurveyError{OwnerID: s.userID, TargetDate: survey.TargetDate}
		}
		return err // cache untouched, draft kept for retry
	}

	if err := s.store.UpsertSurvey(ctx, survey); err != nil {
		s.logger.Warn("failed to cache completed survey", "date", survey.TargetDate, "error", err)
	}
	if err := s.store.DeleteDraft(ctx, survey.TargetDate); err != nil {
		s.logger.Warn("failed to delete promoted draft", "date", survey.TargetDate, "error", err)
	}
	return nil
}

// GetSurveyForDate resolves the survey for a day, in order: local completed
// cache, then the backend (back-filling the cache on a hit), then the local
// draft (returned with draft status). Nil when the day has nothing.
func (s *SyncContext) GetSurveyForDate(ctx context.Context, targetDate time.Time) (*remote.Survey, error) {
	normalized := NormalizeDate(targetDate)

	cached, err := s.store.GetSurvey(ctx, normalized)
	if err != nil {
		s.logger.Warn("survey cache read failed", "date", normalized, "error", err)
	} else if cached != nil {
		return cached, nil
	}

	if s.userID != "" {
		fetched, err := s.repo.GetSurvey(ctx, s.userID, normalized)
		if err != nil {
			// Degraded lookup: fall through to the draft rather than failing.
			s.logger.Warn("remote survey lookup failed", "date", normalized, "error", err)
		} else if fetched != nil {
			if err := s.store.UpsertSurvey(ctx, fetched); err != nil {
				s.logger.Warn("failed to back-fill survey cache", "date", normalized, "error", err)
			}
			return fetched, nil
		}
	}

	return s.store.GetDraft(ctx, normalized)
}

// HasSurveyForDate reports whether any survey (completed or draft) exists
// for the day, short-circuiting on the first hit. A positive backend hit is
// cached locally as a side effect.
func (s *SyncContext) HasSurveyForDate(ctx context.Context, targetDate time.Time) (bool, error) {
	normalized := NormalizeDate(targetDate)

	cached, err := s.store.GetSurvey(ctx, normalized)
	if err == nil && cached != nil {
		return true, nil
	}

	if s.userID != "" {
		fetched, err := s.repo.GetSurvey(ctx, s.userID, normalized)
		if err == nil && fetched != nil {
			if err := s.store.UpsertSurvey(ctx, fetched); err != nil {
				s.logger.Warn("failed to back-fill survey cache", "date", normalized, "error", err)
			}
			return true, nil
		}
	}

	draft, err := s.store.GetDraft(ctx, normalized)
	if err != nil {
		return false, err
	}
	return draft != nil, nil
}

// CleanupOldDrafts deletes every draft whose day already has a completed
// survey in the cache. Safe to run concurrently with SaveDraft: conflicts
// resolve last-writer-wins on the single draft row.
func (s *SyncContext) CleanupOldDrafts(ctx context.Context) error {
	dates, err := s.store.ListDraftDates(ctx)
	if err != nil {
		return err
	}
	for _, date := range dates {
		completed, err := s.store.GetSurvey(ctx, date)
		if err != nil {
			s.logger.Warn("draft cleanup skipped a date", "date", date, "error", err)
			continue
		}
		if completed == nil {
			continue
		}
		if err := s.store.DeleteDraft(ctx, date); err != nil {
			s.logger.Warn("failed to delete superseded draft", "date", date, "error", err)
		}
	}
	return nil
}

// SyncSurveys pulls every completed survey in [from, to] from the backend
// into the cache. Run on sign-in and periodically to pick up surveys
// created on other devices. Returns the number cached.
func (s *SyncContext) SyncSurveys(ctx context.Context, from, to time.Time) (int, error) {
	surveys, err := s.repo.QuerySurveys(ctx, s.userID, midnight(from), midnight(to).Add(24*time.Hour))
	if err != nil {
		return 0, err
	}
	cached := 0
	for i := range surveys {
		if surveys[i].Status != remote.SurveyStatusCompleted {
			continue
		}
		if err := s.store.UpsertSurvey(ctx, &surveys[i]); err != nil {
			s.logger.Warn("failed to cache fetched survey", "date", surveys[i].TargetDate, "error", err)
			continue
		}
		cached++
	}
	return cached, nil
}
