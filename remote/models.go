// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"fmt"
	"time"
)

// JSON models for the authoritative journal backend.
// These are the wire shapes exchanged with the repository HTTP API and the
// record shapes cached locally. Validation happens here, at the boundary, so
// the sync core never sees a half-formed record.

// Survey status values.
const (
	SurveyStatusDraft     = "draft"
	SurveyStatusCompleted = "completed"
)

// Entry represents a single journal entry.
// ID is assigned by the backend on first write and is empty until then.
type Entry struct {
	ID        string    `json:"id,omitempty"`
	OwnerID   string    `json:"owner_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`                   // user-chosen point in time, editable
	Images    []string  `json:"images,omitempty"`     // blob refs, insertion order = display order
	CreatedAt time.Time `json:"created_at,omitempty"` // server-assigned
	UpdatedAt time.Time `json:"updated_at,omitempty"` // server-assigned, drives delta sync
}

// Validate checks the persistence invariant for an entry: it must carry a
// non-empty body or at least one image, and it must name its owner.
func (e *Entry) Validate() error {
	if e.OwnerID == "" {
		return fmt.Errorf("entry missing owner_id")
	}
	if e.Content == "" && len(e.Images) == 0 {
		return fmt.Errorf("entry must have content or at least one image")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("entry missing timestamp")
	}
	return nil
}

// EntryPatch is a partial update to an entry. Nil fields are left unchanged
// by the backend.
type EntryPatch struct {
	Content   *string    `json:"content,omitempty"`
	Timestamp *time.Time `json:"ts,omitempty"`
	Images    *[]string  `json:"images,omitempty"`
}

// Survey represents a daily mood/health survey, either an in-progress draft
// or a completed record. TargetDate is the canonical local-midnight
// timestamp string for the day the survey describes.
type Survey struct {
	OwnerID    string             `json:"owner_id"`
	TargetDate string             `json:"target_date"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Health     map[string]int     `json:"health,omitempty"`
	Mood       string             `json:"mood,omitempty"`
	Reflection string             `json:"reflection,omitempty"`
	Overall    int                `json:"overall"`
	Status     string             `json:"status"`
	UpdatedAt  time.Time          `json:"updated_at,omitempty"`
}

// Validate checks required survey fields and the status token.
func (s *Survey) Validate() error {
	if s.OwnerID == "" {
		return fmt.Errorf("survey missing owner_id")
	}
	if s.TargetDate == "" {
		return fmt.Errorf("survey missing target_date")
	}
	if s.Status != SurveyStatusDraft && s.Status != SurveyStatusCompleted {
		return fmt.Errorf("survey has unknown status %q", s.Status)
	}
	return nil
}

// EntryQuery describes a filtered, paginated entry fetch.
// OwnerID is required; everything else is optional.
type EntryQuery struct {
	OwnerID      string
	UpdatedAfter time.Time // delta sync: only records with updated_at strictly after this
	StartDate    time.Time // inclusive window on ts
	EndDate      time.Time // exclusive window on ts
	PageSize     int
	Cursor       string // opaque, from a previous page's NextCursor
}

// EntryPage is one page of query results.
// Ordering: updated_at desc when UpdatedAfter was set, otherwise ts desc;
// ties broken by id so repeated queries page deterministically.
type EntryPage struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}

// writeEntryResponse is the backend's reply to an entry create.
type writeEntryResponse struct {
	Entry Entry `json:"entry"`
}

// surveyPage is the backend's reply to a survey range query.
type surveyPage struct {
	Surveys []Survey `json:"surveys"`
}

// dateListing is the backend's reply to an entry-date listing.
type dateListing struct {
	Dates []string `json:"dates"`
}

// uploadBlobResponse carries the canonical ref of a stored blob.
type uploadBlobResponse struct {
	Ref string `json:"ref"`
}
