// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package journalsync

import "time"

// Day-scoped records (drafts, surveys, the date index) are keyed by the day
// they describe, never by a display string. NormalizeDate produces the
// canonical timestamp form stored on records; DateKey produces the compact
// calendar-day key used for map/index lookups. Both truncate to local
// midnight so that any instant within a day maps to the same key.

// NormalizeDate truncates t to midnight in its own location and renders the
// canonical timestamp string.
func NormalizeDate(t time.Time) string {
	return midnight(t).Format(time.RFC3339)
}

// DateKey renders the calendar-day key for t in its own location.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// dateKeyOfNormalized converts a canonical NormalizeDate string back to its
// calendar-day key. Falls back to the raw string when it does not parse,
// which keeps lookups stable for keys written by older builds.
func dateKeyOfNormalized(normalized string) string {
	t, err := time.Parse(time.RFC3339, normalized)
	if err != nil {
		return normalized
	}
	return DateKey(t)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
