// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

// Package auth is the seam to the sign-in collaborator: it plumbs the stable
// user identifier through contexts and extracts it from the backend's bearer
// tokens. Verification of those tokens is the backend's job; the client only
// needs the identity they carry.
package auth

import (
	"context"
)

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID returns a context carrying the signed-in user's identifier.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID retrieves the signed-in user's identifier from the context.
func UserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}
