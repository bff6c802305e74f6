// Copyright 2025 Andrew Huh
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDFromToken extracts the stable user identifier (the `sub` claim) from
// a bearer token issued by the auth collaborator. The signature is not
// checked here — the backend rejects forged tokens on every request; this
// client only needs the identifier to key its local cache and session.
func UserIDFromToken(tokenString string) (string, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("failed to read subject claim: %w", err)
	}
	if sub == "" {
		return "", fmt.Errorf("token has no subject claim")
	}
	return sub, nil
}
