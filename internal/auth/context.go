// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth provides authentication context helpers.
package auth

import (
	"context"

	"codeberg.org/oliverandrich/memberdir/internal/ctxkeys"
)

// WithUserID returns a context carrying the authenticated user id and the
// id of the access token that proved it.
func WithUserID(ctx context.Context, userID, tokenID string) context.Context {
	ctx = context.WithValue(ctx, ctxkeys.UserID{}, userID)
	return context.WithValue(ctx, ctxkeys.TokenID{}, tokenID)
}

// GetUserID returns the authenticated user id from the context, or "" if
// not authenticated.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxkeys.UserID{}).(string); ok {
		return id
	}
	return ""
}

// GetTokenID returns the access token id from the context.
func GetTokenID(ctx context.Context) string {
	id, _ := ctx.Value(ctxkeys.TokenID{}).(string)
	return id
}

// IsAuthenticated returns true if the context has an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return GetUserID(ctx) != ""
}
