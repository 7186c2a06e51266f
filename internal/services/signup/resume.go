// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package signup

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// ResumeTokenLength is the number of random bytes in a resume token.
	ResumeTokenLength = 32
	// ResumeTokenTTL is how long a resume token is valid.
	ResumeTokenTTL = 30 * time.Minute
)

// GenerateResumeToken returns a new token and the SHA256 hash to store.
func GenerateResumeToken() (string, string, error) {
	bytes := make([]byte, ResumeTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plaintext := hex.EncodeToString(bytes)
	return plaintext, HashResumeToken(plaintext), nil
}

// HashResumeToken computes the SHA256 hash of a token.
func HashResumeToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
