package db

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

const accountIDPrefix = "acct-"

// NewSyncID returns a fresh, globally unique sync identifier.
func NewSyncID() string {
	return uuid.NewString()
}

// generateAccountID generates a short account ID
func generateAccountID() (string, error) {
	bytes := make([]byte, 4) // 8 hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return accountIDPrefix + hex.EncodeToString(bytes), nil
}
