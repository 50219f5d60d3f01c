// Package storage provides the PostgreSQL and in-memory implementations of
// the domain store interfaces, plus operator API key management.
package storage

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// API key format constants.
	keyPrefix       = "exphub_ak_"
	randomBytesSize = 32
	apiKeyLength    = len(keyPrefix) + 2*randomBytesSize // 74
	maskPrefixLen   = 14                                 // show "exphub_ak_1234"
	maskSuffixLen   = 4
)

var (
	// ErrKeyAlreadyExists is returned when attempting to add a key that already exists.
	ErrKeyAlreadyExists = errors.New("API key already exists")
	// ErrKeyNotFound is returned when attempting to operate on a non-existent key.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrKeyNil is returned when a nil API key is provided.
	ErrKeyNil = errors.New("API key cannot be nil")
	// ErrKeyStringEmpty is returned when key string is empty during parsing.
	ErrKeyStringEmpty = errors.New("key string cannot be empty")
	// ErrInvalidKeyFormat is returned when API key doesn't match expected format.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// ErrInvalidKeyLength is returned when API key length is incorrect.
	ErrInvalidKeyLength = errors.New("invalid API key length")
)

// Key represents an operator API key.
//
// Key holds the plaintext only between generation and storage; stores persist
// the bcrypt hash and return masked values.
type Key struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// KeyStore defines the interface for API key storage and retrieval.
type KeyStore interface {
	// FindByKey retrieves an API key by its plaintext key value.
	FindByKey(ctx context.Context, key string) (*Key, bool)
	// Add stores a new API key.
	Add(ctx context.Context, apiKey *Key) error
	// Deactivate revokes an API key by id.
	Deactivate(ctx context.Context, keyID string) error
}

// Valid reports whether the key is active and unexpired.
func (k *Key) Valid(now time.Time) bool {
	if !k.Active {
		return false
	}

	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}

	return true
}

// SecureCompare performs constant-time comparison of two strings to prevent
// timing attacks.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		// Compare against a dummy of the same length to keep timing constant.
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey masks an API key for logging by showing only the prefix and suffix.
// Keys of any other length are masked completely.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)
	if keyLen == apiKeyLength {
		maskedLen := keyLen - maskPrefixLen - maskSuffixLen

		return key[:maskPrefixLen] + strings.Repeat("*", maskedLen) + key[keyLen-maskSuffixLen:]
	}

	return strings.Repeat("*", keyLen)
}

// GenerateAPIKey creates a new secure API key: "exphub_ak_" plus 64 hex chars
// of random material.
func GenerateAPIKey() (string, error) {
	randomBytes := make([]byte, randomBytesSize)

	_, err := rand.Read(randomBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return keyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey extracts and validates the API key from header formats,
// stripping an optional "Bearer " prefix.
func ParseAPIKey(keyString string) (string, error) {
	if keyString == "" {
		return "", ErrKeyStringEmpty
	}

	keyString = strings.TrimPrefix(keyString, "Bearer ")

	if !strings.HasPrefix(keyString, keyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(keyString) != apiKeyLength {
		return "", ErrInvalidKeyLength
	}

	return keyString, nil
}
