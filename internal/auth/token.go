package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/harvestbin/silo/internal/store"
)

const (
	// TokenLength is the length of generated API tokens in bytes (hex encoded on the wire)
	TokenLength = 32

	// BcryptCost is the bcrypt cost factor for stored token hashes
	BcryptCost = 10
)

// ErrTokenExists is returned when creating a token under a name already in use.
var ErrTokenExists = errors.New("token name already in use")

// TokenInfo describes a stored API token. The token itself is only returned
// once, at creation time; the database keeps a bcrypt hash.
type TokenInfo struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenService manages API tokens for the HTTP surface.
type TokenService struct {
	store *store.Store
}

// NewTokenService creates a new token service.
func NewTokenService(s *store.Store) *TokenService {
	return &TokenService{store: s}
}

// GenerateToken creates a new cryptographically secure API token.
func GenerateToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Create generates a token, stores its hash under name, and returns the
// plaintext token. The plaintext is not recoverable afterwards.
func (s *TokenService) Create(name string) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}

	var count int
	if err := s.store.QueryRow("SELECT COUNT(*) FROM tokens WHERE name = ?", name).Scan(&count); err != nil {
		return "", fmt.Errorf("failed to check token name: %w", err)
	}
	if count > 0 {
		return "", fmt.Errorf("token %q: %w", name, ErrTokenExists)
	}

	if _, err := s.store.Exec("INSERT INTO tokens (name, token_hash) VALUES (?, ?)", name, string(hash)); err != nil {
		return "", fmt.Errorf("failed to store token %s: %w", name, err)
	}

	return token, nil
}

// Validate reports whether token matches any stored token hash.
func (s *TokenService) Validate(token string) (bool, error) {
	rows, err := s.store.Query("SELECT token_hash FROM tokens")
	if err != nil {
		return false, fmt.Errorf("failed to load tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return false, fmt.Errorf("failed to scan token: %w", err)
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Revoke deletes the token stored under name.
func (s *TokenService) Revoke(name string) error {
	if _, err := s.store.Exec("DELETE FROM tokens WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to revoke token %s: %w", name, err)
	}
	return nil
}

// List returns the stored tokens without their hashes.
func (s *TokenService) List() ([]TokenInfo, error) {
	rows, err := s.store.Query("SELECT id, name, created_at FROM tokens ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var out []TokenInfo
	for rows.Next() {
		var t TokenInfo
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
