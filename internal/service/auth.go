package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingKey = errors.New("missing api key")
	ErrInvalidKey = errors.New("invalid api key")
)

// AuthService checks API keys against a bcrypt hash. With an empty hash
// authentication is disabled.
type AuthService struct {
	hash []byte

	// sha256 of keys that already passed bcrypt
	mu       sync.RWMutex
	verified map[string]struct{}
}

func NewAuthService(apiKeyHash string) (*AuthService, error) {
	s := &AuthService{verified: make(map[string]struct{})}
	if apiKeyHash == "" {
		return s, nil
	}
	if _, err := bcrypt.Cost([]byte(apiKeyHash)); err != nil {
		return nil, errors.New("API_KEY_HASH is not a bcrypt hash")
	}
	s.hash = []byte(apiKeyHash)
	return s, nil
}

func (s *AuthService) Enabled() bool {
	return len(s.hash) > 0
}

func (s *AuthService) ValidateKey(key string) error {
	if !s.Enabled() {
		return nil
	}
	if key == "" {
		return ErrMissingKey
	}

	sum := sha256.Sum256([]byte(key))
	fingerprint := hex.EncodeToString(sum[:])

	s.mu.RLock()
	_, ok := s.verified[fingerprint]
	s.mu.RUnlock()
	if ok {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(key)); err != nil {
		return ErrInvalidKey
	}

	s.mu.Lock()
	s.verified[fingerprint] = struct{}{}
	s.mu.Unlock()
	return nil
}

// HashKey produces a value suitable for API_KEY_HASH.
func HashKey(key string) (string, error) {
	if len(key) < 16 {
		return "", errors.New("api key must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
