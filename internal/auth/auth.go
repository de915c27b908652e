package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chartflow/chartflow/pkg/models"
)

var (
	ErrAuthDisabled       = errors.New("auth disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserStore is the slice of the persistence layer auth needs.
type UserStore interface {
	Get(username string) (*models.User, error)
}

// Config configures the auth service.
type Config struct {
	JWTSecret     string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// Service authenticates users against stored salted hashes and issues
// JWT token pairs.
type Service struct {
	jwt   *JWTService
	users UserStore
}

// NewService constructs an auth service. An empty secret disables token
// issuance.
func NewService(cfg Config, users UserStore) *Service {
	s := &Service{users: users}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		s.jwt = NewJWTService(cfg.JWTSecret, cfg.AccessExpiry, cfg.RefreshExpiry)
	}
	return s
}

// Enabled reports whether auth checks should run.
func (s *Service) Enabled() bool {
	return s != nil && s.jwt != nil
}

// Login verifies a password and returns a fresh token pair.
func (s *Service) Login(username, password string) (*TokenPair, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}
	user, err := s.users.Get(username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(password, user.Salt, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return s.jwt.GeneratePair(user.Username)
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *Service) Refresh(refreshToken string) (*TokenPair, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}
	username, err := s.jwt.Validate(refreshToken, KindRefresh)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.Get(username); err != nil {
		return nil, ErrInvalidToken
	}
	return s.jwt.GeneratePair(username)
}

// Authenticate resolves an access token to its stored user.
func (s *Service) Authenticate(accessToken string) (*models.User, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}
	username, err := s.jwt.Validate(accessToken, KindAccess)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Get(username)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// NewSalt returns a random hex salt for password storage.
func NewSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashPassword derives the stored hash for a password and salt.
func HashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword checks a candidate password in constant time.
func VerifyPassword(password, salt, storedHash string) bool {
	candidate := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}
