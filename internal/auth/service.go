// Package auth handles credential checks and the session lifecycle. A
// successful login binds the user id to the Redis-backed cookie session;
// the authorization middleware reads that identity on every request.
package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-vms/gatehouse/internal/shared"
	"github.com/gatehouse-vms/gatehouse/internal/users"
)

// Directory looks up accounts by email. Satisfied by the users repository.
type Directory interface {
	GetByEmail(ctx context.Context, email string) (users.User, error)
}

// SessionStore persists session metadata alongside the Redis session, giving
// operators a queryable record of active logins.
type SessionStore interface {
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// Service wraps authentication business rules.
type Service struct {
	directory Directory
	sessions  SessionStore
}

// NewService constructs a new Service.
func NewService(directory Directory, sessions SessionStore) *Service {
	return &Service{directory: directory, sessions: sessions}
}

// Authenticate validates email/password credentials. Inactive and locked
// accounts fail with the same error as a wrong password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (users.User, error) {
	user, err := s.directory.GetByEmail(ctx, email)
	if err != nil {
		// Burn a hash comparison so lookup failures take as long as
		// password failures.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return users.User{}, shared.ErrInvalidCredentials
	}
	if !user.Active || user.Locked {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.sessions.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.sessions.DeleteSession(ctx, id)
}
