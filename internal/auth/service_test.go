package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-vms/gatehouse/internal/shared"
	"github.com/gatehouse-vms/gatehouse/internal/users"
)

type stubDirectory struct {
	byEmail map[string]users.User
}

func (s *stubDirectory) GetByEmail(ctx context.Context, email string) (users.User, error) {
	user, ok := s.byEmail[email]
	if !ok {
		return users.User{}, httpx.ErrNotFound
	}
	return user, nil
}

type stubSessionStore struct {
	created []string
	deleted []string
}

func (s *stubSessionStore) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	s.created = append(s.created, id)
	return nil
}

func (s *stubSessionStore) DeleteSession(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func newTestService(t *testing.T) (*Service, *stubSessionStore) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame now"), bcrypt.MinCost)
	require.NoError(t, err)
	dir := &stubDirectory{byEmail: map[string]users.User{
		"maria@gatehouse.example":  {ID: 7, Email: "maria@gatehouse.example", Name: "Maria Reyes", PasswordHash: string(hash), Active: true},
		"locked@gatehouse.example": {ID: 8, Email: "locked@gatehouse.example", PasswordHash: string(hash), Active: true, Locked: true},
		"gone@gatehouse.example":   {ID: 9, Email: "gone@gatehouse.example", PasswordHash: string(hash), Active: false},
	}}
	store := &stubSessionStore{}
	return NewService(dir, store), store
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)

	user, err := svc.Authenticate(context.Background(), "maria@gatehouse.example", "open sesame now")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Authenticate(context.Background(), "maria@gatehouse.example", "wrong password")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Authenticate(context.Background(), "nobody@gatehouse.example", "open sesame now")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateLockedAccount(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Authenticate(context.Background(), "locked@gatehouse.example", "open sesame now")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials, "locked accounts fail like a wrong password")
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Authenticate(context.Background(), "gone@gatehouse.example", "open sesame now")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestSessionLifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterSession(ctx, "sess-1", 7, time.Now().Add(time.Hour), "203.0.113.9", "test-agent"))
	require.NoError(t, svc.RemoveSession(ctx, "sess-1"))
	assert.Equal(t, []string{"sess-1"}, store.created)
	assert.Equal(t, []string{"sess-1"}, store.deleted)
}
