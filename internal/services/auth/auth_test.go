package authservice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zanzhit/camera_dvr/internal/domain/errs"
	"github.com/zanzhit/camera_dvr/internal/domain/models"
	"github.com/zanzhit/camera_dvr/internal/lib/jwt"
	"github.com/zanzhit/camera_dvr/internal/lib/logger/handlers/slogdiscard"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]models.User)}
}

func (m *memUsers) SaveUser(_ context.Context, email string, passHash []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[email]; ok {
		return 0, errs.ErrUserExists
	}

	id := len(m.users) + 1
	m.users[email] = models.User{Id: id, Email: email, PassHash: passHash}

	return id, nil
}

func (m *memUsers) User(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[email]
	if !ok {
		return models.User{}, errs.ErrUserNotFound
	}

	return u, nil
}

func newService(users *memUsers) *AuthService {
	return New(slogdiscard.NewDiscardLogger(), users, users, time.Hour, "secret")
}

func TestRegisterAndLogin(t *testing.T) {
	users := newMemUsers()
	s := newService(users)
	ctx := context.Background()

	id, err := s.RegisterNewUser(ctx, "op@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	token, err := s.Login(ctx, "op@example.com", "pw")
	require.NoError(t, err)

	user, err := jwt.ParseToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, 1, user.Id)
}

func TestRegister_Duplicate(t *testing.T) {
	s := newService(newMemUsers())
	ctx := context.Background()

	_, err := s.RegisterNewUser(ctx, "op@example.com", "pw")
	require.NoError(t, err)

	_, err = s.RegisterNewUser(ctx, "op@example.com", "pw")
	assert.ErrorIs(t, err, errs.ErrUserExists)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newService(newMemUsers())
	ctx := context.Background()

	_, err := s.RegisterNewUser(ctx, "op@example.com", "pw")
	require.NoError(t, err)

	_, err = s.Login(ctx, "op@example.com", "wrong")
	assert.ErrorIs(t, err, errs.ErrInvalidCredentials)

	_, err = s.Login(ctx, "nobody@example.com", "pw")
	assert.ErrorIs(t, err, errs.ErrInvalidCredentials)
}

func TestCreateInitialOperator(t *testing.T) {
	users := newMemUsers()
	s := newService(users)
	ctx := context.Background()

	require.Error(t, s.CreateInitialOperator(ctx, "", ""))

	require.NoError(t, s.CreateInitialOperator(ctx, "admin@example.com", "pw"))
	require.NoError(t, s.CreateInitialOperator(ctx, "admin@example.com", "other"))

	assert.Len(t, users.users, 1)

	_, err := s.Login(ctx, "admin@example.com", "pw")
	assert.NoError(t, err)
}
