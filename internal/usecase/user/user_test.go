package user

import (
	"context"
	"testing"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/repository"
	userRepository "github.com/Yusufzhafir/go-matching-engine/backend/internal/repository/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUsers struct {
	byName map[string]*userRepository.User
	nextID int64
}

func newMemUsers() *memUsers {
	return &memUsers{byName: make(map[string]*userRepository.User)}
}

func (m *memUsers) Create(_ context.Context, username, password string) (int64, error) {
	if _, ok := m.byName[username]; ok {
		return 0, userRepository.ErrUsernameTaken
	}
	m.nextID++
	m.byName[username] = &userRepository.User{ID: m.nextID, Username: username, PasswordHash: password, CreatedAt: time.Now()}
	return m.nextID, nil
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*userRepository.User, error) {
	for _, u := range m.byName {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*userRepository.User, error) {
	if u, ok := m.byName[username]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) VerifyPassword(_ context.Context, username, password string) (*userRepository.User, error) {
	u, ok := m.byName[username]
	if !ok || u.PasswordHash != password {
		return nil, userRepository.ErrInvalidCredentials
	}
	return u, nil
}

func TestRegisterLoginProfile(t *testing.T) {
	uc := NewUserUseCase(UserUseCaseOpts{UserRepo: newMemUsers()})
	ctx := context.Background()

	id, err := uc.Register(ctx, " alice ", "correct-horse")
	require.NoError(t, err)

	_, err = uc.Register(ctx, "alice", "another-pass")
	assert.ErrorIs(t, err, userRepository.ErrUsernameTaken)

	u, err := uc.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	_, err = uc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, userRepository.ErrInvalidCredentials)

	profile, err := uc.GetProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)

	_, err = uc.GetProfile(ctx, 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	uc := NewUserUseCase(UserUseCaseOpts{UserRepo: newMemUsers()})

	_, err := uc.Register(context.Background(), "", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = uc.Register(context.Background(), "bob", "short")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
