package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/Yusufzhafir/go-matching-engine/backend/internal/repository/user"
)

var ErrInvalidInput = errors.New("username and password are required")

const minPasswordLength = 8

type UserUseCase interface {
	Register(ctx context.Context, username, password string) (int64, error)
	Login(ctx context.Context, username, password string) (*repository.User, error)
	GetProfile(ctx context.Context, userID int64) (*UserProfile, error)
}

type UserProfile struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type userUseCaseImpl struct {
	repo repository.UserRepository
}

type UserUseCaseOpts struct {
	UserRepo repository.UserRepository
}

func NewUserUseCase(opts UserUseCaseOpts) UserUseCase {
	return &userUseCaseImpl{repo: opts.UserRepo}
}

func (uc *userUseCaseImpl) Register(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, ErrInvalidInput
	}
	if len(password) < minPasswordLength {
		return 0, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	// the unique index is authoritative; this only avoids hashing for an obvious duplicate
	if existing, err := uc.repo.GetByUsername(ctx, username); err == nil && existing != nil {
		return 0, repository.ErrUsernameTaken
	}
	return uc.repo.Create(ctx, username, password)
}

func (uc *userUseCaseImpl) Login(ctx context.Context, username, password string) (*repository.User, error) {
	return uc.repo.VerifyPassword(ctx, strings.TrimSpace(username), password)
}

func (uc *userUseCaseImpl) GetProfile(ctx context.Context, userID int64) (*UserProfile, error) {
	u, err := uc.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserProfile{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}, nil
}
