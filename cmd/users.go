package main

import (
	"context"
	"errors"

	userRepository "github.com/Yusufzhafir/go-matching-engine/backend/internal/repository/user"
)

var errNoUserStore = errors.New("user store is not configured")

// unavailableUsers backs the user routes when the embedded store runs without Postgres.
type unavailableUsers struct{}

func (unavailableUsers) Create(context.Context, string, string) (int64, error) {
	return 0, errNoUserStore
}

func (unavailableUsers) GetByID(context.Context, int64) (*userRepository.User, error) {
	return nil, errNoUserStore
}

func (unavailableUsers) GetByUsername(context.Context, string) (*userRepository.User, error) {
	return nil, errNoUserStore
}

func (unavailableUsers) VerifyPassword(context.Context, string, string) (*userRepository.User, error) {
	return nil, errNoUserStore
}
