package middleware

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	tbTypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

const tokenIssuer = "go-matching-engine"

type UserClaims struct {
	UserId int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// NewUserClaims issues claims with a time-ordered unique token id.
func NewUserClaims(id int64, username string, duration time.Duration) (*UserClaims, error) {
	now := time.Now()
	return &UserClaims{
		UserId: id,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tbTypes.ID().String(),
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
	}, nil
}
