package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type AuthKey struct{}

var (
	errMissingHeader = errors.New("authorization header is missing")
	errInvalidHeader = errors.New("invalid authorization header")
)

// AuthMiddleware verifies the bearer token and stores the claims in the request context.
// Browsers cannot set headers on websocket upgrades, so an access_token query parameter
// is accepted for those requests.
func AuthMiddleware(tokenMaker *JWTMaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifyClaims(r, tokenMaker)
			if err != nil {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Unauthorized","status":401}` + "\n"))
				return
			}

			ctx := context.WithValue(r.Context(), AuthKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (*UserClaims, bool) {
	claims, ok := ctx.Value(AuthKey{}).(*UserClaims)
	return claims, ok && claims != nil
}

func verifyClaims(r *http.Request, tokenMaker *JWTMaker) (*UserClaims, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	return tokenMaker.VerifyToken(token)
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if websocketUpgrade(r) {
			if t := r.URL.Query().Get("access_token"); t != "" {
				return t, nil
			}
		}
		return "", errMissingHeader
	}

	fields := strings.Fields(authHeader)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", errInvalidHeader
	}
	return fields[1], nil
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
