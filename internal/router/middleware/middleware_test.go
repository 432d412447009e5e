package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndVerifyToken(t *testing.T) {
	maker := NewJWTMaker("secret")

	token, claims, err := maker.CreateToken(7, "alice", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	got, err := maker.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserId)
	assert.Equal(t, "alice", got.Subject)
	assert.Equal(t, claims.ID, got.ID)

	_, err = NewJWTMaker("other").VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, _, err := maker.CreateToken(7, "alice", -time.Minute)
	require.NoError(t, err)
	_, err = maker.VerifyToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthMiddleware(t *testing.T) {
	maker := NewJWTMaker("secret")
	token, _, err := maker.CreateToken(3, "bob", time.Minute)
	require.NoError(t, err)

	var seen int64
	handler := AuthMiddleware(maker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		seen = claims.UserId
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"malformed", func(r *http.Request) { r.Header.Set("Authorization", "Token abc") }, http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, http.StatusUnauthorized},
		{"valid", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent},
		{"query token on upgrade", func(r *http.Request) {
			r.Header.Set("Upgrade", "websocket")
			q := r.URL.Query()
			q.Set("access_token", token)
			r.URL.RawQuery = q.Encode()
		}, http.StatusNoContent},
		{"query token without upgrade", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("access_token", token)
			r.URL.RawQuery = q.Encode()
		}, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(http.MethodGet, "/api/v1/user/", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusNoContent {
				assert.Equal(t, int64(3), seen)
			}
		})
	}
}
