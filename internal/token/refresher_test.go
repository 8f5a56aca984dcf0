package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenRequest struct {
	method string
	path   string
	form   url.Values
}

func newTokenServer(t *testing.T, status int, body string) (*OAuthRefresher, *tokenRequest) {
	t.Helper()
	captured := &tokenRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	r := NewOAuthRefresher("client-id", "client-secret", server.URL+"/auth/token", 5*time.Second)
	r.now = func() time.Time { return testNow }
	return r, captured
}

func TestOAuthRefresher_Refresh(t *testing.T) {
	t.Run("sends refresh grant with client credentials", func(t *testing.T) {
		r, captured := newTokenServer(t, http.StatusOK,
			`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":1800}`)

		update, err := r.Refresh(context.Background(), "old-refresh")
		require.NoError(t, err)

		assert.Equal(t, http.MethodPost, captured.method)
		assert.Equal(t, "/auth/token", captured.path)
		assert.Equal(t, "refresh_token", captured.form.Get("grant_type"))
		assert.Equal(t, "old-refresh", captured.form.Get("refresh_token"))
		assert.Equal(t, "client-id", captured.form.Get("client_id"))
		assert.Equal(t, "client-secret", captured.form.Get("client_secret"))

		assert.Equal(t, "new-access", update.AccessToken)
		assert.Equal(t, "new-refresh", update.RefreshToken)
		assert.WithinDuration(t, time.Now().Add(30*time.Minute), update.ExpiresAt, time.Minute)
	})

	t.Run("missing expires_in defaults to an hour", func(t *testing.T) {
		r, _ := newTokenServer(t, http.StatusOK, `{"access_token":"new-access","token_type":"Bearer"}`)

		update, err := r.Refresh(context.Background(), "old-refresh")
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(DefaultTokenLifetime), update.ExpiresAt)
		// x/oauth2 keeps the refresh token it sent when the response omits one.
		assert.Equal(t, "old-refresh", update.RefreshToken)
	})

	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		t.Run(http.StatusText(status)+" rejects the refresh token", func(t *testing.T) {
			r, _ := newTokenServer(t, status, `{"error":"invalid_grant"}`)

			_, err := r.Refresh(context.Background(), "old-refresh")
			assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
		})
	}

	t.Run("server error is transient", func(t *testing.T) {
		r, _ := newTokenServer(t, http.StatusBadGateway, `upstream down`)

		_, err := r.Refresh(context.Background(), "old-refresh")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRefreshTokenInvalid)
	})

	t.Run("unreachable endpoint is transient", func(t *testing.T) {
		r := NewOAuthRefresher("id", "secret", "http://127.0.0.1:1/auth/token", time.Second)

		_, err := r.Refresh(context.Background(), "old-refresh")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRefreshTokenInvalid)
	})
}
