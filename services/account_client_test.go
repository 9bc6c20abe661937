package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountClientVerifyAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-123", r.Header.Get("X-Riot-Token"))
		switch r.URL.Path {
		case "/riot/account/v1/accounts/by-puuid/known":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"game_name":"Faker","tag_line":"KR1"}`))
		case "/riot/account/v1/accounts/by-puuid/busy":
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/riot/account/v1/accounts/by-puuid/broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewAccountClient("key-123", WithAccountBaseURL(srv.URL), WithAccountRateLimit(1000, 10))
	ctx := context.Background()

	info, err := c.VerifyAccount(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, "known", info.AccountID)
	assert.Equal(t, "Faker", info.GameName)

	_, err = c.VerifyAccount(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = c.VerifyAccount(ctx, "busy")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = c.VerifyAccount(ctx, "broken")
	var apiErr *AccountAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Body)

	_, err = c.VerifyAccount(ctx, "")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountClientHonoursContext(t *testing.T) {
	c := NewAccountClient("k", WithAccountRateLimit(0.001, 1))
	// Drain the single token so the next call has to wait.
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.VerifyAccount(ctx, "anything")
	require.Error(t, err)
}
