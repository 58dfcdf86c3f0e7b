package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRateSameCurrency(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := NewCurrencyClient(srv.URL, time.Second, zerolog.Nop())

	rate, err := c.GetRate(context.Background(), "usd", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 0, calls, "same-currency lookups must not hit the API")
}

func TestGetRateFetchesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/EUR", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"base":"EUR","rates":{"USD":1.1,"GBP":0.85}}`))
	}))
	defer srv.Close()

	c := NewCurrencyClient(srv.URL, time.Second, zerolog.Nop())

	rate, err := c.GetRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.1")), "rate %s", rate)

	// Second lookup against the same base is served from cache.
	rate, err = c.GetRate(context.Background(), "eur", "gbp")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.85")))
	assert.Equal(t, 1, calls)
}

func TestGetRateUnknownTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base":"EUR","rates":{"USD":1.1}}`))
	}))
	defer srv.Close()

	c := NewCurrencyClient(srv.URL, time.Second, zerolog.Nop())

	_, err := c.GetRate(context.Background(), "EUR", "XXX")
	require.Error(t, err)
}

func TestGetRateUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewCurrencyClient(srv.URL, time.Second, zerolog.Nop())

	_, err := c.GetRate(context.Background(), "EUR", "USD")
	require.Error(t, err)
}
