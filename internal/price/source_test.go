package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteSource_CurrentPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, solMint, q.Get("inputMint"))
		assert.Equal(t, "MintA111111111111111111111111111111111111111", q.Get("outputMint"))
		assert.Equal(t, "10000000", q.Get("amount")) // 0.01 SOL in lamports
		w.Write([]byte(`{"outAmount":"5000000"}`))
	}))
	defer server.Close()

	src := NewQuoteSource(QuoteConfig{BaseURL: server.URL})

	p, err := src.CurrentPrice(context.Background(), "MintA111111111111111111111111111111111111111")
	require.NoError(t, err)
	// 0.01 SOL bought 5_000_000 raw units.
	assert.True(t, p.Equal(decimal.RequireFromString("0.01").Div(decimal.NewFromInt(5_000_000))),
		"got %s", p)
}

func TestQuoteSource_BadQuote(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "upstream error", body: `{}`, code: http.StatusBadGateway},
		{name: "zero out", body: `{"outAmount":"0"}`, code: http.StatusOK},
		{name: "missing out", body: `{}`, code: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			src := NewQuoteSource(QuoteConfig{BaseURL: server.URL})
			_, err := src.CurrentPrice(context.Background(), "mint")
			assert.Error(t, err)
		})
	}
}

func TestStubSource_Series(t *testing.T) {
	src := NewStubSource()
	src.SetSeries("mint",
		decimal.RequireFromString("1"),
		decimal.RequireFromString("5"),
		decimal.RequireFromString("12"),
	)

	ctx := context.Background()
	for _, want := range []string{"1", "5", "12", "12"} {
		p, err := src.CurrentPrice(ctx, "mint")
		require.NoError(t, err)
		assert.Equal(t, want, p.String())
	}

	_, err := src.CurrentPrice(ctx, "other")
	assert.Error(t, err)
}
