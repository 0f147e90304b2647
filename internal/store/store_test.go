package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestRecordObservation_Dedupe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	obs := Observation{
		PostID:     "1001",
		Source:     "kol_alpha",
		Text:       "new gem dropping",
		ObservedAt: time.Now(),
		Address:    "So11111111111111111111111111111111111111112",
	}

	res, err := s.RecordObservation(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, Inserted, res)

	res, err = s.RecordObservation(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, res)

	n, err := s.ObservationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecordObservation_SameAddressDifferentPosts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addr := "So11111111111111111111111111111111111111112"
	for _, postID := range []string{"1001", "1002"} {
		res, err := s.RecordObservation(ctx, Observation{
			PostID: postID, Source: "kol_alpha", Text: "again", ObservedAt: time.Now(), Address: addr,
		})
		require.NoError(t, err)
		assert.Equal(t, Inserted, res)
	}

	n, err := s.ObservationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUpsertCoin_ScoreNeverDowngradedToNull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addr := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	require.NoError(t, s.UpsertCoin(ctx, CoinUpdate{
		Address: addr, LastSeenAt: time.Now(), RiskScore: ptr(92.0),
	}))

	// Later sighting without a fresh score must not erase the stored one.
	require.NoError(t, s.UpsertCoin(ctx, CoinUpdate{
		Address: addr, LastSeenAt: time.Now(), Ticker: ptr("USDC"),
	}))

	coin, err := s.CoinByAddress(ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, coin)
	require.NotNil(t, coin.RiskScore)
	assert.Equal(t, 92.0, *coin.RiskScore)
	require.NotNil(t, coin.Ticker)
	assert.Equal(t, "USDC", *coin.Ticker)
	assert.Equal(t, "solana", coin.Platform)
}

func TestUnscored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertCoin(ctx, CoinUpdate{Address: "addr_old", LastSeenAt: base}))
	require.NoError(t, s.UpsertCoin(ctx, CoinUpdate{Address: "addr_new", LastSeenAt: base.Add(time.Hour)}))
	require.NoError(t, s.UpsertCoin(ctx, CoinUpdate{
		Address: "addr_scored", LastSeenAt: base, RiskScore: ptr(55.0),
	}))

	addrs, err := s.Unscored(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"addr_old", "addr_new"}, addrs)

	addrs, err = s.Unscored(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"addr_old"}, addrs)
}

func TestQualified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertCoin(ctx, CoinUpdate{Address: "low", LastSeenAt: base, RiskScore: ptr(40.0)}))
	require.NoError(t, s.UpsertCoin(ctx, CoinUpdate{Address: "high_old", LastSeenAt: base, RiskScore: ptr(90.0)}))
	require.NoError(t, s.UpsertCoin(ctx, CoinUpdate{Address: "high_new", LastSeenAt: base.Add(time.Hour), RiskScore: ptr(85.0)}))
	require.NoError(t, s.UpsertCoin(ctx, CoinUpdate{Address: "unscored", LastSeenAt: base}))

	coins, err := s.Qualified(ctx, 80)
	require.NoError(t, err)
	require.Len(t, coins, 2)
	assert.Equal(t, "high_new", coins[0].Address)
	assert.Equal(t, "high_old", coins[1].Address)
}

func TestCoinByAddress_Missing(t *testing.T) {
	s := newTestStore(t)

	coin, err := s.CoinByAddress(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, coin)
}
