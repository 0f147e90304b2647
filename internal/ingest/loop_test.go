package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolwatch/kolwatch/internal/risk"
	"github.com/kolwatch/kolwatch/internal/social"
	"github.com/kolwatch/kolwatch/internal/store"
)

const (
	mintSafe  = "So11111111111111111111111111111111111111112"
	mintRisky = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []risk.Alert
}

func (c *captureSink) Deliver(_ context.Context, a risk.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureSink) all() []risk.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]risk.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func newTestLoop(t *testing.T, scorer risk.Scorer) (*Loop, *social.StubSource, *store.Store, *captureSink) {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	src := social.NewStubSource()
	sink := &captureSink{}

	loop := NewLoop(Config{
		Handles:        []string{"kol_alpha", "kol_beta"},
		AlertThreshold: 80,
	}, src, st, scorer, sink)

	return loop, src, st, sink
}

func TestTick_RecordsAndScores(t *testing.T) {
	scorer := &risk.StubScorer{Scores: map[string]float64{mintSafe: 95, mintRisky: 30}}
	loop, src, st, sink := newTestLoop(t, scorer)
	ctx := context.Background()

	src.AddPost(social.Post{
		ID: "1001", Handle: "kol_alpha", CreatedAt: time.Now(),
		Text: "sending it " + mintSafe,
	})
	src.AddPost(social.Post{
		ID: "1002", Handle: "kol_beta", CreatedAt: time.Now(),
		Text: "careful with " + mintRisky,
	})

	loop.Tick(ctx)

	n, err := st.ObservationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	coin, err := st.CoinByAddress(ctx, mintSafe)
	require.NoError(t, err)
	require.NotNil(t, coin)
	require.NotNil(t, coin.RiskScore)
	assert.Equal(t, 95.0, *coin.RiskScore)

	alerts := sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, mintRisky, alerts[0].Address)
	assert.Equal(t, 30.0, alerts[0].Score)
	assert.Equal(t, "kol_beta", alerts[0].Source)

	stats := loop.Stats()
	assert.Equal(t, uint64(2), stats.NewObservations)
	assert.Equal(t, uint64(1), stats.Alerts)
}

func TestTick_DedupesRepeatedPosts(t *testing.T) {
	scorer := &risk.StubScorer{Scores: map[string]float64{mintRisky: 30}}
	loop, src, st, sink := newTestLoop(t, scorer)
	ctx := context.Background()

	src.AddPost(social.Post{
		ID: "1001", Handle: "kol_alpha", CreatedAt: time.Now(),
		Text: "gem " + mintRisky,
	})

	loop.Tick(ctx)
	loop.Tick(ctx)

	n, err := st.ObservationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// The repeat pass never re-scores or re-alerts.
	assert.Len(t, sink.all(), 1)
	assert.Equal(t, uint64(1), loop.Stats().Duplicates)
}

func TestTick_FetchErrorSkipsSourceOnly(t *testing.T) {
	scorer := &risk.StubScorer{Scores: map[string]float64{mintSafe: 95}}
	loop, src, st, _ := newTestLoop(t, scorer)
	ctx := context.Background()

	src.AddPost(social.Post{
		ID: "2001", Handle: "kol_beta", CreatedAt: time.Now(),
		Text: "still here " + mintSafe,
	})
	src.SetFailNext(assert.AnError)

	loop.Tick(ctx)

	// kol_alpha failed but kol_beta was still processed.
	n, err := st.ObservationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, uint64(1), loop.Stats().FetchErrors)
}

// blockingSource parks FetchRecent until released, signalling entry once.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) FetchRecent(ctx context.Context, _ string, _ int) ([]social.Post, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func TestStop_WaitsForInitialTick(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	loop := NewLoop(Config{Handles: []string{"kol_alpha"}}, src, st, &risk.StubScorer{})

	require.NoError(t, loop.Start(context.Background()))
	<-src.entered

	stopped := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the initial tick was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(src.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}
	assert.Equal(t, uint64(1), loop.Stats().Ticks)
}

func TestTick_RescoresDeferredAddresses(t *testing.T) {
	scorer := &risk.StubScorer{Scores: map[string]float64{}}
	loop, src, st, sink := newTestLoop(t, scorer)
	ctx := context.Background()

	src.AddPost(social.Post{
		ID: "3001", Handle: "kol_alpha", CreatedAt: time.Now(),
		Text: "fresh " + mintRisky,
	})

	// Scorer has no entry yet: the address stays unscored.
	loop.Tick(ctx)

	coin, err := st.CoinByAddress(ctx, mintRisky)
	require.NoError(t, err)
	require.NotNil(t, coin)
	assert.Nil(t, coin.RiskScore)
	assert.Equal(t, uint64(1), loop.Stats().ScoreUnavailable)

	// Scorer comes back: the next pass fills the score and alerts.
	scorer.Scores[mintRisky] = 12

	loop.Tick(ctx)

	coin, err = st.CoinByAddress(ctx, mintRisky)
	require.NoError(t, err)
	require.NotNil(t, coin.RiskScore)
	assert.Equal(t, 12.0, *coin.RiskScore)

	alerts := sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, "rescore", alerts[0].Source)
}
