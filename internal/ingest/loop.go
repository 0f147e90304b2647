package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/kolwatch/kolwatch/internal/extract"
	"github.com/kolwatch/kolwatch/internal/risk"
	"github.com/kolwatch/kolwatch/internal/social"
	"github.com/kolwatch/kolwatch/internal/store"
)

// ---------------------------------------------------------------------------
// Ingest loop — poll timelines, extract addresses, score, alert
// ---------------------------------------------------------------------------

// Config configures the ingest loop.
type Config struct {
	Schedule       string   `yaml:"schedule"`
	Handles        []string `yaml:"handles"`
	FetchLimit     int      `yaml:"fetch_limit"`
	AlertThreshold float64  `yaml:"alert_threshold"`
	RescoreBatch   int      `yaml:"rescore_batch"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Schedule:       "@every 1m",
		FetchLimit:     20,
		AlertThreshold: risk.DefaultAlertThreshold,
		RescoreBatch:   25,
	}
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Ticks            uint64 `json:"ticks"`
	PostsSeen        uint64 `json:"posts_seen"`
	NewObservations  uint64 `json:"new_observations"`
	Duplicates       uint64 `json:"duplicates"`
	Scored           uint64 `json:"scored"`
	ScoreUnavailable uint64 `json:"score_unavailable"`
	Alerts           uint64 `json:"alerts"`
	FetchErrors      uint64 `json:"fetch_errors"`
}

// Loop polls tracked timelines on a schedule and drives each extracted
// address through dedupe, scoring, and alerting. One source failing never
// stops the others.
type Loop struct {
	cfg    Config
	source social.Source
	store  *store.Store
	scorer risk.Scorer
	sinks  []risk.AlertSink

	sched *cron.Cron
	wg    sync.WaitGroup

	ticks            atomic.Uint64
	postsSeen        atomic.Uint64
	newObservations  atomic.Uint64
	duplicates       atomic.Uint64
	scored           atomic.Uint64
	scoreUnavailable atomic.Uint64
	alerts           atomic.Uint64
	fetchErrors      atomic.Uint64
}

// NewLoop creates an ingest loop.
func NewLoop(cfg Config, source social.Source, st *store.Store, scorer risk.Scorer, sinks ...risk.AlertSink) *Loop {
	def := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = def.FetchLimit
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = def.AlertThreshold
	}
	if cfg.RescoreBatch <= 0 {
		cfg.RescoreBatch = def.RescoreBatch
	}
	return &Loop{
		cfg:    cfg,
		source: source,
		store:  st,
		scorer: scorer,
		sinks:  sinks,
	}
}

// Start schedules ticks until Stop is called. The first tick runs
// immediately rather than waiting a full interval.
func (l *Loop) Start(ctx context.Context) error {
	l.sched = cron.New()
	if _, err := l.sched.AddFunc(l.cfg.Schedule, func() { l.Tick(ctx) }); err != nil {
		return fmt.Errorf("ingest: bad schedule %q: %w", l.cfg.Schedule, err)
	}
	l.sched.Start()
	// The scheduler only tracks its own jobs, so the immediate first tick
	// needs the WaitGroup or Stop could race it.
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.Tick(ctx)
	}()

	log.Info().Str("schedule", l.cfg.Schedule).Strs("handles", l.cfg.Handles).Msg("ingest: started")
	return nil
}

// Stop halts scheduling and waits for any running tick to finish.
func (l *Loop) Stop() {
	if l.sched != nil {
		<-l.sched.Stop().Done()
	}
	l.wg.Wait()
	log.Info().Msg("ingest: stopped")
}

// Tick runs one full pass over every tracked handle.
func (l *Loop) Tick(ctx context.Context) {
	l.ticks.Add(1)

	for _, handle := range l.cfg.Handles {
		if ctx.Err() != nil {
			return
		}

		posts, err := l.source.FetchRecent(ctx, handle, l.cfg.FetchLimit)
		if err != nil {
			l.fetchErrors.Add(1)
			log.Error().Err(err).Str("handle", handle).Msg("ingest: fetch failed, skipping source")
			continue
		}

		for _, post := range posts {
			l.postsSeen.Add(1)
			l.processPost(ctx, post)
		}
	}

	l.rescorePending(ctx)
}

func (l *Loop) processPost(ctx context.Context, post social.Post) {
	for _, addr := range extract.Addresses(post.Text) {
		res, err := l.store.RecordObservation(ctx, store.Observation{
			PostID:     post.ID,
			Source:     post.Handle,
			Text:       post.Text,
			ObservedAt: post.CreatedAt,
			Address:    addr,
		})
		if err != nil {
			log.Error().Err(err).Str("address", addr).Msg("ingest: record failed")
			continue
		}
		if res == store.AlreadyPresent {
			l.duplicates.Add(1)
			continue
		}

		l.newObservations.Add(1)
		log.Info().Str("address", addr).Str("handle", post.Handle).Str("post", post.ID).
			Msg("ingest: new address observed")

		l.scoreAddress(ctx, addr, post.Handle, post.CreatedAt)
	}
}

// scoreAddress upserts the coin record and attaches a risk score when the
// scorer can produce one. Unavailable scores leave the record unscored for
// a later rescore pass.
func (l *Loop) scoreAddress(ctx context.Context, addr, source string, seenAt time.Time) {
	upd := store.CoinUpdate{Address: addr, LastSeenAt: seenAt}

	score, err := l.scorer.Score(ctx, addr)
	switch {
	case err == nil:
		l.scored.Add(1)
		upd.RiskScore = &score.Value
	case risk.IsUnavailable(err):
		l.scoreUnavailable.Add(1)
		log.Debug().Err(err).Str("address", addr).Msg("ingest: score deferred")
	default:
		log.Error().Err(err).Str("address", addr).Msg("ingest: scorer failed")
	}

	if err := l.store.UpsertCoin(ctx, upd); err != nil {
		log.Error().Err(err).Str("address", addr).Msg("ingest: upsert failed")
		return
	}

	if upd.RiskScore != nil && *upd.RiskScore < l.cfg.AlertThreshold {
		l.emitAlert(ctx, risk.Alert{
			Address:   addr,
			Score:     *upd.RiskScore,
			Threshold: l.cfg.AlertThreshold,
			Source:    source,
			At:        time.Now().UTC(),
		})
	}
}

// rescorePending retries addresses whose score was unavailable earlier.
func (l *Loop) rescorePending(ctx context.Context) {
	addrs, err := l.store.Unscored(ctx, l.cfg.RescoreBatch)
	if err != nil {
		log.Error().Err(err).Msg("ingest: list unscored failed")
		return
	}

	for _, addr := range addrs {
		if ctx.Err() != nil {
			return
		}

		score, err := l.scorer.Score(ctx, addr)
		if err != nil {
			if !risk.IsUnavailable(err) {
				log.Error().Err(err).Str("address", addr).Msg("ingest: rescore failed")
			}
			continue
		}

		l.scored.Add(1)
		if err := l.store.UpsertCoin(ctx, store.CoinUpdate{
			Address:    addr,
			LastSeenAt: time.Now().UTC(),
			RiskScore:  &score.Value,
		}); err != nil {
			log.Error().Err(err).Str("address", addr).Msg("ingest: upsert failed")
			continue
		}

		if score.Value < l.cfg.AlertThreshold {
			l.emitAlert(ctx, risk.Alert{
				Address:   addr,
				Score:     score.Value,
				Threshold: l.cfg.AlertThreshold,
				Source:    "rescore",
				At:        time.Now().UTC(),
			})
		}
	}
}

func (l *Loop) emitAlert(ctx context.Context, alert risk.Alert) {
	l.alerts.Add(1)
	for _, sink := range l.sinks {
		if err := sink.Deliver(ctx, alert); err != nil {
			log.Error().Err(err).Str("address", alert.Address).Msg("ingest: alert delivery failed")
		}
	}
}

// Stats returns a snapshot of loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:            l.ticks.Load(),
		PostsSeen:        l.postsSeen.Load(),
		NewObservations:  l.newObservations.Load(),
		Duplicates:       l.duplicates.Load(),
		Scored:           l.scored.Load(),
		ScoreUnavailable: l.scoreUnavailable.Load(),
		Alerts:           l.alerts.Load(),
		FetchErrors:      l.fetchErrors.Load(),
	}
}
