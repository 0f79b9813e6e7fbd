// Package relay runs the single control loop of the bot.
//
// One goroutine multiplexes inbound IRC traffic, the fetch ticker and the
// liveness ticker. Fetches are spaced by a minimum interval tracked in the
// Loop itself, so a fast ticker never hammers the feed.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/feed"
	"relaybot/internal/transport/irc"
	logx "relaybot/pkg/logx"
)

// ErrConnectionLost is returned by Run when the inbound stream ends.
var ErrConnectionLost = errors.New("relay: connection lost")

const (
	DefaultPollInterval     = 2 * time.Second
	DefaultMinFetchInterval = 30 * time.Second
	DefaultLivenessInterval = 60 * time.Second
)

type Config struct {
	PollInterval     time.Duration
	MinFetchInterval time.Duration
	LivenessInterval time.Duration
}

// Source yields the current feed snapshot. Failures surface as an empty slice.
type Source interface {
	Fetch(ctx context.Context) []feed.Item
}

// Announcer is the dedup + send step.
type Announcer interface {
	ShouldAnnounce(it feed.Item) bool
	Announce(ctx context.Context, it feed.Item) error
}

// Session is the part of the IRC session the loop observes.
type Session interface {
	Inbound() <-chan *irc.Message
	ProbeAlive(ctx context.Context) bool
	Err() error
}

type Loop struct {
	cfg       Config
	source    Source
	announcer Announcer
	session   Session
	bus       eventbus.Bus
	log       logx.Logger

	now       func() time.Time
	lastFetch time.Time
	fetched   bool
}

func New(cfg Config, source Source, announcer Announcer, session Session, bus eventbus.Bus, log logx.Logger) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MinFetchInterval <= 0 {
		cfg.MinFetchInterval = DefaultMinFetchInterval
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = DefaultLivenessInterval
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		cfg:       cfg,
		source:    source,
		announcer: announcer,
		session:   session,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// Run blocks until ctx is canceled (returns nil) or the connection drops
// (returns an error wrapping ErrConnectionLost).
func (l *Loop) Run(ctx context.Context) error {
	poll := time.NewTicker(l.cfg.PollInterval)
	defer poll.Stop()
	live := time.NewTicker(l.cfg.LivenessInterval)
	defer live.Stop()

	inbound := l.session.Inbound()
	l.log.Info("relay loop started",
		logx.Duration("poll", l.cfg.PollInterval),
		logx.Duration("min_fetch", l.cfg.MinFetchInterval),
		logx.Duration("liveness", l.cfg.LivenessInterval))

	for {
		select {
		case <-ctx.Done():
			l.log.Info("relay loop stopped")
			return nil
		case m, ok := <-inbound:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := l.session.Err(); err != nil {
					return fmt.Errorf("%w: %w", ErrConnectionLost, err)
				}
				return ErrConnectionLost
			}
			if l.log.Enabled(logx.LevelDebug) {
				l.log.Debug("inbound", logx.String("line", m.String()))
			}
		case <-poll.C:
			l.pollTick(ctx, l.now())
		case <-live.C:
			l.livenessTick(ctx)
		}
	}
}

// pollTick fetches and announces when at least MinFetchInterval has passed
// since the previous fetch. The first tick always fetches.
func (l *Loop) pollTick(ctx context.Context, now time.Time) {
	if l.fetched && now.Sub(l.lastFetch) < l.cfg.MinFetchInterval {
		return
	}
	l.lastFetch = now
	l.fetched = true

	start := l.now()
	items := l.source.Fetch(ctx)
	l.bus.Publish(eventbus.Event{
		Type: eventbus.FeedFetched,
		Data: eventbus.FetchData{Items: len(items), Took: l.now().Sub(start)},
	})

	announced, failed := 0, 0
	for _, it := range items {
		if ctx.Err() != nil {
			return
		}
		if !l.announcer.ShouldAnnounce(it) {
			continue
		}
		if err := l.announcer.Announce(ctx, it); err != nil {
			failed++
			l.log.Warn("announce failed", logx.String("id", it.ID), logx.Err(err))
			continue
		}
		announced++
	}
	if announced > 0 || failed > 0 {
		l.log.Info("fetch cycle done",
			logx.Int("items", len(items)), logx.Int("announced", announced), logx.Int("failed", failed))
	}
}

func (l *Loop) livenessTick(ctx context.Context) {
	if l.session.ProbeAlive(ctx) {
		return
	}
	l.log.Error("liveness check failed")
	l.bus.Publish(eventbus.Event{Type: eventbus.LivenessFailed})
}
