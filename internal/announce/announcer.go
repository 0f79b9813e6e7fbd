// Package announce decides which feed items are new and posts them to the channel.
//
// An item is committed to the seen store only after the send was followed by a
// successful liveness probe. A failed probe leaves the item unseen, so it may be
// announced again on the next cycle.
package announce

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"relaybot/internal/eventbus"
	"relaybot/internal/feed"
	"relaybot/internal/seen"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// ErrNotConfirmed means the line was written but the connection failed the
// follow-up probe; the item was not recorded as announced.
var ErrNotConfirmed = errors.New("announce: not confirmed")

type Config struct {
	Channel string
	// SendRatePerSec caps outgoing announce lines. Zero disables the limit.
	SendRatePerSec float64
	SendBurst      int
}

type Announcer struct {
	cfg     Config
	store   *seen.Store
	out     transport.Messenger
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, store *seen.Store, out transport.Messenger, bus eventbus.Bus, log logx.Logger) *Announcer {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), max(1, cfg.SendBurst))
	}
	return &Announcer{cfg: cfg, store: store, out: out, bus: bus, log: log, limiter: lim}
}

// ShouldAnnounce reports whether item has not been announced with its current
// freshness marker. When it returns true any stale record for the same ID has
// been dropped from memory; nothing is persisted until Announce commits.
func (a *Announcer) ShouldAnnounce(it feed.Item) bool {
	if a.store.ContainsExact(it.ID, it.Attributes.BumpedAt) {
		a.log.Debug("already announced, skipping", logx.String("id", it.ID))
		return false
	}
	a.store.Forget(it.ID)
	return true
}

// Announce sends the formatted item and commits it once the connection is
// confirmed alive. Persist failures are logged; the item stays seen in memory.
func (a *Announcer) Announce(ctx context.Context, it feed.Item) error {
	line := Format(it)

	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	a.log.Info("announcing", logx.String("id", it.ID), logx.String("line", line))
	if err := a.out.Send(ctx, a.cfg.Channel, line); err != nil {
		a.failed(it, err)
		return fmt.Errorf("send item %s: %w", it.ID, err)
	}

	if !a.out.ProbeAlive(ctx) {
		a.log.Warn("announce not confirmed, item stays unseen",
			logx.String("id", it.ID), logx.String("channel", a.cfg.Channel))
		a.failed(it, ErrNotConfirmed)
		return ErrNotConfirmed
	}

	if err := a.store.Upsert(ctx, it.ID, it.Attributes.BumpedAt); err != nil {
		a.log.Error("failed to persist seen items", logx.String("id", it.ID), logx.Err(err))
	}
	a.log.Debug("announce confirmed", logx.String("id", it.ID))
	a.bus.Publish(eventbus.Event{
		Type: eventbus.ItemAnnounced,
		Data: eventbus.ItemData{ID: it.ID, BumpedAt: it.Attributes.BumpedAt},
	})
	return nil
}

func (a *Announcer) failed(it feed.Item, err error) {
	a.bus.Publish(eventbus.Event{
		Type: eventbus.ItemFailed,
		Data: eventbus.ItemData{ID: it.ID, BumpedAt: it.Attributes.BumpedAt, Err: err.Error()},
	})
}
