package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrSigel/pulseframelabs/backend/store"
	"github.com/MrSigel/pulseframelabs/backend/telemetry"
)

// RefreshFunc refreshes and persists one owner's token.
type RefreshFunc func(ctx context.Context, ownerID string) error

// Refresher periodically refreshes every stored token whose expiry falls
// within Window.
type Refresher struct {
	Conns    store.Connections
	Refresh  RefreshFunc
	Interval time.Duration
	Window   time.Duration
	Clock    clockwork.Clock
}

// StartRefresher launches a Refresher on the real clock.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, conns store.Connections, interval, window time.Duration, fn RefreshFunc) {
	r := &Refresher{Conns: conns, Refresh: fn, Interval: interval, Window: window}
	go r.Run(ctx)
}

func (r *Refresher) defaults() {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
	if r.Clock == nil {
		r.Clock = clockwork.NewRealClock()
	}
}

// Run blocks until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	r.defaults()
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(r.Interval/2) + 1))
	select {
	case <-ctx.Done():
		return
	case <-r.Clock.After(initialJitter):
	}
	for {
		r.RunOnce(ctx)

		// ±20% of interval
		jitterRange := int64(r.Interval / 5)
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
		nextSleep := r.Interval + jitter
		if nextSleep < r.Interval/2 {
			nextSleep = r.Interval / 2
		}
		select {
		case <-ctx.Done():
			return
		case <-r.Clock.After(nextSleep):
		}
	}
}

// RunOnce refreshes every token expiring within the window and returns how many succeeded.
func (r *Refresher) RunOnce(ctx context.Context) int {
	r.defaults()
	log := slog.Default().With(slog.String("component", "oauth_refresher"))
	due, err := r.Conns.ListExpiring(ctx, r.Clock.Now().Add(r.Window))
	if err != nil {
		log.Warn("list expiring tokens failed", slog.Any("err", err))
		return 0
	}
	ok := 0
	for _, c := range due {
		if ctx.Err() != nil {
			return ok
		}
		err := r.Refresh(ctx, c.OwnerID)
		telemetry.ObserveRefresh(err)
		if err != nil {
			log.Warn("token refresh failed", slog.String("owner", c.OwnerID), slog.Any("err", err))
			continue
		}
		ok++
	}
	return ok
}
