// Package heartbeat periodically advertises this door's liveness to
// the remote store (spec.md §4.8): status, last-seen time, local IP,
// and the current lock state. A heartbeat failure is logged and
// counted but never touches the decision path.
package heartbeat

import (
	"context"
	"time"

	"github.com/pidoors/accessd/internal/remotestore"
)

// DefaultInterval is HEARTBEAT_INTERVAL from spec.md §4.8.
const DefaultInterval = 60 * time.Second

// LiveTimeout bounds a normal heartbeat update.
const LiveTimeout = 5 * time.Second

// ShutdownTimeout bounds the final offline notification, shorter than
// a live heartbeat since the process is already on its way out.
const ShutdownTimeout = 3 * time.Second

// RemoteStore is the subset of *remotestore.Store Heartbeat needs.
type RemoteStore interface {
	UpdateDoorStatus(ctx context.Context, zone, status string, lastSeen time.Time, ip string, locked bool) error
}

// StateSink receives reachability updates; satisfied by
// *sharedstate.State.
type StateSink interface {
	MarkReachable()
	MarkUnreachable(now time.Time)
	CacheAge(now time.Time) time.Duration
}

// MetricsSink receives heartbeat outcome counters and the cache-age
// gauge; the heartbeat's own ticker is a convenient place to refresh
// it since it already wakes on a steady interval.
type MetricsSink interface {
	RecordHeartbeat(ok bool)
	SetCacheAge(seconds float64)
}

// Logger is the minimal reporting surface Heartbeat needs.
type Logger interface {
	Warnf(format string, args ...any)
}

// DoorStatus reports what the current door state is, read fresh on
// every beat so the persistent-unlock toggle is reflected promptly.
type DoorStatus interface {
	IsPersistentUnlocked() bool
}

// Heartbeat owns the periodic liveness-update loop.
type Heartbeat struct {
	remote   RemoteStore
	state    StateSink
	metrics  MetricsSink
	logger   Logger
	door     DoorStatus
	zone     string
	localIP  func() (string, error)
	interval time.Duration
}

// New returns a Heartbeat for one zone. localIP is injected so tests
// don't need a live network interface.
func New(remote RemoteStore, state StateSink, metrics MetricsSink, logger Logger, door DoorStatus, zone string, localIP func() (string, error)) *Heartbeat {
	return &Heartbeat{
		remote:   remote,
		state:    state,
		metrics:  metrics,
		logger:   logger,
		door:     door,
		zone:     zone,
		localIP:  localIP,
		interval: DefaultInterval,
	}
}

// Run blocks until ctx is cancelled, beating on Heartbeat's interval
// and sending one final offline update on the way out.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.beat(ctx, "online")

	for {
		select {
		case <-ctx.Done():
			h.sendOffline()
			return
		case <-ticker.C:
			h.beat(ctx, "online")
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context, status string) {
	ip, err := h.localIP()
	if err != nil {
		ip = ""
	}

	now := time.Now()
	h.metrics.SetCacheAge(h.state.CacheAge(now).Seconds())

	bctx, cancel := context.WithTimeout(ctx, LiveTimeout)
	defer cancel()

	locked := !h.door.IsPersistentUnlocked()
	if err := h.remote.UpdateDoorStatus(bctx, h.zone, status, time.Now(), ip, locked); err != nil {
		h.state.MarkUnreachable(time.Now())
		h.metrics.RecordHeartbeat(false)
		h.logger.Warnf("heartbeat: update failed: %v", err)
		return
	}
	h.state.MarkReachable()
	h.metrics.RecordHeartbeat(true)
}

// sendOffline is the clean-shutdown final update; failure is swallowed
// entirely per spec.md §4.8, not even logged as a warning since the
// process is already exiting.
func (h *Heartbeat) sendOffline() {
	ip, _ := h.localIP()
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	locked := !h.door.IsPersistentUnlocked()
	_ = h.remote.UpdateDoorStatus(ctx, h.zone, "offline", time.Now(), ip, locked)
}
