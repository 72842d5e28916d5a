// Package netwatch maintains the agent's online/offline belief and notifies
// the sync engine and the forced-logout watchdog on transitions.
package netwatch

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"skysurvey-agent/internal/logger"
	"skysurvey-agent/internal/store"
)

const (
	StateOnline  = "online"
	StateOffline = "offline"

	eventGoOnline  = "go_online"
	eventGoOffline = "go_offline"
)

// Prober answers whether the remote API is reachable right now.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to the Prober interface.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// Listener is notified after every state transition with the new belief.
type Listener func(online bool)

type Options struct {
	// ProbeInterval is the passive poll cadence; zero disables the loop
	// (tests drive CheckNow directly).
	ProbeInterval time.Duration

	// RetryInterval and MaxRetries shape the per-check backoff so a single
	// dropped probe does not flap the state.
	RetryInterval time.Duration
	MaxRetries    uint64

	Now    func() time.Time
	Logger *zap.SugaredLogger
}

// Tracker is the connectivity state machine. A single instance is composed
// at startup and shared by reference; there is no ambient singleton.
type Tracker struct {
	prober Prober
	store  *store.Store
	opts   Options
	log    *zap.SugaredLogger

	mu          sync.Mutex
	machine     *fsm.FSM
	outageStart time.Time
	foreground  bool
	listeners   []Listener
}

func New(prober Prober, st *store.Store, opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 2
	}
	log := opts.Logger
	if log == nil {
		log = logger.For("netwatch")
	}

	t := &Tracker{
		prober:     prober,
		store:      st,
		opts:       opts,
		log:        log,
		foreground: true,
	}

	t.machine = fsm.NewFSM(
		StateOnline,
		fsm.Events{
			{Name: eventGoOffline, Src: []string{StateOnline}, Dst: StateOffline},
			{Name: eventGoOnline, Src: []string{StateOffline}, Dst: StateOnline},
		},
		fsm.Callbacks{
			"enter_" + StateOffline: func(_ context.Context, e *fsm.Event) {
				t.outageStart = t.opts.Now()
				t.log.Warnw("went offline", "at", t.outageStart)
			},
			"enter_" + StateOnline: func(_ context.Context, e *fsm.Event) {
				t.outageStart = time.Time{}
				now := t.opts.Now().UnixMilli()
				if t.store != nil {
					if err := t.store.SetLastOnline(now); err != nil {
						t.log.Errorw("persist last-online", "error", err)
					}
				}
				t.log.Infow("back online")
			},
		},
	)

	return t
}

// OnTransition registers a listener. Registration happens during composition,
// before Start; listeners are called in registration order.
func (t *Tracker) OnTransition(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *Tracker) IsOnline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.Current() == StateOnline
}

// OutageDuration is how long the current outage has lasted; zero when
// online.
func (t *Tracker) OutageDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.machine.Current() == StateOnline || t.outageStart.IsZero() {
		return 0
	}
	return t.opts.Now().Sub(t.outageStart)
}

func (t *Tracker) Foreground() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.foreground
}

// Background records that the UI moved to the background. Periodic probing
// continues, but foreground-gated consumers skip their work.
func (t *Tracker) Background() {
	t.mu.Lock()
	t.foreground = false
	t.mu.Unlock()
}

// Resume records a foreground-resume event and re-probes immediately;
// passive network events are not guaranteed to fire while backgrounded.
func (t *Tracker) Resume(ctx context.Context) bool {
	t.mu.Lock()
	t.foreground = true
	t.mu.Unlock()
	return t.CheckNow(ctx)
}

// CheckNow probes reachability and applies the resulting transition. It
// returns the new belief.
func (t *Tracker) CheckNow(ctx context.Context) bool {
	online := t.probe(ctx)
	t.apply(ctx, online)
	return online
}

func (t *Tracker) probe(ctx context.Context) bool {
	op := func() error { return t.prober.Probe(ctx) }
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(t.opts.RetryInterval), t.opts.MaxRetries),
		ctx,
	)
	return backoff.Retry(op, policy) == nil
}

// apply moves the machine if the belief changed and notifies listeners. The
// listener snapshot is taken under the lock but invoked outside it, so a
// listener may call back into the tracker.
func (t *Tracker) apply(ctx context.Context, online bool) {
	t.mu.Lock()
	event := eventGoOffline
	if online {
		event = eventGoOnline
	}
	err := t.machine.Event(ctx, event)
	if err != nil {
		// Already in the target state; nothing to notify, but a confirmed
		// check still refreshes the last-online mark so offline gaps are
		// measured from the most recent success, not the last transition.
		if online && t.store != nil {
			if serr := t.store.SetLastOnline(t.opts.Now().UnixMilli()); serr != nil {
				t.log.Errorw("persist last-online", "error", serr)
			}
		}
		t.mu.Unlock()
		return
	}
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, l := range listeners {
		l(online)
	}
}

// Start runs the initial reachability check and then the periodic probe
// loop until ctx is cancelled. Call it on its own goroutine.
func (t *Tracker) Start(ctx context.Context) {
	t.CheckNow(ctx)
	if t.opts.ProbeInterval <= 0 {
		return
	}

	ticker := time.NewTicker(t.opts.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckNow(ctx)
		}
	}
}
