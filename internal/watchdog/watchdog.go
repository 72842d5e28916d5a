// Package watchdog enforces the session validity window for extended
// offline use. A user may keep working offline for a bounded period; past
// it they are warned, given a short grace window to regain connectivity,
// and then logged out with all local state cleared.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"skysurvey-agent/internal/logger"
	"skysurvey-agent/internal/netwatch"
	"skysurvey-agent/internal/store"
)

const (
	StateNormal    = "normal"
	StateWarned    = "warned"
	StateLoggedOut = "logged_out"

	eventWarn    = "warn"
	eventRecover = "recover"
	eventExpire  = "expire"
	eventReset   = "reset"
)

// Event is broadcast when the watchdog changes state.
type Event struct {
	Type      string `json:"type"`
	GraceMS   int64  `json:"graceMs,omitempty"`
	OfflineMS int64  `json:"offlineMs,omitempty"`
	At        int64  `json:"at"`
}

const (
	EventOfflineWarning = "offline_warning"
	EventForcedLogout   = "forced_logout"
	EventWarningCleared = "warning_cleared"
)

// Notifier receives watchdog events, typically the websocket hub.
type Notifier interface {
	PublishWatchdog(event Event)
}

type noopNotifier struct{}

func (noopNotifier) PublishWatchdog(Event) {}

// SessionClearer wipes local session state on forced logout. Device
// identity survives the wipe.
type SessionClearer interface {
	Logout() error
}

type Watchdog struct {
	tracker *netwatch.Tracker
	store   *store.Store
	clearer SessionClearer
	notify  Notifier
	log     *zap.SugaredLogger
	now     func() time.Time

	warnThreshold time.Duration
	graceWindow   time.Duration
	checkInterval time.Duration

	mu      sync.Mutex
	machine *fsm.FSM
	grace   *time.Timer
}

type Options struct {
	WarnThreshold time.Duration
	GraceWindow   time.Duration
	CheckInterval time.Duration
	Notifier      Notifier
	Now           func() time.Time
	Logger        *zap.SugaredLogger
}

func New(tracker *netwatch.Tracker, st *store.Store, clearer SessionClearer, opts Options) *Watchdog {
	if opts.WarnThreshold <= 0 {
		opts.WarnThreshold = 15 * time.Minute
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = 2 * time.Minute
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 30 * time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("watchdog")
	}

	w := &Watchdog{
		tracker:       tracker,
		store:         st,
		clearer:       clearer,
		notify:        opts.Notifier,
		log:           opts.Logger,
		now:           opts.Now,
		warnThreshold: opts.WarnThreshold,
		graceWindow:   opts.GraceWindow,
		checkInterval: opts.CheckInterval,
	}

	w.machine = fsm.NewFSM(
		StateNormal,
		fsm.Events{
			{Name: eventWarn, Src: []string{StateNormal}, Dst: StateWarned},
			{Name: eventRecover, Src: []string{StateWarned}, Dst: StateNormal},
			{Name: eventExpire, Src: []string{StateWarned}, Dst: StateLoggedOut},
			{Name: eventReset, Src: []string{StateLoggedOut}, Dst: StateNormal},
		},
		fsm.Callbacks{
			"enter_" + StateWarned: func(_ context.Context, e *fsm.Event) {
				w.log.Warnw("offline too long, session expires soon",
					"grace", w.graceWindow)
			},
			"enter_" + StateLoggedOut: func(_ context.Context, e *fsm.Event) {
				w.log.Warnw("grace window elapsed offline, forcing logout")
			},
		},
	)

	// A confirmed reconnect clears the warning before the grace timer can
	// run out.
	tracker.OnTransition(func(online bool) {
		if online {
			w.recover(context.Background())
		}
	})
	return w
}

func (w *Watchdog) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.machine.Current()
}

// Evaluate compares the current outage against the warning threshold and
// advances the machine. It is a no-op while the app is backgrounded; only
// active offline use counts against the session.
func (w *Watchdog) Evaluate(ctx context.Context) {
	if !w.tracker.Foreground() {
		return
	}
	if w.tracker.IsOnline() {
		w.recover(ctx)
		return
	}

	outage := w.outage()
	if outage < w.warnThreshold {
		return
	}

	w.mu.Lock()
	if err := w.machine.Event(ctx, eventWarn); err != nil {
		w.mu.Unlock()
		return
	}
	w.grace = time.AfterFunc(w.graceWindow, w.onGraceExpired)
	w.mu.Unlock()

	w.notify.PublishWatchdog(Event{
		Type:      EventOfflineWarning,
		GraceMS:   w.graceWindow.Milliseconds(),
		OfflineMS: outage.Milliseconds(),
		At:        w.now().UnixMilli(),
	})
}

// outage is the time since connectivity was last confirmed. The persisted
// mark covers process restart and long background periods; the in-memory
// outage covers everything else.
func (w *Watchdog) outage() time.Duration {
	outage := w.tracker.OutageDuration()
	if last, ok, err := w.store.LastOnline(); err == nil && ok {
		persisted := w.now().Sub(time.UnixMilli(last))
		if persisted > outage {
			outage = persisted
		}
	}
	return outage
}

// onGraceExpired fires when the grace timer runs out. Connectivity is
// probed one last time so a quietly restored network never costs the user
// their session.
func (w *Watchdog) onGraceExpired() {
	ctx := context.Background()
	if w.tracker.CheckNow(ctx) {
		w.recover(ctx)
		return
	}

	w.mu.Lock()
	if err := w.machine.Event(ctx, eventExpire); err != nil {
		w.mu.Unlock()
		return
	}
	w.grace = nil
	w.mu.Unlock()

	if err := w.clearer.Logout(); err != nil {
		w.log.Errorw("forced logout wipe failed", "error", err)
	}
	w.notify.PublishWatchdog(Event{Type: EventForcedLogout, At: w.now().UnixMilli()})
}

func (w *Watchdog) recover(ctx context.Context) {
	w.mu.Lock()
	if w.grace != nil {
		w.grace.Stop()
		w.grace = nil
	}
	recovered := w.machine.Event(ctx, eventRecover) == nil
	// A fresh login after a forced logout starts a clean cycle.
	_ = w.machine.Event(ctx, eventReset)
	w.mu.Unlock()

	if recovered {
		w.notify.PublishWatchdog(Event{Type: EventWarningCleared, At: w.now().UnixMilli()})
	}
}

// OnResume handles a foreground resume: re-probe, then evaluate against
// the persisted last-online mark so time spent backgrounded offline is
// counted.
func (w *Watchdog) OnResume(ctx context.Context) {
	w.tracker.Resume(ctx)
	w.Evaluate(ctx)
}

// Start runs the periodic evaluation loop until ctx is done.
func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Evaluate(ctx)
		}
	}
}
