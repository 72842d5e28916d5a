package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skysurvey-agent/internal/apiclient"
	"skysurvey-agent/internal/netwatch"
	"skysurvey-agent/internal/store"
)

type toggleProber struct {
	mu     sync.Mutex
	online bool
}

func (p *toggleProber) Probe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online {
		return nil
	}
	return apiclient.ErrTransport
}

func (p *toggleProber) set(online bool) {
	p.mu.Lock()
	p.online = online
	p.mu.Unlock()
}

type fakeClearer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeClearer) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeClearer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) PublishWatchdog(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordingNotifier) has(eventType string) bool {
	for _, tp := range r.types() {
		if tp == eventType {
			return true
		}
	}
	return false
}

type fixture struct {
	watchdog *Watchdog
	tracker  *netwatch.Tracker
	prober   *toggleProber
	clearer  *fakeClearer
	notifier *recordingNotifier
	clock    *time.Time
	mu       sync.Mutex
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	*f.clock = f.clock.Add(d)
	f.mu.Unlock()
}

func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.clock
}

func newFixture(t *testing.T, grace time.Duration) *fixture {
	t.Helper()
	clock := time.UnixMilli(1700000000000)
	f := &fixture{
		prober:   &toggleProber{online: true},
		clearer:  &fakeClearer{},
		notifier: &recordingNotifier{},
		clock:    &clock,
	}
	st := store.NewWithOptions(store.NewMemKV(), store.Options{Now: f.now})
	f.tracker = netwatch.New(f.prober, st, netwatch.Options{
		RetryInterval: time.Millisecond,
		Now:           f.now,
		Logger:        zap.NewNop().Sugar(),
	})
	f.watchdog = New(f.tracker, st, f.clearer, Options{
		WarnThreshold: 15 * time.Minute,
		GraceWindow:   grace,
		Notifier:      f.notifier,
		Now:           f.now,
		Logger:        zap.NewNop().Sugar(),
	})
	return f
}

func (f *fixture) goOffline(ctx context.Context) {
	f.prober.set(false)
	f.tracker.CheckNow(ctx)
}

func TestNoWarningBelowThreshold(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.goOffline(ctx)

	f.advance(14 * time.Minute)
	f.watchdog.Evaluate(ctx)

	assert.Equal(t, StateNormal, f.watchdog.State())
	assert.Empty(t, f.notifier.types())
}

func TestWarningAfterThreshold(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.goOffline(ctx)

	f.advance(16 * time.Minute)
	f.watchdog.Evaluate(ctx)

	assert.Equal(t, StateWarned, f.watchdog.State())
	require.True(t, f.notifier.has(EventOfflineWarning))
	assert.Equal(t, 0, f.clearer.count(), "warning alone must not log out")
}

func TestBackgroundedAppIsNotWarned(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.goOffline(ctx)
	f.tracker.Background()

	f.advance(20 * time.Minute)
	f.watchdog.Evaluate(ctx)

	assert.Equal(t, StateNormal, f.watchdog.State())
}

func TestGraceExpiryLogsOutWhenStillOffline(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	ctx := context.Background()
	f.goOffline(ctx)

	f.advance(16 * time.Minute)
	f.watchdog.Evaluate(ctx)
	require.Equal(t, StateWarned, f.watchdog.State())

	require.Eventually(t, func() bool {
		return f.watchdog.State() == StateLoggedOut
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.clearer.count())
	assert.True(t, f.notifier.has(EventForcedLogout))
}

func TestGraceExpiryReprobesBeforeLoggingOut(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	ctx := context.Background()
	f.goOffline(ctx)

	f.advance(16 * time.Minute)
	f.watchdog.Evaluate(ctx)
	require.Equal(t, StateWarned, f.watchdog.State())

	// The network comes back quietly before the grace timer fires.
	f.prober.set(true)

	require.Eventually(t, func() bool {
		return f.watchdog.State() == StateNormal
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.clearer.count(), "a reachable network at expiry must not cost the session")
	assert.True(t, f.notifier.has(EventWarningCleared))
	assert.False(t, f.notifier.has(EventForcedLogout))
}

func TestReconnectDuringGraceCancelsLogout(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()
	f.goOffline(ctx)

	f.advance(16 * time.Minute)
	f.watchdog.Evaluate(ctx)
	require.Equal(t, StateWarned, f.watchdog.State())

	f.prober.set(true)
	f.tracker.CheckNow(ctx)

	assert.Equal(t, StateNormal, f.watchdog.State())
	assert.True(t, f.notifier.has(EventWarningCleared))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateNormal, f.watchdog.State())
	assert.Equal(t, 0, f.clearer.count())
}

func TestResumeCountsBackgroundedOfflineTime(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.goOffline(ctx)
	f.tracker.Background()

	f.advance(20 * time.Minute)
	f.watchdog.OnResume(ctx)

	assert.Equal(t, StateWarned, f.watchdog.State())
	assert.True(t, f.notifier.has(EventOfflineWarning))
}

func TestOnlineResumeClearsNothing(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	f.advance(20 * time.Minute)
	f.watchdog.OnResume(ctx)

	assert.Equal(t, StateNormal, f.watchdog.State())
	assert.Equal(t, 0, f.clearer.count())
}
