// Package syncer drains the durable operation queues against the survey
// backend. A drain pass replays pending logins before pending surveys so a
// provisionally admitted user holds a real token by the time their surveys
// go out.
package syncer

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"skysurvey-agent/internal/apiclient"
	"skysurvey-agent/internal/auth"
	"skysurvey-agent/internal/gateway"
	"skysurvey-agent/internal/logger"
	"skysurvey-agent/internal/model"
	"skysurvey-agent/internal/netwatch"
	"skysurvey-agent/internal/store"
)

// Event is broadcast to subscribers as a drain pass progresses.
type Event struct {
	Type    string `json:"type"`
	Pending int    `json:"pending"`
	Synced  int    `json:"synced"`
	Failed  int    `json:"failed"`
	At      int64  `json:"at"`
}

const (
	EventSyncStarted   = "sync_started"
	EventSyncCompleted = "sync_completed"
	EventSyncSkipped   = "sync_skipped"
)

// Notifier receives sync lifecycle events, typically the websocket hub.
type Notifier interface {
	Publish(event Event)
}

type noopNotifier struct{}

func (noopNotifier) Publish(Event) {}

type Syncer struct {
	api    gateway.RemoteAPI
	store  *store.Store
	net    *netwatch.Tracker
	notify Notifier
	log    *zap.SugaredLogger
	now    func() time.Time

	// sem gates drain passes. A trigger that arrives while a pass is
	// running is dropped, not queued, because the running pass already
	// covers the queue state the trigger was meant to flush.
	sem *semaphore.Weighted

	interval time.Duration
	lastSync atomic.Int64
}

type Options struct {
	Interval time.Duration
	Notifier Notifier
	Now      func() time.Time
	Logger   *zap.SugaredLogger
}

func New(api gateway.RemoteAPI, st *store.Store, net *netwatch.Tracker, opts Options) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("syncer")
	}
	s := &Syncer{
		api:      api,
		store:    st,
		net:      net,
		notify:   opts.Notifier,
		log:      opts.Logger,
		now:      opts.Now,
		sem:      semaphore.NewWeighted(1),
		interval: opts.Interval,
	}
	net.OnTransition(func(online bool) {
		if online {
			s.Trigger(context.Background())
		}
	})
	return s
}

// Trigger starts a drain pass unless one is already running. It reports
// whether a pass actually ran.
func (s *Syncer) Trigger(ctx context.Context) bool {
	if !s.net.IsOnline() {
		return false
	}
	if !s.sem.TryAcquire(1) {
		s.log.Debug("sync already in progress, trigger dropped")
		s.notify.Publish(Event{Type: EventSyncSkipped, At: s.now().UnixMilli()})
		return false
	}
	defer s.sem.Release(1)

	s.drainOnce(ctx)
	return true
}

// InProgress reports whether a drain pass is currently running.
func (s *Syncer) InProgress() bool {
	if !s.sem.TryAcquire(1) {
		return true
	}
	s.sem.Release(1)
	return false
}

// Status snapshots the queue and connectivity state for the UI.
func (s *Syncer) Status() (model.SyncStatus, error) {
	pending, err := s.store.PendingCount()
	if err != nil {
		return model.SyncStatus{}, err
	}
	return model.SyncStatus{
		PendingCount:   pending,
		IsOnline:       s.net.IsOnline(),
		SyncInProgress: s.InProgress(),
		LastSync:       s.lastSync.Load(),
	}, nil
}

// Start runs the periodic drain loop until ctx is done. Passes are skipped
// while the app is backgrounded or offline.
func (s *Syncer) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.net.Foreground() && s.net.IsOnline() {
				s.Trigger(ctx)
			}
		}
	}
}

func (s *Syncer) drainOnce(ctx context.Context) {
	pending, err := s.store.PendingCount()
	if err != nil {
		s.log.Errorw("cannot read queue state", "error", err)
		return
	}
	s.notify.Publish(Event{Type: EventSyncStarted, Pending: pending, At: s.now().UnixMilli()})

	synced, failed := s.drainLogins(ctx)
	sSynced, sFailed := s.drainSurveys(ctx)
	synced += sSynced
	failed += sFailed

	finished := s.now().UnixMilli()
	s.lastSync.Store(finished)
	remaining, _ := s.store.PendingCount()
	s.notify.Publish(Event{
		Type:    EventSyncCompleted,
		Pending: remaining,
		Synced:  synced,
		Failed:  failed,
		At:      finished,
	})
	s.log.Infow("drain pass finished", "synced", synced, "failed", failed, "remaining", remaining)
}

// drainLogins replays queued logins oldest first. A definitive server
// rejection discards the entry and the cached credential for that account;
// any other failure ends the pass so ordering is preserved.
func (s *Syncer) drainLogins(ctx context.Context) (synced, failed int) {
	entries, err := s.store.ListPending(model.KindLogin)
	if err != nil {
		s.log.Errorw("cannot list pending logins", "error", err)
		return 0, 0
	}
	for _, entry := range entries {
		var payload model.LoginPayload
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			s.log.Warnw("dropping unreadable login entry", "id", entry.ID, "error", err)
			_ = s.store.Remove(model.KindLogin, entry.ID)
			failed++
			continue
		}

		resp, err := s.api.Login(ctx, payload.Email, payload.Password)
		switch {
		case err == nil:
			session := model.Session{
				User:      resp.User,
				Token:     resp.Token,
				Confirmed: true,
				CreatedAt: s.now().UnixMilli(),
			}
			if err := s.store.SaveSession(session); err != nil {
				s.log.Errorw("cannot persist replayed session", "error", err)
				return synced, failed
			}
			cred := model.Credential{Email: payload.Email, Password: payload.Password, User: resp.User}
			if err := s.store.UpsertCredential(cred); err != nil {
				s.log.Errorw("cannot cache replayed credential", "error", err)
			}
			if err := s.store.Remove(model.KindLogin, entry.ID); err != nil {
				s.log.Errorw("cannot remove replayed login", "id", entry.ID, "error", err)
				return synced, failed
			}
			synced++
		case apiclient.IsAuthRejected(err):
			// The credentials are definitively wrong. Keeping them cached
			// would let the user keep logging in offline with a password
			// the server already refused.
			s.log.Infow("queued login rejected, purging", "email", payload.Email)
			_ = s.store.Remove(model.KindLogin, entry.ID)
			_ = s.store.PurgeCredential(payload.Email)
			failed++
		default:
			s.log.Infow("login replay failed, stopping pass", "id", entry.ID, "error", err)
			return synced, failed
		}
	}
	return synced, failed
}

// drainSurveys replays queued surveys with the current confirmed token.
// The whole pass is skipped while the session token is a local placeholder;
// a placeholder must never reach the server.
func (s *Syncer) drainSurveys(ctx context.Context) (synced, failed int) {
	session, err := s.store.LoadSession()
	if err != nil {
		s.log.Errorw("cannot load session", "error", err)
		return 0, 0
	}
	if session == nil || session.Placeholder() {
		s.log.Debug("no confirmed session, survey replay skipped")
		return 0, 0
	}
	// A token already past its expiry would 401 on every entry; skip the
	// pass outright instead of burning a round trip to learn it.
	if claims, err := auth.Inspect(session.Token); err == nil && auth.Expired(claims, s.now()) {
		s.log.Info("session token expired, survey replay skipped")
		return 0, 0
	}

	entries, err := s.store.ListPending(model.KindSurvey)
	if err != nil {
		s.log.Errorw("cannot list pending surveys", "error", err)
		return 0, 0
	}
	for _, entry := range entries {
		var queued model.QueuedSurvey
		if err := json.Unmarshal(entry.Payload, &queued); err != nil {
			s.log.Warnw("dropping unreadable survey entry", "id", entry.ID, "error", err)
			_ = s.store.Remove(model.KindSurvey, entry.ID)
			failed++
			continue
		}

		_, err := s.api.SubmitSurvey(ctx, session.Token, queued.SurveyPayload, entry.ID, entry.DeviceID)
		switch {
		case err == nil:
			if err := s.store.Remove(model.KindSurvey, entry.ID); err != nil {
				s.log.Errorw("cannot remove replayed survey", "id", entry.ID, "error", err)
				return synced, failed
			}
			if err := s.store.RemoveLocalSubmissionByCapture(queued.CaptureTimestamp); err != nil {
				s.log.Warnw("cannot reconcile local submission", "capture", queued.CaptureTimestamp, "error", err)
			}
			synced++
		case apiclient.IsAuthExpired(err):
			// The token just went stale; every later entry would fail the
			// same way, so the pass ends and waits for a fresh login.
			s.log.Infow("token expired during replay, stopping pass")
			return synced, failed
		default:
			s.log.Infow("survey replay failed, leaving queued", "id", entry.ID, "error", err)
			failed++
		}
	}
	return synced, failed
}
