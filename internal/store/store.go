// Package store implements the durable queue store: pending operations,
// the local session, the offline credential cache, cached local submissions
// and the device identity, all persisted through a small KV contract.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"skysurvey-agent/internal/model"
)

// ErrStorage marks a fault in the on-device persistence layer. It is the one
// error class the offline subsystem does not paper over.
var ErrStorage = errors.New("storage failure")

const (
	keyPendingLogins    = "pending_logins"
	keyPendingSurveys   = "pending_surveys"
	keySession          = "user_session"
	keyOfflineUsers     = "offline_users"
	keyLocalSubmissions = "local_submissions"
	keyDeviceID         = "device_id"
	keyLastOnline       = "last_online_time"
)

func pendingKey(kind model.OperationKind) string {
	if kind == model.KindLogin {
		return keyPendingLogins
	}
	return keyPendingSurveys
}

// Store owns the on-disk representation of every offline entity. All
// mutations are whole-list read-modify-write cycles under one mutex, so the
// KV write is the sole serialization point.
type Store struct {
	mu  sync.Mutex
	kv  KV
	now func() time.Time
}

type Options struct {
	Now func() time.Time
}

func New(kv KV) *Store {
	return NewWithOptions(kv, Options{})
}

func NewWithOptions(kv KV, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{kv: kv, now: now}
}

func (s *Store) Close() error { return s.kv.Close() }

func (s *Store) readList(key string, dst interface{}) error {
	data, ok, err := s.kv.Get(key)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrStorage, key, err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrStorage, key, err)
	}
	return nil
}

func (s *Store) writeList(key string, src interface{}) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorage, key, err)
	}
	if err := s.kv.Set(key, data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorage, key, err)
	}
	return nil
}

// Enqueue appends a pending operation for the kind and returns the stored
// record. IDs sort roughly by creation instant; the random suffix avoids
// collisions between entries created in the same millisecond.
func (s *Store) Enqueue(kind model.OperationKind, payload json.RawMessage, deviceID string) (model.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey(kind)
	var entries []model.PendingOperation
	if err := s.readList(key, &entries); err != nil {
		return model.PendingOperation{}, err
	}

	now := s.now()
	op := model.PendingOperation{
		ID:        fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
		Kind:      kind,
		Payload:   payload,
		DeviceID:  deviceID,
		CreatedAt: now.UnixMilli(),
		Synced:    false,
	}
	entries = append(entries, op)

	if err := s.writeList(key, entries); err != nil {
		return model.PendingOperation{}, err
	}
	return op, nil
}

// ListPending returns all entries for a kind in insertion order; insertion
// order is the replay order.
func (s *Store) ListPending(kind model.OperationKind) ([]model.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []model.PendingOperation
	if err := s.readList(pendingKey(kind), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Remove deletes an entry by id. Removing a missing id is a no-op.
func (s *Store) Remove(kind model.OperationKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey(kind)
	var entries []model.PendingOperation
	if err := s.readList(key, &entries); err != nil {
		return err
	}

	filtered := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == len(entries) {
		return nil
	}
	return s.writeList(key, filtered)
}

// PendingCount returns the total number of queued operations across kinds.
func (s *Store) PendingCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, key := range []string{keyPendingLogins, keyPendingSurveys} {
		var entries []model.PendingOperation
		if err := s.readList(key, &entries); err != nil {
			return 0, err
		}
		total += len(entries)
	}
	return total, nil
}

func (s *Store) SaveSession(session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeList(keySession, session)
}

// LoadSession returns the stored session, or nil when absent.
func (s *Store) LoadSession() (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.kv.Get(keySession)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorage, keySession, err)
	}
	if !ok {
		return nil, nil
	}
	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStorage, keySession, err)
	}
	return &session, nil
}

func (s *Store) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(keySession); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, keySession, err)
	}
	return nil
}

// UpsertCredential inserts or replaces the credential cache entry for the
// email. The cached password is what makes later fully-offline logins
// possible.
func (s *Store) UpsertCredential(cred model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var creds []model.Credential
	if err := s.readList(keyOfflineUsers, &creds); err != nil {
		return err
	}

	replaced := false
	for i := range creds {
		if creds[i].Email == cred.Email {
			creds[i] = cred
			replaced = true
			break
		}
	}
	if !replaced {
		creds = append(creds, cred)
	}
	return s.writeList(keyOfflineUsers, creds)
}

func (s *Store) LookupCredential(email string) (model.Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var creds []model.Credential
	if err := s.readList(keyOfflineUsers, &creds); err != nil {
		return model.Credential{}, false, err
	}
	for _, c := range creds {
		if c.Email == email {
			return c, true, nil
		}
	}
	return model.Credential{}, false, nil
}

// PurgeCredential removes a cache entry the server has refuted.
func (s *Store) PurgeCredential(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var creds []model.Credential
	if err := s.readList(keyOfflineUsers, &creds); err != nil {
		return err
	}
	filtered := creds[:0]
	for _, c := range creds {
		if c.Email != email {
			filtered = append(filtered, c)
		}
	}
	return s.writeList(keyOfflineUsers, filtered)
}

func (s *Store) CanLoginOffline(email string) (bool, error) {
	_, ok, err := s.LookupCredential(email)
	return ok, err
}

func (s *Store) AppendLocalSubmission(sub model.LocalSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subs []model.LocalSubmission
	if err := s.readList(keyLocalSubmissions, &subs); err != nil {
		return err
	}
	subs = append(subs, sub)
	return s.writeList(keyLocalSubmissions, subs)
}

func (s *Store) ListLocalSubmissions() ([]model.LocalSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subs []model.LocalSubmission
	if err := s.readList(keyLocalSubmissions, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// RemoveLocalSubmissionByCapture drops the display-cache entry matching the
// capture timestamp of a survey that has just synced; the server record
// supersedes it on the next list fetch.
func (s *Store) RemoveLocalSubmissionByCapture(captureTimestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subs []model.LocalSubmission
	if err := s.readList(keyLocalSubmissions, &subs); err != nil {
		return err
	}
	filtered := subs[:0]
	for _, sub := range subs {
		if sub.CaptureTimestamp != captureTimestamp {
			filtered = append(filtered, sub)
		}
	}
	return s.writeList(keyLocalSubmissions, filtered)
}

func (s *Store) DeviceID() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.kv.Get(keyDeviceID)
	if err != nil {
		return "", false, fmt.Errorf("%w: read %s: %v", ErrStorage, keyDeviceID, err)
	}
	return string(data), ok, nil
}

func (s *Store) SetDeviceID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(keyDeviceID, []byte(id)); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorage, keyDeviceID, err)
	}
	return nil
}

func (s *Store) LastOnline() (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.kv.Get(keyLastOnline)
	if err != nil {
		return 0, false, fmt.Errorf("%w: read %s: %v", ErrStorage, keyLastOnline, err)
	}
	if !ok {
		return 0, false, nil
	}
	var ts int64
	if err := json.Unmarshal(data, &ts); err != nil {
		return 0, false, fmt.Errorf("%w: decode %s: %v", ErrStorage, keyLastOnline, err)
	}
	return ts, true, nil
}

func (s *Store) SetLastOnline(ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeList(keyLastOnline, ts)
}

// ClearAll erases every offline entity except the device identity, which
// must survive a logout so duplicate-registration blocking stays effective.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{
		keyPendingLogins,
		keyPendingSurveys,
		keySession,
		keyOfflineUsers,
		keyLocalSubmissions,
		keyLastOnline,
	} {
		if err := s.kv.Delete(key); err != nil {
			return fmt.Errorf("%w: delete %s: %v", ErrStorage, key, err)
		}
	}
	return nil
}
