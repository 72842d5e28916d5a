package store

import (
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// KV is the on-device key-value contract the queue store runs on. The
// physical engine is replaceable; the store only needs get/set/delete/clear.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Clear() error
	Close() error
}

// BadgerConfig holds configuration for the badger-backed KV.
type BadgerConfig struct {
	// Path is the directory for the database files.
	Path string

	// InMemory opens badger without disk persistence. Test use only.
	InMemory bool

	// SyncWrites forces every write to disk before it is acknowledged, so a
	// process kill right after an enqueue cannot lose the entry.
	SyncWrites bool

	Logger *zap.SugaredLogger
}

// DefaultBadgerConfig returns the production configuration: durable
// synchronous writes at the given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts zap to badger's Logger interface.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// BadgerKV is the durable KV used in production.
type BadgerKV struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerKV, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger: path is required for persistent databases")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *BadgerKV) Set(key string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (b *BadgerKV) Delete(key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *BadgerKV) Clear() error {
	return b.db.DropAll()
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}

// MemKV is an in-memory KV for tests. Clone simulates a process restart: the
// clone sees everything written before the snapshot and nothing after.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailWrites makes every Set/Delete fail, to exercise the storage
	// failure paths.
	FailWrites bool
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

var errWriteFailed = errors.New("write failed")

func (m *MemKV) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, true, nil
}

func (m *MemKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errWriteFailed
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *MemKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errWriteFailed
	}
	delete(m.data, key)
	return nil
}

func (m *MemKV) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

func (m *MemKV) Close() error { return nil }

func (m *MemKV) Clone() *MemKV {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clone := NewMemKV()
	for k, v := range m.data {
		cp := make([]byte, len(v))
		copy(cp, v)
		clone.data[k] = cp
	}
	return clone
}
