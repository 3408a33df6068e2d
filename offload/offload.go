// Package offload implements the reference on-disk OffloadModule of
// spec.md §4.10: a BuntDB-backed key/value store (an embedded store with
// a small footprint that survives process restart, matching the
// teacher-pack's dbdriver.BuntDriver role) keyed by a numeric storage-id
// and an xid-generated filename component so ids never collide across
// restarts even if the cache's own counter resets.
package offload

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/tidwall/buntdb"

	"github.com/samsamfire/godtn/cache"
)

var _ cache.OffloadModule = (*Store)(nil)

// ErrNotInstantiated is returned by any operation called before
// Instantiate/Configure/Start have run.
var ErrNotInstantiated = errors.New("offload: module not instantiated")

// Store is the reference OffloadModule implementation, satisfying the
// vtable cache.OffloadModule expects: Instantiate, Configure, Query,
// Start, Stop, Offload, Restore, Release.
type Store struct {
	mu       sync.Mutex
	path     string
	db       *buntdb.DB
	instance string
	nextID   uint64
}

// New returns an un-instantiated Store; call Instantiate then Configure
// before Start.
func New() *Store {
	return &Store{instance: xid.New().String()}
}

func (s *Store) Instantiate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instance = xid.New().String()
	return nil
}

// Configure accepts a "path" key naming the BuntDB file; ":memory:" opens
// an in-memory instance, matching buntdb.Open's own convention.
func (s *Store) Configure(cfg map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := cfg["path"]
	if path == "" {
		path = ":memory:"
	}
	s.path = path
	return nil
}

func (s *Store) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return ErrNotInstantiated
	}
	db, err := buntdb.Open(s.path)
	if err != nil {
		return fmt.Errorf("offload: open %s: %w", s.path, err)
	}
	db.SetConfig(buntdb.Config{SyncPolicy: buntdb.EverySecond})
	s.db = db
	return nil
}

func (s *Store) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// NextStorageID allocates a storage-id for a caller about to Offload a
// bundle; the id namespaces by this Store instance's xid so a restarted
// process's fresh Store never collides with an older instance's ids still
// referenced by entries that have not yet idled back in.
func (s *Store) NextStorageID() uint64 {
	return atomic.AddUint64(&s.nextID, 1)
}

func (s *Store) key(storageID uint64) string {
	return s.instance + ":" + strconv.FormatUint(storageID, 10)
}

func (s *Store) Offload(storageID uint64, data []byte) error {
	s.mu.Lock()
	db := s.db
	key := s.key(storageID)
	s.mu.Unlock()
	if db == nil {
		return ErrNotInstantiated
	}
	return db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(data), nil)
		return err
	})
}

func (s *Store) Restore(storageID uint64) ([]byte, error) {
	s.mu.Lock()
	db := s.db
	key := s.key(storageID)
	s.mu.Unlock()
	if db == nil {
		return nil, ErrNotInstantiated
	}
	var value string
	err := db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (s *Store) Query(storageID uint64) (bool, error) {
	s.mu.Lock()
	db := s.db
	key := s.key(storageID)
	s.mu.Unlock()
	if db == nil {
		return false, ErrNotInstantiated
	}
	found := false
	err := db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(key)
		if err == nil {
			found = true
			return nil
		}
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		return err
	})
	return found, err
}

func (s *Store) Release(storageID uint64) {
	s.mu.Lock()
	db := s.db
	key := s.key(storageID)
	s.mu.Unlock()
	if db == nil {
		return
	}
	_ = db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		return err
	})
}
