package lstore

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

// scalarEntry is a string value with an optional expiry (zero = never)
type scalarEntry struct {
	value     string
	expiresAt time.Time
}

// expired reports whether the entry is logically gone at now
func (e scalarEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type storeImpl struct {
	mu      sync.Mutex
	scalars map[string]scalarEntry
	streams map[string]*stream
	waiters map[string]map[*waiter]struct{}
	clock   func() time.Time
}

// Option configures the local store
type Option func(*storeImpl)

// WithClock replaces the wall clock used for expiry and generated stream ids
func WithClock(clock func() time.Time) Option {
	return func(s *storeImpl) {
		s.clock = clock
	}
}

// NewLocalStore creates a new local store instance.
// The store is a single in-memory key space guarded by one mutex which is
// held for the duration of each operation.
func NewLocalStore(opts ...Option) store.IStore {
	s := &storeImpl{
		scalars: make(map[string]scalarEntry),
		streams: make(map[string]*stream),
		waiters: make(map[string]map[*waiter]struct{}),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[key]; ok {
		return store.ErrTypeMismatch
	}

	entry := scalarEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.clock().Add(ttl)
	}
	s.scalars[key] = entry
	return nil
}

func (s *storeImpl) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[key]; ok {
		return "", false, store.ErrTypeMismatch
	}
	entry, ok := s.liveScalarLocked(key, s.clock())
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *storeImpl) Incr(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[key]; ok {
		return 0, store.ErrTypeMismatch
	}

	entry, ok := s.liveScalarLocked(key, s.clock())
	var current int64
	if ok {
		n, err := strconv.ParseInt(entry.value, 10, 64)
		if err != nil {
			return 0, store.ErrNotInteger
		}
		current = n
	}
	if current == math.MaxInt64 {
		return 0, store.ErrOverflow
	}

	current++
	entry.value = strconv.FormatInt(current, 10)
	s.scalars[key] = entry
	return current, nil
}

func (s *storeImpl) Type(key string) (store.KeyType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[key]; ok {
		return store.KeyTypeStream, nil
	}
	if _, ok := s.liveScalarLocked(key, s.clock()); ok {
		return store.KeyTypeString, nil
	}
	return store.KeyTypeNone, nil
}

func (s *storeImpl) Keys(pattern string) ([]string, error) {
	if pattern != "*" {
		return nil, store.ErrUnsupportedPattern
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	keys := make([]string, 0, len(s.scalars)+len(s.streams))
	for key, entry := range s.scalars {
		if entry.expired(now) {
			delete(s.scalars, key)
			continue
		}
		keys = append(keys, key)
	}
	for key := range s.streams {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *storeImpl) Load(records []store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	loaded := 0
	for _, r := range records {
		entry := scalarEntry{value: r.Value, expiresAt: r.ExpiresAt}
		if entry.expired(now) {
			continue
		}
		delete(s.streams, r.Key)
		s.scalars[r.Key] = entry
		loaded++
	}
	Logger.Debugf("loaded %d of %d records", loaded, len(records))
	return nil
}

func (s *storeImpl) Dump() ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	records := make([]store.Record, 0, len(s.scalars))
	for key, entry := range s.scalars {
		if entry.expired(now) {
			continue
		}
		records = append(records, store.Record{Key: key, Value: entry.value, ExpiresAt: entry.expiresAt})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// liveScalarLocked returns the scalar stored at key unless it is absent or
// expired. Expired entries are removed on the way (lazy expiry).
//
// Thread-safety: The caller must hold s.mu.
func (s *storeImpl) liveScalarLocked(key string, now time.Time) (scalarEntry, bool) {
	entry, ok := s.scalars[key]
	if !ok {
		return scalarEntry{}, false
	}
	if entry.expired(now) {
		delete(s.scalars, key)
		return scalarEntry{}, false
	}
	return entry, true
}
