package lstore

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
)

// stream is an append-only list of entries with strictly increasing ids
type stream struct {
	entries []store.StreamEntry
}

// lastID returns the id of the newest entry, false if the stream is empty
func (st *stream) lastID() (store.StreamID, bool) {
	if st == nil || len(st.entries) == 0 {
		return store.StreamID{}, false
	}
	return st.entries[len(st.entries)-1].ID, true
}

// after returns up to count entries with an id strictly greater than id.
// A count <= 0 means no limit.
func (st *stream) after(id store.StreamID, count int) []store.StreamEntry {
	if st == nil {
		return nil
	}
	idx := sort.Search(len(st.entries), func(i int) bool {
		return id.Less(st.entries[i].ID)
	})
	return limit(st.entries[idx:], count)
}

// between returns up to count entries with start <= id <= end
func (st *stream) between(start, end store.StreamID, count int) []store.StreamEntry {
	if st == nil || end.Less(start) {
		return nil
	}
	lo := sort.Search(len(st.entries), func(i int) bool {
		return !st.entries[i].ID.Less(start)
	})
	hi := sort.Search(len(st.entries), func(i int) bool {
		return end.Less(st.entries[i].ID)
	})
	if lo >= hi {
		return nil
	}
	return limit(st.entries[lo:hi], count)
}

// limit copies at most count entries into a fresh slice so callers never
// share the backing array of a stream. Field slices are never mutated after
// insertion and can be shared.
func limit(entries []store.StreamEntry, count int) []store.StreamEntry {
	if count > 0 && len(entries) > count {
		entries = entries[:count]
	}
	if len(entries) == 0 {
		return nil
	}
	out := make([]store.StreamEntry, len(entries))
	copy(out, entries)
	return out
}

// waiter is a blocked XREAD. ch is buffered so a notification is never lost
// between registration and the select of the waiting goroutine.
type waiter struct {
	ch chan struct{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) XAdd(key, idSpec string, fields []store.Field) (store.StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if _, ok := s.liveScalarLocked(key, now); ok {
		return store.StreamID{}, store.ErrTypeMismatch
	}

	st := s.streams[key]
	last, hasLast := st.lastID()

	id, err := resolveID(idSpec, last, hasLast, now)
	if err != nil {
		return store.StreamID{}, err
	}
	if id.IsZero() {
		return store.StreamID{}, store.ErrMustExceedZero
	}
	if hasLast && !last.Less(id) {
		return store.StreamID{}, store.ErrNotMonotonic
	}

	if st == nil {
		st = &stream{}
		s.streams[key] = st
	}
	entry := store.StreamEntry{ID: id, Fields: make([]store.Field, len(fields))}
	copy(entry.Fields, fields)
	st.entries = append(st.entries, entry)

	s.notifyLocked(key)
	return id, nil
}

func (s *storeImpl) XRange(key, start, end string, count int) ([]store.StreamEntry, error) {
	from, err := store.ParseRangeBound(start, false)
	if err != nil {
		return nil, err
	}
	to, err := store.ParseRangeBound(end, true)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveScalarLocked(key, s.clock()); ok {
		return nil, store.ErrTypeMismatch
	}
	return s.streams[key].between(from, to, count), nil
}

func (s *storeImpl) XRead(queries []store.StreamQuery, count int) ([]store.StreamResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readLocked(s.resolveLatestLocked(queries), count)
}

func (s *storeImpl) XReadBlock(ctx context.Context, queries []store.StreamQuery, count int, timeout time.Duration) ([]store.StreamResult, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	s.mu.Lock()
	resolved := s.resolveLatestLocked(queries)
	for {
		results, err := s.readLocked(resolved, count)
		if err != nil || len(results) > 0 {
			s.mu.Unlock()
			return results, err
		}

		w := s.registerLocked(resolved)
		s.mu.Unlock()

		select {
		case <-w.ch:
			s.mu.Lock()
			s.unregisterLocked(w, resolved)
		case <-deadline:
			s.mu.Lock()
			s.unregisterLocked(w, resolved)
			s.mu.Unlock()
			return nil, nil
		case <-ctx.Done():
			s.mu.Lock()
			s.unregisterLocked(w, resolved)
			s.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// resolveID turns an XADD id argument into a concrete id.
// Validation against 0-0 and the stream top is left to the caller.
func resolveID(spec string, last store.StreamID, hasLast bool, now time.Time) (store.StreamID, error) {
	if spec == "*" {
		ms := uint64(now.UnixMilli())
		if hasLast && ms <= last.Ms {
			if last.Seq == math.MaxUint64 {
				return store.StreamID{Ms: last.Ms + 1}, nil
			}
			return store.StreamID{Ms: last.Ms, Seq: last.Seq + 1}, nil
		}
		return store.StreamID{Ms: ms}, nil
	}

	msPart, seqPart, ok := strings.Cut(spec, "-")
	if !ok || seqPart != "*" {
		return store.ParseStreamID(spec)
	}

	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return store.StreamID{}, store.ErrInvalidStreamID
	}
	switch {
	case hasLast && last.Ms == ms:
		if last.Seq == math.MaxUint64 {
			return store.StreamID{}, store.ErrNotMonotonic
		}
		return store.StreamID{Ms: ms, Seq: last.Seq + 1}, nil
	case ms == 0:
		return store.StreamID{Ms: 0, Seq: 1}, nil
	default:
		return store.StreamID{Ms: ms}, nil
	}
}

// resolveLatestLocked copies queries and replaces every "$" query with the
// current top id of its stream.
//
// Thread-safety: The caller must hold s.mu.
func (s *storeImpl) resolveLatestLocked(queries []store.StreamQuery) []store.StreamQuery {
	resolved := make([]store.StreamQuery, len(queries))
	for i, q := range queries {
		if q.Latest {
			last, _ := s.streams[q.Key].lastID()
			q = store.StreamQuery{Key: q.Key, After: last}
		}
		resolved[i] = q
	}
	return resolved
}

// readLocked collects the entries after each query id. Streams without new
// entries are omitted.
//
// Thread-safety: The caller must hold s.mu.
func (s *storeImpl) readLocked(queries []store.StreamQuery, count int) ([]store.StreamResult, error) {
	now := s.clock()
	var results []store.StreamResult
	for _, q := range queries {
		if _, ok := s.liveScalarLocked(q.Key, now); ok {
			return nil, store.ErrTypeMismatch
		}
		entries := s.streams[q.Key].after(q.After, count)
		if len(entries) == 0 {
			continue
		}
		results = append(results, store.StreamResult{Key: q.Key, Entries: entries})
	}
	return results, nil
}

// registerLocked creates a waiter and subscribes it to every queried key.
//
// Thread-safety: The caller must hold s.mu.
func (s *storeImpl) registerLocked(queries []store.StreamQuery) *waiter {
	w := &waiter{ch: make(chan struct{}, 1)}
	for _, q := range queries {
		set, ok := s.waiters[q.Key]
		if !ok {
			set = make(map[*waiter]struct{})
			s.waiters[q.Key] = set
		}
		set[w] = struct{}{}
	}
	return w
}

// unregisterLocked removes w from every queried key.
//
// Thread-safety: The caller must hold s.mu.
func (s *storeImpl) unregisterLocked(w *waiter, queries []store.StreamQuery) {
	for _, q := range queries {
		set := s.waiters[q.Key]
		delete(set, w)
		if len(set) == 0 {
			delete(s.waiters, q.Key)
		}
	}
}

// notifyLocked wakes every waiter subscribed to key without blocking.
//
// Thread-safety: The caller must hold s.mu.
func (s *storeImpl) notifyLocked(key string) {
	for w := range s.waiters[key] {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}
