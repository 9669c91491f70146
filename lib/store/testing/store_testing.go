package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
)

// StoreFactory is a function that creates a new, empty instance of an IStore implementation
type StoreFactory func() store.IStore

// RunStoreTests runs a comprehensive test suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Expiry", func(t *testing.T) {
			testExpiry(t, factory())
		})

		t.Run("Incr", func(t *testing.T) {
			testIncr(t, factory())
		})

		t.Run("IncrKeepsExpiry", func(t *testing.T) {
			testIncrKeepsExpiry(t, factory())
		})

		t.Run("TypeMismatch", func(t *testing.T) {
			testTypeMismatch(t, factory())
		})

		t.Run("Keys", func(t *testing.T) {
			testKeys(t, factory())
		})

		t.Run("XAddExplicitIDs", func(t *testing.T) {
			testXAddExplicitIDs(t, factory())
		})

		t.Run("XAddAutoIDs", func(t *testing.T) {
			testXAddAutoIDs(t, factory())
		})

		t.Run("XRange", func(t *testing.T) {
			testXRange(t, factory())
		})

		t.Run("XRead", func(t *testing.T) {
			testXRead(t, factory())
		})

		t.Run("XReadBlockTimeout", func(t *testing.T) {
			testXReadBlockTimeout(t, factory())
		})

		t.Run("XReadBlockWakeup", func(t *testing.T) {
			testXReadBlockWakeup(t, factory())
		})

		t.Run("XReadBlockCancel", func(t *testing.T) {
			testXReadBlockCancel(t, factory())
		})

		t.Run("LoadDump", func(t *testing.T) {
			testLoadDump(t, factory)
		})

		t.Run("ConcurrentIncr", func(t *testing.T) {
			testConcurrentIncr(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func mustXAdd(t *testing.T, s store.IStore, key, id string, kv ...string) store.StreamID {
	t.Helper()
	fields := make([]store.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, store.Field{Name: kv[i], Value: kv[i+1]})
	}
	added, err := s.XAdd(key, id, fields)
	if err != nil {
		t.Fatalf("XAdd(%s, %s) failed: %v", key, id, err)
	}
	return added
}

func ids(entries []store.StreamEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID.String()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, s store.IStore) {
	if err := s.Set("foo", "bar", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, ok, err := s.Get("foo")
	if err != nil || !ok || value != "bar" {
		t.Errorf("Expected (bar, true, nil), got (%s, %v, %v)", value, ok, err)
	}

	if err := s.Set("foo", "baz", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, _, _ = s.Get("foo")
	if value != "baz" {
		t.Errorf("Expected overwritten value baz, got %s", value)
	}

	_, ok, err = s.Get("missing")
	if err != nil || ok {
		t.Errorf("Expected missing key to return (false, nil), got (%v, %v)", ok, err)
	}

	if err := s.Set("empty", "", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, ok, _ = s.Get("empty")
	if !ok || value != "" {
		t.Errorf("Expected empty value to be stored, got (%q, %v)", value, ok)
	}

	typ, _ := s.Type("foo")
	if typ != store.KeyTypeString {
		t.Errorf("Expected type string, got %s", typ)
	}
	typ, _ = s.Type("missing")
	if typ != store.KeyTypeNone {
		t.Errorf("Expected type none, got %s", typ)
	}
}

func testExpiry(t *testing.T, s store.IStore) {
	if err := s.Set("short", "v", 50*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("forever", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, ok, _ := s.Get("short"); !ok {
		t.Errorf("Key should exist before its ttl elapsed")
	}

	time.Sleep(120 * time.Millisecond)

	if _, ok, _ := s.Get("short"); ok {
		t.Errorf("Key should be absent after its ttl elapsed")
	}
	if typ, _ := s.Type("short"); typ != store.KeyTypeNone {
		t.Errorf("Expected type none for expired key, got %s", typ)
	}
	keys, _ := s.Keys("*")
	if !equalStrings(keys, []string{"forever"}) {
		t.Errorf("Expected only non-expired keys, got %v", keys)
	}

	// overwriting without ttl clears the expiry
	_ = s.Set("reset", "v", 50*time.Millisecond)
	_ = s.Set("reset", "v2", 0)
	time.Sleep(120 * time.Millisecond)
	if value, ok, _ := s.Get("reset"); !ok || value != "v2" {
		t.Errorf("Overwrite without ttl should remove the expiry")
	}
}

func testIncr(t *testing.T, s store.IStore) {
	n, err := s.Incr("counter")
	if err != nil || n != 1 {
		t.Errorf("Expected (1, nil) for absent key, got (%d, %v)", n, err)
	}
	n, _ = s.Incr("counter")
	if n != 2 {
		t.Errorf("Expected 2, got %d", n)
	}
	value, _, _ := s.Get("counter")
	if value != "2" {
		t.Errorf("Expected stored value 2, got %s", value)
	}

	_ = s.Set("neg", "-5", 0)
	if n, _ := s.Incr("neg"); n != -4 {
		t.Errorf("Expected -4, got %d", n)
	}

	_ = s.Set("text", "abc", 0)
	if _, err := s.Incr("text"); !errors.Is(err, store.ErrNotInteger) {
		t.Errorf("Expected ErrNotInteger, got %v", err)
	}

	_ = s.Set("max", "9223372036854775807", 0)
	if _, err := s.Incr("max"); !errors.Is(err, store.ErrOverflow) {
		t.Errorf("Expected ErrOverflow, got %v", err)
	}
	if value, _, _ := s.Get("max"); value != "9223372036854775807" {
		t.Errorf("Failed increment must not change the value, got %s", value)
	}
}

func testIncrKeepsExpiry(t *testing.T, s store.IStore) {
	_ = s.Set("counter", "10", 80*time.Millisecond)
	if n, _ := s.Incr("counter"); n != 11 {
		t.Errorf("Expected 11, got %d", n)
	}
	time.Sleep(150 * time.Millisecond)
	if _, ok, _ := s.Get("counter"); ok {
		t.Errorf("Incr must keep the expiry of the key")
	}
}

func testTypeMismatch(t *testing.T, s store.IStore) {
	mustXAdd(t, s, "stream", "1-1", "a", "b")

	if err := s.Set("stream", "x", 0); !errors.Is(err, store.ErrTypeMismatch) {
		t.Errorf("Set on stream: expected ErrTypeMismatch, got %v", err)
	}
	if _, _, err := s.Get("stream"); !errors.Is(err, store.ErrTypeMismatch) {
		t.Errorf("Get on stream: expected ErrTypeMismatch, got %v", err)
	}
	if _, err := s.Incr("stream"); !errors.Is(err, store.ErrTypeMismatch) {
		t.Errorf("Incr on stream: expected ErrTypeMismatch, got %v", err)
	}
	if typ, _ := s.Type("stream"); typ != store.KeyTypeStream {
		t.Errorf("Expected type stream, got %s", typ)
	}

	_ = s.Set("scalar", "x", 0)
	if _, err := s.XAdd("scalar", "1-1", nil); !errors.Is(err, store.ErrTypeMismatch) {
		t.Errorf("XAdd on scalar: expected ErrTypeMismatch, got %v", err)
	}
	if _, err := s.XRange("scalar", "-", "+", 0); !errors.Is(err, store.ErrTypeMismatch) {
		t.Errorf("XRange on scalar: expected ErrTypeMismatch, got %v", err)
	}
	_, err := s.XRead([]store.StreamQuery{{Key: "scalar"}}, 0)
	if !errors.Is(err, store.ErrTypeMismatch) {
		t.Errorf("XRead on scalar: expected ErrTypeMismatch, got %v", err)
	}

	// an expired scalar does not block the key
	_ = s.Set("gone", "x", 20*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	if _, err := s.XAdd("gone", "1-1", nil); err != nil {
		t.Errorf("XAdd on expired scalar should succeed, got %v", err)
	}
}

func testKeys(t *testing.T, s store.IStore) {
	keys, err := s.Keys("*")
	if err != nil || len(keys) != 0 {
		t.Errorf("Expected no keys in empty store, got (%v, %v)", keys, err)
	}

	_ = s.Set("b", "1", 0)
	_ = s.Set("a", "1", 0)
	mustXAdd(t, s, "c", "1-1", "f", "v")

	keys, _ = s.Keys("*")
	if !equalStrings(keys, []string{"a", "b", "c"}) {
		t.Errorf("Expected [a b c], got %v", keys)
	}

	if _, err := s.Keys("a*"); !errors.Is(err, store.ErrUnsupportedPattern) {
		t.Errorf("Expected ErrUnsupportedPattern, got %v", err)
	}
}

func testXAddExplicitIDs(t *testing.T, s store.IStore) {
	if _, err := s.XAdd("s", "0-0", nil); !errors.Is(err, store.ErrMustExceedZero) {
		t.Errorf("Expected ErrMustExceedZero for 0-0, got %v", err)
	}

	id := mustXAdd(t, s, "s", "0-*", "a", "1")
	if id.String() != "0-1" {
		t.Errorf("Expected 0-1 for 0-* on empty stream, got %s", id)
	}

	id = mustXAdd(t, s, "s", "1-1", "a", "1")
	if id.String() != "1-1" {
		t.Errorf("Expected 1-1, got %s", id)
	}

	if _, err := s.XAdd("s", "1-1", nil); !errors.Is(err, store.ErrNotMonotonic) {
		t.Errorf("Expected ErrNotMonotonic for equal id, got %v", err)
	}
	if _, err := s.XAdd("s", "0-5", nil); !errors.Is(err, store.ErrNotMonotonic) {
		t.Errorf("Expected ErrNotMonotonic for smaller id, got %v", err)
	}
	if _, err := s.XAdd("s", "0-0", nil); !errors.Is(err, store.ErrMustExceedZero) {
		t.Errorf("Expected ErrMustExceedZero to take precedence, got %v", err)
	}

	id = mustXAdd(t, s, "s", "1-*")
	if id.String() != "1-2" {
		t.Errorf("Expected 1-2, got %s", id)
	}
	id = mustXAdd(t, s, "s", "5-*")
	if id.String() != "5-0" {
		t.Errorf("Expected 5-0 for new millisecond, got %s", id)
	}

	if _, err := s.XAdd("s", "x-1", nil); !errors.Is(err, store.ErrInvalidStreamID) {
		t.Errorf("Expected ErrInvalidStreamID, got %v", err)
	}

	entries, _ := s.XRange("s", "-", "+", 0)
	if !equalStrings(ids(entries), []string{"0-1", "1-1", "1-2", "5-0"}) {
		t.Errorf("Unexpected stream contents %v", ids(entries))
	}
}

func testXAddAutoIDs(t *testing.T, s store.IStore) {
	var last store.StreamID
	for i := 0; i < 100; i++ {
		id := mustXAdd(t, s, "auto", "*", "i", fmt.Sprint(i))
		if !last.Less(id) {
			t.Fatalf("Generated id %s is not greater than %s", id, last)
		}
		last = id
	}

	// a far future explicit id forces generated ids to reuse its millisecond
	future := mustXAdd(t, s, "auto", fmt.Sprintf("%d-0", uint64(time.Now().Add(time.Hour).UnixMilli())))
	id := mustXAdd(t, s, "auto", "*")
	if id.Ms != future.Ms || id.Seq != future.Seq+1 {
		t.Errorf("Expected %d-%d, got %s", future.Ms, future.Seq+1, id)
	}
}

func testXRange(t *testing.T, s store.IStore) {
	entries, err := s.XRange("missing", "-", "+", 0)
	if err != nil || len(entries) != 0 {
		t.Errorf("Expected empty range for missing key, got (%v, %v)", entries, err)
	}

	mustXAdd(t, s, "s", "1-1", "a", "1")
	mustXAdd(t, s, "s", "1-2", "b", "2")
	mustXAdd(t, s, "s", "2-0", "c", "3")
	mustXAdd(t, s, "s", "3-5", "d", "4")

	entries, _ = s.XRange("s", "-", "+", 0)
	if !equalStrings(ids(entries), []string{"1-1", "1-2", "2-0", "3-5"}) {
		t.Errorf("Full range: got %v", ids(entries))
	}

	entries, _ = s.XRange("s", "1-2", "2-0", 0)
	if !equalStrings(ids(entries), []string{"1-2", "2-0"}) {
		t.Errorf("Inclusive range: got %v", ids(entries))
	}

	entries, _ = s.XRange("s", "1", "1", 0)
	if !equalStrings(ids(entries), []string{"1-1", "1-2"}) {
		t.Errorf("Bare millisecond bounds: got %v", ids(entries))
	}

	entries, _ = s.XRange("s", "-", "+", 2)
	if !equalStrings(ids(entries), []string{"1-1", "1-2"}) {
		t.Errorf("Count: got %v", ids(entries))
	}

	entries, _ = s.XRange("s", "3-0", "1-0", 0)
	if len(entries) != 0 {
		t.Errorf("Expected empty range for start > end, got %v", ids(entries))
	}

	entries, _ = s.XRange("s", "2-0", "2-0", 0)
	if len(entries) != 1 || entries[0].Fields[0] != (store.Field{Name: "c", Value: "3"}) {
		t.Errorf("Expected single entry with fields, got %v", entries)
	}

	if _, err := s.XRange("s", "abc", "+", 0); !errors.Is(err, store.ErrInvalidStreamID) {
		t.Errorf("Expected ErrInvalidStreamID, got %v", err)
	}
}

func testXRead(t *testing.T, s store.IStore) {
	mustXAdd(t, s, "a", "1-1", "x", "1")
	mustXAdd(t, s, "a", "1-2", "x", "2")
	mustXAdd(t, s, "b", "5-0", "y", "1")

	results, err := s.XRead([]store.StreamQuery{
		{Key: "a", After: store.StreamID{Ms: 1, Seq: 1}},
		{Key: "b", After: store.StreamID{Ms: 5, Seq: 0}},
		{Key: "missing"},
	}, 0)
	if err != nil {
		t.Fatalf("XRead failed: %v", err)
	}
	if len(results) != 1 || results[0].Key != "a" || !equalStrings(ids(results[0].Entries), []string{"1-2"}) {
		t.Errorf("Expected only new entries of stream a, got %v", results)
	}

	results, _ = s.XRead([]store.StreamQuery{{Key: "a"}, {Key: "b"}}, 1)
	if len(results) != 2 || len(results[0].Entries) != 1 || results[1].Key != "b" {
		t.Errorf("Expected one entry per stream in query order, got %v", results)
	}

	results, _ = s.XRead([]store.StreamQuery{{Key: "a", Latest: true}}, 0)
	if len(results) != 0 {
		t.Errorf("Non-blocking read of $ must be empty, got %v", results)
	}
}

func testXReadBlockTimeout(t *testing.T, s store.IStore) {
	mustXAdd(t, s, "s", "1-1")

	start := time.Now()
	results, err := s.XReadBlock(context.Background(), []store.StreamQuery{{Key: "s", After: store.StreamID{Ms: 1, Seq: 1}}}, 0, 50*time.Millisecond)
	if err != nil || results != nil {
		t.Errorf("Expected (nil, nil) on timeout, got (%v, %v)", results, err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Returned before the timeout elapsed (%s)", elapsed)
	}

	// data that is already there is returned without waiting
	results, err = s.XReadBlock(context.Background(), []store.StreamQuery{{Key: "s"}}, 0, time.Hour)
	if err != nil || len(results) != 1 {
		t.Errorf("Expected immediate result, got (%v, %v)", results, err)
	}
}

func testXReadBlockWakeup(t *testing.T, s store.IStore) {
	mustXAdd(t, s, "s", "1-1")

	type readResult struct {
		results []store.StreamResult
		err     error
	}
	done := make(chan readResult, 1)
	go func() {
		results, err := s.XReadBlock(context.Background(), []store.StreamQuery{{Key: "other"}, {Key: "s", Latest: true}}, 0, 0)
		done <- readResult{results, err}
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case r := <-done:
		t.Fatalf("Blocking read returned early: %v", r)
	default:
	}

	mustXAdd(t, s, "s", "2-0", "temp", "21")

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("XReadBlock failed: %v", r.err)
		}
		if len(r.results) != 1 || r.results[0].Key != "s" || !equalStrings(ids(r.results[0].Entries), []string{"2-0"}) {
			t.Errorf("Expected the new entry only, got %v", r.results)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Blocking read was not woken by XAdd")
	}
}

func testXReadBlockCancel(t *testing.T, s store.IStore) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.XReadBlock(ctx, []store.StreamQuery{{Key: "s", Latest: true}}, 0, 0)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Blocking read ignored context cancellation")
	}
}

func testLoadDump(t *testing.T, factory StoreFactory) {
	src := factory()
	_ = src.Set("b", "2", 0)
	_ = src.Set("a", "1", time.Hour)
	mustXAdd(t, src, "s", "1-1")

	records, err := src.Dump()
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if len(records) != 2 || records[0].Key != "a" || records[0].ExpiresAt.IsZero() || !records[1].ExpiresAt.IsZero() {
		t.Errorf("Expected sorted scalar records with expiry, got %v", records)
	}

	records = append(records, store.Record{Key: "old", Value: "x", ExpiresAt: time.Now().Add(-time.Second)})

	dst := factory()
	if err := dst.Load(records); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	keys, _ := dst.Keys("*")
	if !equalStrings(keys, []string{"a", "b"}) {
		t.Errorf("Expected loaded keys [a b], got %v", keys)
	}
	if value, _, _ := dst.Get("a"); value != "1" {
		t.Errorf("Expected a=1, got %s", value)
	}
}

func testConcurrentIncr(t *testing.T, s store.IStore) {
	const workers, perWorker = 16, 250

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := s.Incr("counter"); err != nil {
					t.Errorf("Incr failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	value, _, _ := s.Get("counter")
	if value != fmt.Sprint(workers*perWorker) {
		t.Errorf("Expected %d, got %s", workers*perWorker, value)
	}
}
