package testing

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
)

// RunStoreBenchmarks runs all benchmarks for an IStore implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Set", func(b *testing.B) {
			benchmarkSet(b, factory())
		})

		b.Run("SetWithExpiry", func(b *testing.B) {
			benchmarkSetWithExpiry(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("Incr", func(b *testing.B) {
			benchmarkIncr(b, factory())
		})

		b.Run("XAdd", func(b *testing.B) {
			benchmarkXAdd(b, factory())
		})

		b.Run("XRange", func(b *testing.B) {
			benchmarkXRange(b, factory())
		})

		b.Run("XReadBlockWakeup", func(b *testing.B) {
			benchmarkXReadBlockWakeup(b, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkSet(b *testing.B, s store.IStore) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_ = s.Set(fmt.Sprintf("key-%d", counter%10000), "value", 0)
			counter++
		}
	})
}

func benchmarkSetWithExpiry(b *testing.B, s store.IStore) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_ = s.Set(fmt.Sprintf("key-%d", counter%10000), "value", time.Minute)
			counter++
		}
	})
}

func benchmarkGet(b *testing.B, s store.IStore) {
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		_ = s.Set(fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i), 0)
	}

	var counter int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)) % numKeys
			_, _, _ = s.Get(fmt.Sprintf("key-%d", idx))
		}
	})
}

func benchmarkIncr(b *testing.B, s store.IStore) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = s.Incr("counter")
		}
	})
}

func benchmarkXAdd(b *testing.B, s store.IStore) {
	fields := []store.Field{{Name: "sensor", Value: "1"}, {Name: "temp", Value: "21.5"}}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.XAdd("stream", "*", fields); err != nil {
			b.Fatalf("XAdd failed: %v", err)
		}
	}
}

func benchmarkXRange(b *testing.B, s store.IStore) {
	for i := 1; i <= 10000; i++ {
		_, _ = s.XAdd("stream", fmt.Sprintf("%d-0", i), []store.Field{{Name: "i", Value: fmt.Sprint(i)}})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := (i % 9900) + 1
		_, _ = s.XRange("stream", fmt.Sprint(start), fmt.Sprint(start+100), 0)
	}
}

func benchmarkXReadBlockWakeup(b *testing.B, s store.IStore) {
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		done := make(chan struct{})
		go func() {
			_, _ = s.XReadBlock(ctx, []store.StreamQuery{{Key: "wake", Latest: true}}, 1, time.Second)
			close(done)
		}()
		// retry until the reader is registered and sees the entry
		for {
			_, _ = s.XAdd("wake", "*", nil)
			select {
			case <-done:
			case <-time.After(time.Millisecond):
				continue
			}
			break
		}
	}
}
