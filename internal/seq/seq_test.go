package seq

import (
	"context"
	"sync"
	"testing"
)

func TestP2PKeySymmetric(t *testing.T) {
	if P2PKey(10000, "alice", "bob") != P2PKey(10000, "bob", "alice") {
		t.Fatal("both directions must map to the same conversation key")
	}
	if P2PKey(10000, "alice", "bob") == P2PKey(10001, "alice", "bob") {
		t.Fatal("different tenants must not share a key")
	}
}

func TestMemorySeqStrictlyIncreasing(t *testing.T) {
	s := NewMemorySeq()
	key := P2PKey(10000, "alice", "bob")

	const goroutines = 8
	const perGoroutine = 200
	results := make(chan int64, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				n, err := s.Next(context.Background(), key)
				if err != nil {
					t.Errorf("next: %v", err)
					return
				}
				results <- n
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, goroutines*perGoroutine)
	var max int64
	for n := range results {
		if seen[n] {
			t.Fatalf("sequence %d issued twice", n)
		}
		seen[n] = true
		if n > max {
			max = n
		}
	}
	if max != goroutines*perGoroutine {
		t.Fatalf("max sequence = %d, want %d", max, goroutines*perGoroutine)
	}
}

func TestMemorySeqIndependentKeys(t *testing.T) {
	s := NewMemorySeq()
	a, _ := s.Next(context.Background(), P2PKey(10000, "alice", "bob"))
	b, _ := s.Next(context.Background(), P2PKey(10000, "alice", "carol"))
	if a != 1 || b != 1 {
		t.Fatalf("each conversation starts at 1, got %d %d", a, b)
	}
}
