package numbering

import (
	"strings"
	"sync"
	"testing"
)

func TestNumbersArePrefixedAndUnique(t *testing.T) {
	gen, err := New(1)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]struct{}{}
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				n := gen.OrderNumber()
				mu.Lock()
				seen[n] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1600 {
		t.Fatalf("expected 1600 unique numbers, got %d", len(seen))
	}
	for n := range seen {
		if !strings.HasPrefix(n, "ORD-") {
			t.Fatalf("unexpected order number %s", n)
		}
	}
	if sub := gen.SubscriptionNumber(); !strings.HasPrefix(sub, "SUB-") {
		t.Fatalf("unexpected subscription number %s", sub)
	}
}

func TestRejectsOutOfRangeNode(t *testing.T) {
	if _, err := New(4096); err == nil {
		t.Fatalf("expected node 4096 to be rejected")
	}
}
