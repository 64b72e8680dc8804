package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakePruner) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 4, nil
}

type fixedCounter struct{ agents, subs int }

func (f fixedCounter) AgentCount() int      { return f.agents }
func (f fixedCounter) SubscriberCount() int { return f.subs }

func TestCollectorRunsImmediately(t *testing.T) {
	t.Parallel()

	m := New()
	pruner := &fakePruner{}
	c := NewCollector(m, pruner, fixedCounter{agents: 2, subs: 5}, CollectorConfig{
		CollectionInterval: time.Hour,
		PruneInterval:      time.Hour,
		Retention:          24 * time.Hour,
	})
	c.Start()
	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.EventSubscribers) != 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()
	c.Stop()

	if testutil.ToFloat64(m.AgentsConnected) != 2 || testutil.ToFloat64(m.EventSubscribers) != 5 {
		t.Errorf("gauges = %v %v", testutil.ToFloat64(m.AgentsConnected), testutil.ToFloat64(m.EventSubscribers))
	}
	pruner.mu.Lock()
	defer pruner.mu.Unlock()
	if len(pruner.cutoffs) != 1 {
		t.Fatalf("prune calls = %d", len(pruner.cutoffs))
	}
	if age := time.Since(pruner.cutoffs[0]); age < 23*time.Hour || age > 25*time.Hour {
		t.Errorf("cutoff age = %v", age)
	}
}
