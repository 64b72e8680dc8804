package metrics

import (
	"context"
	"sync"
	"time"
)

// CollectorConfig configures the background collector.
type CollectorConfig struct {
	// Interval between gauge refreshes (default 15s)
	CollectionInterval time.Duration

	// Interval between history prune runs (default 1h)
	PruneInterval time.Duration

	// Retention is how long history rows are kept (default 30 days)
	Retention time.Duration

	Logger Logger
}

type Logger interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// HistoryPruner is the storage operation the collector needs.
type HistoryPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ConnectionCounter reports live connection counts. The agent manager and
// the browser event hub satisfy it through small adapters in main.
type ConnectionCounter interface {
	AgentCount() int
	SubscriberCount() int
}

// Collector refreshes connection gauges and prunes old history.
type Collector struct {
	m       *Metrics
	store   HistoryPruner
	counter ConnectionCounter
	config  CollectorConfig

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

func NewCollector(m *Metrics, store HistoryPruner, counter ConnectionCounter, config CollectorConfig) *Collector {
	if config.CollectionInterval == 0 {
		config.CollectionInterval = 15 * time.Second
	}
	if config.PruneInterval == 0 {
		config.PruneInterval = time.Hour
	}
	if config.Retention == 0 {
		config.Retention = 30 * 24 * time.Hour
	}
	return &Collector{m: m, store: store, counter: counter, config: config}
}

// Start begins periodic collection. Calling Start twice is a no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.runLoop()
	c.logInfo("Metrics collector started", "collection_interval", c.config.CollectionInterval, "retention", c.config.Retention)
}

// Stop halts the collector and waits for the loop to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	done := c.done
	c.mu.Unlock()
	<-done
}

func (c *Collector) runLoop() {
	defer close(c.done)
	collectionTicker := time.NewTicker(c.config.CollectionInterval)
	pruneTicker := time.NewTicker(c.config.PruneInterval)
	defer collectionTicker.Stop()
	defer pruneTicker.Stop()

	c.collect()
	c.prune()

	for {
		select {
		case <-c.stopChan:
			return
		case <-collectionTicker.C:
			c.collect()
		case <-pruneTicker.C:
			c.prune()
		}
	}
}

func (c *Collector) collect() {
	if c.counter == nil || c.m == nil {
		return
	}
	c.m.SetAgentsConnected(c.counter.AgentCount())
	c.m.EventSubscribers.Set(float64(c.counter.SubscriberCount()))
}

func (c *Collector) prune() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := c.store.PruneBefore(ctx, time.Now().Add(-c.config.Retention))
	if err != nil {
		c.logError("Failed to prune history", "error", err)
		return
	}
	if n > 0 {
		c.logInfo("Pruned history", "rows", n)
	}
}

func (c *Collector) logInfo(msg string, kv ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Info(msg, kv...)
	}
}

func (c *Collector) logError(msg string, kv ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Error(msg, kv...)
	}
}
