package metrics

import (
	"time"
)

// SessionLister enumerates sessions that have an event log.
type SessionLister interface {
	Sessions() ([]string, error)
}

// ActorCounter reports the number of live session actors.
type ActorCounter interface {
	ActiveCount() int
}

// Collector samples gauges that cannot be maintained incrementally,
// such as the count of persisted session logs.
type Collector struct {
	store    SessionLister
	actors   ActorCounter
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a metrics collector sampling every interval.
func NewCollector(store SessionLister, actors ActorCounter, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		actors:   actors,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.store != nil {
		if ids, err := c.store.Sessions(); err == nil {
			SessionsStored.Set(float64(len(ids)))
		}
	}
	if c.actors != nil {
		SessionsActive.Set(float64(c.actors.ActiveCount()))
	}
}
