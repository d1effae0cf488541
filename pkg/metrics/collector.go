package metrics

import (
	"time"

	"github.com/cuemby/paddock/pkg/store"
)

// Collector periodically samples a project's store into gauges.
type Collector struct {
	store  store.Store
	stopCh chan struct{}
}

// NewCollector creates a metrics collector for the given store.
func NewCollector(st store.Store) *Collector {
	return &Collector{
		store:  st,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectProcessMetrics()
	c.collectArtifactMetrics()
	c.collectStackMetrics()
}

func (c *Collector) collectProcessMetrics() {
	processes, err := c.store.GetProcesses()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, p := range processes {
		counts[string(p.State)]++
	}
	for state, count := range counts {
		ProcessesTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectArtifactMetrics() {
	artifacts, err := c.store.GetArtifacts()
	if err != nil {
		return
	}
	ArtifactsTotal.Set(float64(len(artifacts)))
}

func (c *Collector) collectStackMetrics() {
	names, err := c.store.GetStackNames()
	if err != nil {
		return
	}
	StacksTotal.Set(float64(len(names)))
}
