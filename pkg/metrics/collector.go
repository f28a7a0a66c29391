package metrics

import (
	"time"

	"github.com/cordonsec/vigil/pkg/types"
)

const collectInterval = 15 * time.Second

// NodeSource supplies the current membership table.
type NodeSource interface {
	ListNodes() []*types.Node
}

// ZoneSource supplies the current zone replica set.
type ZoneSource interface {
	ListZones() []*types.DetectionZone
}

// Collector periodically refreshes cluster gauges from live state.
type Collector struct {
	nodes  NodeSource
	zones  ZoneSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(nodes NodeSource, zones ZoneSource) *Collector {
	return &Collector{
		nodes:  nodes,
		zones:  zones,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
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
	c.collectNodeMetrics()
	c.collectZoneMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes := c.nodes.ListNodes()

	counts := make(map[string]map[string]int)
	for _, node := range nodes {
		role := string(node.Role)
		status := string(node.Status)

		if counts[role] == nil {
			counts[role] = make(map[string]int)
		}
		counts[role][status]++
	}

	// Reset so series for vanished role/status pairs don't linger
	NodesTotal.Reset()
	for role, statuses := range counts {
		for status, count := range statuses {
			NodesTotal.WithLabelValues(role, status).Set(float64(count))
		}
	}
}

func (c *Collector) collectZoneMetrics() {
	ZonesTotal.Set(float64(len(c.zones.ListZones())))
}
