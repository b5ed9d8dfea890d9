package search

import (
	"sync/atomic"
	"time"
)

// Metrics summarizes one search-driver run.
type Metrics struct {
	StartTime   time.Time
	Duration    time.Duration
	Simulations int64
	ModelCalls  int64
	MaxDepth    int64
}

// Collector gathers metrics across a run. Implementations must be safe for
// use from concurrent policy invocations that share one collector.
type Collector interface {
	Start()
	AddSimulation()
	AddModelCall()
	ObserveDepth(depth int)
	Complete() Metrics
}

type collector struct {
	startTime   time.Time
	simulations atomic.Int64
	modelCalls  atomic.Int64
	maxDepth    atomic.Int64
}

// NewCollector returns a counting collector.
func NewCollector() Collector {
	return &collector{}
}

func (c *collector) Start() {
	c.startTime = time.Now()
}

func (c *collector) AddSimulation() {
	c.simulations.Add(1)
}

func (c *collector) AddModelCall() {
	c.modelCalls.Add(1)
}

func (c *collector) ObserveDepth(depth int) {
	for {
		current := c.maxDepth.Load()
		if int64(depth) <= current || c.maxDepth.CompareAndSwap(current, int64(depth)) {
			return
		}
	}
}

func (c *collector) Complete() Metrics {
	return Metrics{
		StartTime:   c.startTime,
		Duration:    time.Since(c.startTime),
		Simulations: c.simulations.Load(),
		ModelCalls:  c.modelCalls.Load(),
		MaxDepth:    c.maxDepth.Load(),
	}
}

type noopCollector struct{}

// NewNoopCollector returns a collector that records nothing.
func NewNoopCollector() Collector {
	return noopCollector{}
}

func (noopCollector) Start()            {}
func (noopCollector) AddSimulation()    {}
func (noopCollector) AddModelCall()     {}
func (noopCollector) ObserveDepth(int)  {}
func (noopCollector) Complete() Metrics { return Metrics{} }
