package taskrunner

import (
	"math"
	"time"

	"github.com/flowpool/flowpool/core"
)

// direction tracks which way the monitor is currently leaning, so a
// blip that doesn't last long enough never triggers a resize.
type direction int

const (
	dirNone direction = iota
	dirUp
	dirDown
)

// Hysteresis knobs from the pool's design: growth multiplies, shrink
// halves, and both require the same verdict for several consecutive
// ticks before anything actually happens.
const (
	growFactor   = 1.5
	shrinkFactor = 2.0
)

// monitor is the self-sizing control loop. It owns no workers directly;
// it samples counters maintained by the queue and worker set and asks
// the worker set to grow or shrink when a trend has held long enough.
//
// It runs on its own goroutine rather than occupying a worker slot. The
// pool's design allows either; running it standalone keeps
// effective_min equal to the requested minimum instead of minimum+1,
// which is simpler to reason about and to test.
type monitor struct {
	pool *Pool

	upTolerance   int
	downTolerance int
	tick          time.Duration

	dir   direction
	steps int

	stopCh chan struct{}
	doneCh chan struct{}
}

func newMonitor(p *Pool, upTolerance, downTolerance int, tick time.Duration) *monitor {
	return &monitor{
		pool:          p,
		upTolerance:   upTolerance,
		downTolerance: downTolerance,
		tick:          tick,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

func (m *monitor) start() {
	go m.run()
}

func (m *monitor) stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample is one tick of the hysteresis state machine described in the
// pool's design: classify the current load, reset or extend the streak,
// and act once the streak has held for the configured tolerance.
func (m *monitor) sample() {
	active := m.pool.counters.activeTasks.Load()
	threads := m.pool.workers.threadCount.Load()
	pending := m.pool.queue.pending.Load()

	if m.pool.metrics != nil {
		m.pool.metrics.RecordQueueDepth(m.pool.name, int(pending))
	}

	next := dirNone
	switch {
	case active == threads && pending > 0:
		next = dirUp
	case threads > 0 && active < threads/4:
		next = dirDown
	}

	if next != m.dir {
		m.dir = next
		m.steps = 0
		return
	}
	if m.dir == dirNone {
		return
	}

	m.steps++

	switch m.dir {
	case dirUp:
		if m.steps >= m.upTolerance {
			target := minInt32(m.pool.maxThreads, int32(math.Ceil(float64(threads)*growFactor)))
			if target > threads {
				m.pool.workers.growTo(int(target))
				m.pool.logger.Info("pool grew",
					core.F("pool", m.pool.name), core.F("from", threads), core.F("to", target))
			}
			m.dir, m.steps = dirNone, 0
		}
	case dirDown:
		if m.steps >= m.downTolerance {
			target := maxInt32(m.pool.minThreads, threads/2)
			if target < threads {
				m.pool.workers.shrinkIdle(int(threads - target))
				m.pool.logger.Info("pool shrank",
					core.F("pool", m.pool.name), core.F("from", threads), core.F("to", target))
			}
			m.dir, m.steps = dirNone, 0
		}
	}
}

func minInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
