package taskrunner

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowpool/flowpool/core"
)

// poolCounters holds the atomics shared between every worker, the
// monitor and the Pool facade. Kept as a small separate type so it can
// be passed by pointer without dragging the rest of Pool along.
type poolCounters struct {
	activeTasks atomic.Int32
}

// workerSet owns the slice of live workers plus the resources they need
// to run: the shared queue, clock, idle tick and panic handler. Its
// exported-in-package operations (growTo, shrinkIdle, shutdownAll) are
// always taken in that order relative to the queue's own lock — set_mu
// before task_mu — which is what lets shrinkIdle peek at a worker's busy
// flag without racing the worker that owns it.
type workerSet struct {
	mu      sync.Mutex
	workers []*poolWorker
	nextID  int

	threadCount atomic.Int32

	queue        *resizeTaskQueue
	counters     *poolCounters
	clock        Clock
	idleTick     time.Duration
	panicHandler core.PanicHandler
	metrics      core.Metrics
	name         string
}

func newWorkerSet(queue *resizeTaskQueue, counters *poolCounters, clock Clock, idleTick time.Duration, panicHandler core.PanicHandler, metrics core.Metrics, name string) *workerSet {
	return &workerSet{
		queue:        queue,
		counters:     counters,
		clock:        clock,
		idleTick:     idleTick,
		panicHandler: panicHandler,
		metrics:      metrics,
		name:         name,
	}
}

// growTo spawns workers until the set holds at least target goroutines.
// It is a no-op if the set is already at or above target.
func (ws *workerSet) growTo(target int) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	for len(ws.workers) < target {
		w := newPoolWorker(ws.nextID)
		ws.nextID++
		ws.workers = append(ws.workers, w)
		ws.threadCount.Add(1)
		go w.loop(ws)
	}
}

// shrinkIdle retires up to count workers that are idle at inspection
// time. A worker found busy is skipped for this pass rather than
// retried — the next monitor tick will look again if the pool is still
// over-provisioned.
func (ws *workerSet) shrinkIdle(count int) {
	if count <= 0 {
		return
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	removed := 0
	remaining := ws.workers[:0:0]
	toJoin := make([]*poolWorker, 0, count)

	for _, w := range ws.workers {
		if removed < count && !w.busy.Load() {
			w.stop.Store(true)
			toJoin = append(toJoin, w)
			removed++
			continue
		}
		remaining = append(remaining, w)
	}
	ws.workers = remaining

	if removed == 0 {
		return
	}

	// Wake every parked worker so the ones we just told to stop notice
	// without waiting for unrelated new work to arrive.
	ws.queue.wake()

	ws.threadCount.Add(int32(-removed))

	// Joining while still holding mu is safe: a stopped, idle worker
	// only blocks on the queue's wait channel, which we just woke, so
	// it returns from popOrWait and closes done almost immediately.
	for _, w := range toJoin {
		<-w.done
	}
}

// shutdownAll wakes anyone parked on the queue and joins every worker.
// It sets no per-worker stop flag: workers leave popOrWait once the
// queue is empty and the pool's shuttingDown flag is set, which
// Pool.Shutdown does before calling this. It does not clear the queue itself — the
// caller decides whether pending work is dropped or drained before
// shutdownAll is invoked.
func (ws *workerSet) shutdownAll() {
	ws.mu.Lock()
	workers := ws.workers
	ws.workers = nil
	ws.mu.Unlock()

	ws.queue.wake()

	for _, w := range workers {
		<-w.done
	}
	ws.threadCount.Store(0)
}

func (ws *workerSet) size() int {
	return int(ws.threadCount.Load())
}
