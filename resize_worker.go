package taskrunner

import (
	"context"
	"sync/atomic"

	"github.com/flowpool/flowpool/core"
)

// poolWorker is one goroutine inside a Pool's worker set.
//
// busy and stop are atomics rather than fields guarded by the queue's
// mutex: the worker set's shrinker needs to read busy as a cheap,
// non-blocking check before it commits to stopping a worker, and the
// queue already serializes every write to busy against the matching
// read, so the stronger guarantee atomics provide costs nothing extra.
type poolWorker struct {
	id   int
	busy atomic.Bool
	stop atomic.Bool
	done chan struct{}
}

func newPoolWorker(id int) *poolWorker {
	w := &poolWorker{id: id, done: make(chan struct{})}
	// A worker starts "busy" until it reaches its first wait so the
	// monitor never mistakes a worker still climbing onto the queue for
	// an idle one.
	w.busy.Store(true)
	return w
}

// loop is the worker's body. It keeps pulling records until popOrWait
// reports the pool is shutting down or this worker has been told to
// retire, running each ready task and recirculating the rest.
func (w *poolWorker) loop(ws *workerSet) {
	defer close(w.done)
	ctx := context.Background()

	for {
		rec, ok := ws.queue.popOrWait(w)
		if !ok {
			return
		}

		if !rec.isReady(ws.clock.Now()) {
			ws.queue.push(rec)
			ws.queue.waitTick(ws.idleTick)
			continue
		}

		ws.counters.activeTasks.Add(1)
		start := ws.clock.Now()
		panicInfo, panicked := rec.execute(ctx, ws.panicHandler, ws.name, w.id)
		ws.counters.activeTasks.Add(-1)

		if ws.metrics != nil {
			ws.metrics.RecordTaskDuration(ws.name, core.TaskPriorityUserVisible, ws.clock.Now().Sub(start))
			if panicked {
				ws.metrics.RecordTaskPanic(ws.name, panicInfo)
			}
		}

		if w.stop.Load() {
			return
		}
	}
}
