package taskrunner

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/flowpool/flowpool/core"
)

// resizeTaskRecord is one entry in a Pool's task queue: a closure plus an
// optional due instant. A nil due means the task is ready as soon as it
// reaches the head of the queue.
type resizeTaskRecord struct {
	run core.Task
	due *time.Time
}

// isReady reports whether the record may run at the given instant.
func (r resizeTaskRecord) isReady(now time.Time) bool {
	return r.due == nil || !r.due.After(now)
}

// execute runs the task closure, recovering and forwarding any panic to
// handler instead of letting it take down the worker goroutine. It
// reports whether a panic occurred so the caller can feed it to metrics.
func (r resizeTaskRecord) execute(ctx context.Context, handler core.PanicHandler, runnerName string, workerID int) (panicInfo any, panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			panicInfo, panicked = rec, true
			if handler != nil {
				handler.HandlePanic(ctx, runnerName, workerID, rec, debug.Stack())
			}
		}
	}()
	r.run(ctx)
	return nil, false
}
