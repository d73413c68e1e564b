package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	taskrunner "github.com/flowpool/flowpool"
	"github.com/flowpool/flowpool/core"
)

func main() {
	pool, err := taskrunner.NewPool(taskrunner.PoolConfig{
		Name:          "burst-pool",
		MinThreads:    2,
		MaxThreads:    16,
		UpTolerance:   20,
		DownTolerance: 200,
		OnShutdown:    taskrunner.WaitForPending,
	})
	if err != nil {
		panic(err)
	}
	defer pool.Shutdown()

	fmt.Println("=== Resizable Pool Example ===")
	fmt.Printf("starting pool_size=%d\n", pool.PoolSize())

	// Flood the pool directly with independent work so the monitor sees
	// a sustained backlog and grows the worker set past min_threads.
	var wg sync.WaitGroup
	for i := 0; i < 256; i++ {
		id := i
		wg.Add(1)
		pool.Schedule(func(ctx context.Context) {
			defer wg.Done()
			time.Sleep(5 * time.Millisecond)
			if id%32 == 0 {
				fmt.Printf("task %d, pool_size=%d active=%d pending=%d\n",
					id, pool.PoolSize(), pool.ActiveTasks(), pool.PendingTasks())
			}
		})
	}
	wg.Wait()

	fmt.Printf("drained pool_size=%d\n", pool.PoolSize())

	// A SequencedTaskRunner built on top of the self-sizing pool behaves
	// exactly like one built on GoroutineThreadPool: tasks posted to it
	// still run strictly in order, regardless of how many goroutines the
	// pool underneath it happens to be running at the time.
	runner := core.NewSequencedTaskRunner(pool)
	done := make(chan struct{})
	runner.PostTask(func(ctx context.Context) { fmt.Println("sequenced: first") })
	runner.PostTask(func(ctx context.Context) { fmt.Println("sequenced: second") })
	runner.PostTask(func(ctx context.Context) {
		fmt.Println("sequenced: third")
		close(done)
	})
	<-done
}
