package taskrunner

import (
	"context"
	"sync"
)

// NewGoroutineThreadPool builds a fixed-size pool: a Pool configured with
// MinThreads == MaxThreads == workers, so its monitor never starts and the
// worker set never grows or shrinks. This is the same shape the library's
// original GoroutineThreadPool had, just expressed as a degenerate case of
// the self-sizing Pool instead of a second, separately-maintained type.
func NewGoroutineThreadPool(id string, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p, err := NewPool(PoolConfig{
		Name:       id,
		MinThreads: uint32(workers),
		MaxThreads: uint32(workers),
	})
	if err != nil {
		// MinThreads == MaxThreads can never trip ErrInvalidBounds.
		panic(err)
	}
	return p
}

// =============================================================================
// Global Thread Pool Helper (Singleton)
// =============================================================================

var (
	globalThreadPool *Pool
	globalMu         sync.Mutex
)

// InitGlobalThreadPool initializes the global thread pool with specified number of workers.
// It starts the pool immediately.
func InitGlobalThreadPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		return // Already initialized
	}

	globalThreadPool = NewGoroutineThreadPool("global-pool", workers)
	globalThreadPool.Start(context.Background())
}

// GetGlobalThreadPool returns the global thread pool instance.
// It panics if InitGlobalThreadPool has not been called.
func GetGlobalThreadPool() *Pool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool == nil {
		panic("GlobalThreadPool not initialized. Call InitGlobalThreadPool() first.")
	}
	return globalThreadPool
}

// ShutdownGlobalThreadPool stops the global thread pool.
func ShutdownGlobalThreadPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		globalThreadPool.Shutdown()
		globalThreadPool = nil
	}
}

// CreateTaskRunner creates a new SequencedTaskRunner using the global thread pool.
// This is the recommended way to get a new TaskRunner.
func CreateTaskRunner(traits TaskTraits) *SequencedTaskRunner {
	pool := GetGlobalThreadPool()
	// Note: Currently SequencedTaskRunner ignores traits for the runner itself (it attaches traits to tasks).
	// But in the future we might want to configure the runner with default traits.
	// For now, we return a standard SequencedTaskRunner backed by the global pool.
	return NewSequencedTaskRunner(pool)
}
