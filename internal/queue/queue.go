package queue

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of ancillary work.
type Task func(ctx context.Context) (any, error)

// Result resolves a queued task.
type Result struct {
	Value any
	Err   error
}

// Config configures the queue.
type Config struct {
	DrainInterval time.Duration // fixed drain cadence
	BatchSize     int           // max items per drain
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DrainInterval: 100 * time.Millisecond,
		BatchSize:     5,
	}
}

type item struct {
	priority   int
	enqueuedAt time.Time
	seq        int64 // total order for equal enqueue timestamps
	task       Task
	result     chan Result
}

// Queue batches pending work on a fixed tick. Each drain takes up to
// BatchSize items ordered by (priority ascending, arrival ascending) and
// runs them concurrently; every item resolves its own result channel, so one
// item's failure never affects its siblings.
type Queue struct {
	mu      sync.Mutex
	pending []*item
	config  Config
	logger  *zap.Logger
	seq     atomic.Int64

	draining atomic.Bool // reentrancy guard: one drain cycle at a time

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a queue.
func New(config Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = DefaultConfig().DrainInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Queue{
		config: config,
		logger: logger,
	}
}

// Enqueue adds a task with the given priority (lower runs first) and returns
// a channel that resolves exactly once with the task's outcome.
func (q *Queue) Enqueue(priority int, task Task) <-chan Result {
	it := &item{
		priority:   priority,
		enqueuedAt: time.Now(),
		seq:        q.seq.Add(1),
		task:       task,
		result:     make(chan Result, 1),
	}

	q.mu.Lock()
	q.pending = append(q.pending, it)
	q.mu.Unlock()

	return it.result
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the drain loop. It stops when ctx is cancelled or Stop is
// called.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})

	go func() {
		defer close(q.done)
		ticker := time.NewTicker(q.config.DrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				q.drain(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the drain loop and waits for it to exit. Pending items remain
// queued.
func (q *Queue) Stop() {
	q.once.Do(func() {
		if q.cancel != nil {
			q.cancel()
			<-q.done
		}
	})
}

// drain runs one batch. The guard makes overlapping drains impossible even
// if a batch outlives a tick.
func (q *Queue) drain(ctx context.Context) {
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	defer q.draining.Store(false)

	batch := q.takeBatch()
	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, it := range batch {
		wg.Add(1)
		go func(it *item) {
			defer wg.Done()
			value, err := it.task(ctx)
			it.result <- Result{Value: value, Err: err}
		}(it)
	}
	wg.Wait()
}

// takeBatch removes and returns up to BatchSize items in (priority asc,
// arrival asc) order.
func (q *Queue) takeBatch() []*item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}

	sort.SliceStable(q.pending, func(i, j int) bool {
		a, b := q.pending[i], q.pending[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if !a.enqueuedAt.Equal(b.enqueuedAt) {
			return a.enqueuedAt.Before(b.enqueuedAt)
		}
		return a.seq < b.seq
	})

	n := q.config.BatchSize
	if n > len(q.pending) {
		n = len(q.pending)
	}
	batch := q.pending[:n]
	q.pending = append([]*item(nil), q.pending[n:]...)
	return batch
}
