package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/breeze-rmm/screenrec/internal/logging"
)

var log = logging.L("workerpool")

// ErrDrainTimeout is returned by Drain when queued tasks are still running
// at the context deadline.
var ErrDrainTimeout = errors.New("worker pool drain timed out")

// Task is a unit of work submitted to the pool.
type Task func()

// Pool is a bounded goroutine pool with a fixed-size task queue. Container
// finalization runs here so the sink flush never happens on a caller's
// goroutine.
type Pool struct {
	mu        sync.RWMutex // guards accepting and the queue close
	accepting bool
	queue     chan Task
	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool with maxWorkers goroutines and a task queue of queueSize.
func New(maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		accepting: true,
		queue:     make(chan Task, queueSize),
		stopChan:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Context is cancelled once the pool has been drained.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit enqueues a task without blocking. Returns false if the pool is
// stopped or the queue is full.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.accepting {
		return false
	}

	// wg.Add before enqueue so Drain cannot miss the task.
	p.wg.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.wg.Done()
		log.Warn("worker pool queue full, task rejected")
		return false
	}
}

// StopAccepting prevents new tasks from being submitted.
func (p *Pool) StopAccepting() {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()
}

// Drain stops accepting work and waits for all in-flight and queued tasks
// to complete, respecting the context deadline. The queue is closed
// afterwards so worker goroutines exit.
func (p *Pool) Drain(ctx context.Context) error {
	p.StopAccepting()
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		log.Debug("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
		err = ErrDrainTimeout
	}

	p.mu.Lock()
	p.closeOnce.Do(func() {
		close(p.queue)
	})
	p.mu.Unlock()
	p.cancel()
	return err
}

// Shutdown is Drain for callers that only care about completion.
func (p *Pool) Shutdown(ctx context.Context) {
	_ = p.Drain(ctx)
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.stopChan:
			for {
				select {
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					p.runTask(task)
				default:
					return
				}
			}
		}
	}
}

// runTask executes a single task with panic recovery. wg.Done matches the
// wg.Add in Submit.
func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
