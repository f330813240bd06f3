// Package scheduler runs named jobs at a given time or on a fixed interval.
// Jobs are kept in a min-heap ordered by their next run time and executed by
// a fixed pool of workers.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("scheduler is stopped")

// Job is the work a task performs. The context is cancelled on Stop.
type Job func(ctx context.Context) error

// task represents a job scheduled for future execution
type task struct {
	id       string
	runAt    time.Time
	interval time.Duration // zero for one-shot tasks
	job      Job
	index    int // index in the heap (for heap.Interface)
}

// taskHeap is a min-heap of tasks ordered by runAt
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].runAt.Before(h[j].runAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // avoid memory leak
	t.index = -1
	*h = old[0 : n-1]
	return t
}

// Scheduler manages scheduled tasks using a min-heap
type Scheduler struct {
	heap    taskHeap
	tasks   map[string]*task // for O(1) lookup by id
	mu      sync.Mutex
	wakeup  chan struct{}
	queue   chan *task
	workers int
	logger  *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	executed int64
	failed   int64
}

// New creates a scheduler with the given number of workers
func New(workers int, logger *zap.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		heap:    make(taskHeap, 0),
		tasks:   make(map[string]*task),
		wakeup:  make(chan struct{}, 1),
		queue:   make(chan *task, workers),
		workers: workers,
		logger:  logger.Named("scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
	heap.Init(&s.heap)
	return s
}

// Start starts the dispatch loop and the worker pool
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.run()
}

// Stop cancels running jobs and waits for the workers to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule runs job once at runAt. An existing task with the same id is
// replaced.
func (s *Scheduler) Schedule(id string, runAt time.Time, job Job) error {
	return s.add(&task{id: id, runAt: runAt, job: job})
}

// Every runs job every interval, first at now+interval. An existing task
// with the same id is replaced.
func (s *Scheduler) Every(id string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	return s.add(&task{id: id, runAt: time.Now().Add(interval), interval: interval, job: job})
}

func (s *Scheduler) add(t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if existing, ok := s.tasks[t.id]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.tasks, t.id)
	}

	heap.Push(&s.heap, t)
	s.tasks[t.id] = t

	// Wake up the dispatcher if this is the earliest task
	if s.heap[0] == t {
		s.notify()
	}
	return nil
}

func (s *Scheduler) notify() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// Cancel removes a scheduled task. A run already in progress is not
// interrupted.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false
	}

	heap.Remove(&s.heap, t.index)
	delete(s.tasks, id)
	return true
}

// run is the dispatch loop
func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()

		waitDuration := 24 * time.Hour
		if s.heap.Len() > 0 {
			next := s.heap[0]
			waitDuration = time.Until(next.runAt)

			if waitDuration <= 0 {
				t := heap.Pop(&s.heap).(*task)
				if t.interval > 0 {
					// Reschedule from the planned time so runs do not drift
					s.reschedule(t)
				} else {
					delete(s.tasks, t.id)
				}
				s.mu.Unlock()

				select {
				case s.queue <- t:
				case <-s.ctx.Done():
					return
				}
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// reschedule pushes the next run of a periodic task. Caller holds s.mu.
func (s *Scheduler) reschedule(t *task) {
	next := &task{id: t.id, runAt: t.runAt.Add(t.interval), interval: t.interval, job: t.job}
	if now := time.Now(); next.runAt.Before(now) {
		next.runAt = now.Add(t.interval)
	}
	heap.Push(&s.heap, next)
	s.tasks[t.id] = next
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.queue:
			s.execute(t)
		}
	}
}

func (s *Scheduler) execute(t *task) {
	start := time.Now()
	err := t.job(s.ctx)

	s.mu.Lock()
	s.executed++
	if err != nil {
		s.failed++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", zap.String("job", t.id), zap.Error(err))
		return
	}
	s.logger.Debug("job completed", zap.String("job", t.id), zap.Duration("took", time.Since(start)))
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ScheduledTasks: len(s.tasks),
		Workers:        s.workers,
		Executed:       s.executed,
		Failed:         s.failed,
	}
}

// Stats contains statistics about the scheduler
type Stats struct {
	ScheduledTasks int
	Workers        int
	Executed       int64
	Failed         int64
}
