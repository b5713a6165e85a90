package tameng

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrent = 10

// Task is a deferred unit of work run by the scheduler.
type Task func() (any, error)

// Result is the outcome of a scheduled Task.
type Result struct {
	Value any
	Err   error
}

type scheduledTask struct {
	run  Task
	done chan Result
}

// RequestScheduler admits tasks in FIFO order while keeping at most maxConcurrent of them
// running and, with a rate limit, at most RateLimit.Requests starts per window. It never
// looks at task outcomes.
type RequestScheduler struct {
	maxConcurrent int64
	sem           *semaphore.Weighted
	window        *windowLimiter

	mu      sync.Mutex
	queue   []*scheduledTask
	running int
	wake    chan struct{}
	closed  bool

	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRequestScheduler creates a scheduler. maxConcurrent <= 0 selects the default of 10;
// a nil rateLimit disables rate limiting.
func NewRequestScheduler(maxConcurrent int, rateLimit *RateLimit) *RequestScheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	s := &RequestScheduler{
		maxConcurrent: int64(maxConcurrent),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		wake:          make(chan struct{}, 1),
	}
	if rateLimit != nil && rateLimit.Requests > 0 && rateLimit.Per > 0 {
		s.window = newWindowLimiter(rateLimit.Requests, rateLimit.Per)
	}
	return s
}

// Submit enqueues task and returns a channel receiving its result. It never blocks.
func (s *RequestScheduler) Submit(task Task) <-chan Result {
	s.once.Do(s.init)

	st := &scheduledTask{run: task, done: make(chan Result, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		st.done <- Result{Err: ErrSchedulerClosed}
		return st.done
	}
	s.queue = append(s.queue, st)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return st.done
}

// Do submits task and waits for its result.
func (s *RequestScheduler) Do(task Task) (any, error) {
	res := <-s.Submit(task)
	return res.Value, res.Err
}

// Pending is the number of tasks waiting for admission.
func (s *RequestScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Running is the number of tasks currently executing.
func (s *RequestScheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Close stops admitting tasks. Tasks still queued fail with ErrSchedulerClosed; running
// tasks are left to finish.
func (s *RequestScheduler) Close() {
	s.once.Do(s.init)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	for _, st := range pending {
		st.done <- Result{Err: ErrSchedulerClosed}
	}
}

func (s *RequestScheduler) init() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.dispatchLoop()
}

// dispatchLoop is the only goroutine that starts tasks, which keeps admission FIFO. The
// head task stays queued until a slot and a rate window are both available.
func (s *RequestScheduler) dispatchLoop() {
	defer s.wg.Done()

	for {
		if !s.waitForTask() {
			return
		}

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		if s.window != nil {
			if err := s.window.wait(s.ctx); err != nil {
				s.sem.Release(1)
				return
			}
		}

		s.mu.Lock()
		if len(s.queue) == 0 {
			// Close drained the queue while we waited.
			s.mu.Unlock()
			s.sem.Release(1)
			return
		}
		st := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running++
		s.mu.Unlock()

		go s.execute(st)
	}
}

// waitForTask blocks until a task is queued or the scheduler closes.
func (s *RequestScheduler) waitForTask() bool {
	for {
		s.mu.Lock()
		ready := len(s.queue) > 0
		s.mu.Unlock()
		if ready {
			return true
		}

		select {
		case <-s.ctx.Done():
			return false
		case <-s.wake:
		}
	}
}

func (s *RequestScheduler) execute(st *scheduledTask) {
	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
		s.sem.Release(1)
	}()

	value, err := st.run()
	st.done <- Result{Value: value, Err: err}
}

// windowLimiter allows at most limit starts per interval. A window opens with the first
// start after the previous window has expired; there is no gradual refill.
type windowLimiter struct {
	limit    int
	interval time.Duration

	mu          sync.Mutex
	windowStart time.Time
	count       int
	now         func() time.Time
}

func newWindowLimiter(limit int, interval time.Duration) *windowLimiter {
	return &windowLimiter{
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// reserve takes a start slot if one is free, otherwise reports how long to wait.
func (w *windowLimiter) reserve() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.windowStart.IsZero() || !now.Before(w.windowStart.Add(w.interval)) {
		w.windowStart = now
		w.count = 0
	}
	if w.count < w.limit {
		w.count++
		return 0, true
	}
	return w.windowStart.Add(w.interval).Sub(now), false
}

func (w *windowLimiter) wait(ctx context.Context) error {
	for {
		delay, ok := w.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
