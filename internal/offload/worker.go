// Package offload runs DSP-style jobs asynchronously and hands their results
// back through a completion queue, the way an offload core answers requests.
package offload

import (
	"errors"
	"fmt"
	"sync"
)

// Event identifies the kind of request a completion belongs to.
type Event int

const (
	EventInit Event = iota
	EventExec
	EventFlush
	EventSet
	EventStop
)

func (e Event) String() string {
	switch e {
	case EventInit:
		return "init"
	case EventExec:
		return "exec"
	case EventFlush:
		return "flush"
	case EventSet:
		return "set"
	case EventStop:
		return "stop"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// DefaultDepth is the number of requests a component accepts before RecvDone.
const DefaultDepth = 7

// Sentinel errors returned by Worker.
var (
	ErrQueueFull    = errors.New("offload request queue full")
	ErrClosed       = errors.New("offload worker closed")
	ErrNoCompletion = errors.New("no completion available")
)

// Notify is called from the worker goroutine after each job finishes.
type Notify func(ev Event, ok bool)

// Done is one finished job.
type Done[R any] struct {
	Event  Event
	Result R
	Err    error
}

// OK reports whether the job succeeded.
func (d Done[R]) OK() bool { return d.Err == nil }

type job[R any] struct {
	ev  Event
	run func() (R, error)
}

// Worker executes submitted jobs in order on its own goroutine. A request
// stays outstanding from Submit until its completion is taken with RecvDone.
// It is safe for concurrent use.
type Worker[R any] struct {
	name   string
	depth  int
	notify Notify

	mu          sync.Mutex
	outstanding int
	done        []Done[R]
	closed      bool
	jobs        chan job[R]
	wg          sync.WaitGroup
}

// New starts a worker accepting at most depth outstanding requests.
func New[R any](name string, depth int, notify Notify) *Worker[R] {
	if depth <= 0 {
		depth = DefaultDepth
	}
	w := &Worker[R]{
		name:   name,
		depth:  depth,
		notify: notify,
		jobs:   make(chan job[R], depth),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Worker[R]) loop() {
	defer w.wg.Done()
	for j := range w.jobs {
		res, err := j.run()
		if err != nil {
			err = fmt.Errorf("%s %s: %w", w.name, j.ev, err)
		}
		w.mu.Lock()
		w.done = append(w.done, Done[R]{Event: j.ev, Result: res, Err: err})
		w.mu.Unlock()
		if w.notify != nil {
			w.notify(j.ev, err == nil)
		}
	}
}

// Submit queues a job.
func (w *Worker[R]) Submit(ev Event, run func() (R, error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.outstanding >= w.depth {
		return ErrQueueFull
	}
	w.outstanding++
	// Never blocks: the channel holds depth jobs and at most depth are outstanding.
	w.jobs <- job[R]{ev: ev, run: run}
	return nil
}

// RecvDone takes the oldest completion.
func (w *Worker[R]) RecvDone() (Done[R], error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.done) == 0 {
		return Done[R]{}, ErrNoCompletion
	}
	d := w.done[0]
	w.done[0] = Done[R]{}
	w.done = w.done[1:]
	w.outstanding--
	return d, nil
}

// Outstanding returns the number of requests not yet taken with RecvDone.
func (w *Worker[R]) Outstanding() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outstanding
}

// Close stops accepting jobs, runs the queued ones and waits for the goroutine.
func (w *Worker[R]) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}
