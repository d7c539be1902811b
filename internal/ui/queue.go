package ui

import "sync"

// updateQueue carries work from background goroutines to the UI goroutine.
// post never blocks, so it is safe from inside the event loop, before Run
// starts and after Run returns.
type updateQueue struct {
	mu     sync.Mutex
	fns    []func()
	closed bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newUpdateQueue() *updateQueue {
	return &updateQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post appends f. Work posted after close is dropped.
func (q *updateQueue) post(f func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.fns = append(q.fns, f)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// drain hands queued work to run in posting order, one batch per call,
// until close. run is typically Application.QueueUpdateDraw.
func (q *updateQueue) drain(run func(func())) {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		q.mu.Lock()
		batch := q.fns
		q.fns = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			continue
		}
		run(func() {
			for _, f := range batch {
				f()
			}
		})
	}
}

// close stops drain and drops anything still queued.
func (q *updateQueue) close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.fns = nil
		q.mu.Unlock()
		close(q.done)
	})
}
