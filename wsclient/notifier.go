package wsclient

import (
	"sync"

	"github.com/eapache/queue"
)

// notifier runs callbacks one at a time, in the order they were posted, on
// its own goroutine. The queue is unbounded so posting never blocks the
// engine's read loop or the supervisor.
type notifier struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	closed bool
	done   chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		q:    queue.New(),
		done: make(chan struct{}),
	}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

// post queues fn. It reports false once the notifier is closed.
func (n *notifier) post(fn func()) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.q.Add(fn)
	n.cond.Signal()
	return true
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for n.q.Length() == 0 && !n.closed {
			n.cond.Wait()
		}
		if n.q.Length() == 0 {
			n.mu.Unlock()
			return
		}
		fn := n.q.Remove().(func())
		n.mu.Unlock()

		fn()
	}
}

// close stops accepting callbacks and waits for the queued ones to run.
// It must not be called from a callback.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.cond.Broadcast()
	n.mu.Unlock()
	<-n.done
}
