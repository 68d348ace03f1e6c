// Package notifier fans a "something new was recorded" signal out to
// every status stream subscriber.
package notifier

import "sync"

// Notifier is safe for concurrent use. Wakeups coalesce: a subscriber
// that has not drained its channel holds at most one pending signal.
type Notifier struct {
	mu   sync.RWMutex
	subs map[chan struct{}]struct{}
}

func New() *Notifier {
	return &Notifier{subs: map[chan struct{}]struct{}{}}
}

// Subscribe returns a channel that receives a value after each NotifyAll.
func (n *Notifier) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[ch] = struct{}{}

	return ch
}

// Unsubscribe closes ch. Unknown or already removed channels are ignored.
func (n *Notifier) Unsubscribe(ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.subs[ch]; !ok {
		return
	}
	delete(n.subs, ch)
	close(ch)
}

func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// NotifyAll never blocks. It is a no-op on a nil Notifier.
func (n *Notifier) NotifyAll() {
	if n == nil {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
