// Package lifecycle delivers single-shot process shutdown notifications.
package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Notifier announces the beginning of graceful shutdown exactly once to
// every subscriber. Subscribing after the notification has fired invokes
// the callback immediately.
type Notifier interface {
	// Subscribe registers fn to run when shutdown begins and returns an
	// unsubscribe function. Both are idempotent; unsubscribing after the
	// callback ran is a no-op.
	Subscribe(fn func()) (unsubscribe func())
}

// ManualNotifier is a Notifier fired explicitly via Trigger. It backs the
// signal notifier and stands in for the host environment in tests.
type ManualNotifier struct {
	mu    sync.Mutex
	fired bool
	next  int
	subs  map[int]func()
}

// NewManualNotifier creates an unfired notifier.
func NewManualNotifier() *ManualNotifier {
	return &ManualNotifier{subs: make(map[int]func())}
}

// Subscribe registers fn for the shutdown notification.
func (n *ManualNotifier) Subscribe(fn func()) func() {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		fn()
		return func() {}
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Trigger fires the notification. Only the first call runs the callbacks.
func (n *ManualNotifier) Trigger() {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		return
	}
	n.fired = true
	subs := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.subs = nil
	n.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Fired reports whether the notification has been delivered.
func (n *ManualNotifier) Fired() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fired
}

// SignalNotifier fires on SIGINT or SIGTERM.
type SignalNotifier struct {
	*ManualNotifier
	sigCh chan os.Signal
	once  sync.Once
}

// NewSignalNotifier creates a notifier wired to SIGINT and SIGTERM and
// starts watching for them.
func NewSignalNotifier() *SignalNotifier {
	n := &SignalNotifier{
		ManualNotifier: NewManualNotifier(),
		sigCh:          make(chan os.Signal, 1),
	}
	signal.Notify(n.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-n.sigCh; ok {
			n.Trigger()
		}
	}()
	return n
}

// Stop detaches from signal delivery without firing. Used when the process
// handles signals itself and triggers shutdown through other means.
func (n *SignalNotifier) Stop() {
	n.once.Do(func() {
		signal.Stop(n.sigCh)
		close(n.sigCh)
	})
}
