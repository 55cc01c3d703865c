package relay

import "sync"

// ClientTasks coordinates cancellation of the background goroutines run
// per attached client: the task loop (drains the task queue, i.e.
// writes), the receive loop (reads and validates inbound frames), and
// the keep-alive loop (pings and watches for pong). It holds cancel
// functions for the receive and keep-alive loops only; the task loop is
// never cancelled through it.
//
// Set is called exactly once. A cancellation requested before Set
// arrives is remembered and applied immediately inside Set, leaving the
// task loop alone so queued writes still flush.
type ClientTasks struct {
	mu sync.Mutex

	cancelReceive   func()
	cancelKeepAlive func()
	set             bool
	cancelPending   bool
}

// Set records the cancel functions for the receive and keep-alive
// loops. It must be called exactly once; the cancel functions must be
// those of the cancellable context the two loops run under.
func (t *ClientTasks) Set(cancelReceive, cancelKeepAlive func()) {
	t.mu.Lock()
	if t.set {
		t.mu.Unlock()
		panic("relay: ClientTasks.Set called more than once")
	}
	t.set = true
	t.cancelReceive = cancelReceive
	t.cancelKeepAlive = cancelKeepAlive
	pending := t.cancelPending
	t.mu.Unlock()

	if pending {
		t.cancelAuxiliary()
	}
}

// CancelAllButTaskLoop cancels the receive and keep-alive loops,
// leaving the task loop running so that queued writes still drain.
// Idempotent; safe to call before Set (the request is remembered and
// applied once Set arrives).
func (t *ClientTasks) CancelAllButTaskLoop() {
	t.mu.Lock()
	if t.cancelPending {
		t.mu.Unlock()
		return
	}
	t.cancelPending = true
	ready := t.set
	t.mu.Unlock()

	if ready {
		t.cancelAuxiliary()
	}
}

func (t *ClientTasks) cancelAuxiliary() {
	t.mu.Lock()
	recv, keepAlive := t.cancelReceive, t.cancelKeepAlive
	t.mu.Unlock()
	if recv != nil {
		recv()
	}
	if keepAlive != nil {
		keepAlive()
	}
}
