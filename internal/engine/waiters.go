package engine

import "sync"

// waiterSet tracks callers blocked on the flush result of a task. Each
// terminal flush outcome (synced, conflict, exhausted) notifies and drops all
// waiters for that task; transient retries keep them waiting.
type waiterSet struct {
	mu      sync.Mutex
	waiters map[string][]chan error
}

func newWaiterSet() *waiterSet {
	return &waiterSet{waiters: map[string][]chan error{}}
}

func (w *waiterSet) add(taskID string) chan error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan error, 1)
	w.waiters[taskID] = append(w.waiters[taskID], ch)
	return ch
}

func (w *waiterSet) notify(taskID string, err error) {
	w.mu.Lock()
	chans := w.waiters[taskID]
	delete(w.waiters, taskID)
	w.mu.Unlock()

	for _, ch := range chans {
		ch <- err
	}
}
