package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWaiterSetNotifiesAllAndDrops(t *testing.T) {
	w := newWaiterSet()

	ch1 := w.add("task1")
	ch2 := w.add("task1")
	other := w.add("task2")

	cause := fmt.Errorf("boom")
	w.notify("task1", cause)

	assert.Equal(t, cause, <-ch1)
	assert.Equal(t, cause, <-ch2)

	// Other tasks' waiters are untouched.
	select {
	case <-other:
		t.Fatal("unexpected notification")
	default:
	}

	// Notifying again is a no-op, waiters were dropped.
	w.notify("task1", nil)
	select {
	case <-ch1:
		t.Fatal("waiter notified twice")
	default:
	}
}

func TestWaiterSetNotifyWithoutWaiters(t *testing.T) {
	w := newWaiterSet()
	w.notify("task1", nil) // Must not block or panic.
}
