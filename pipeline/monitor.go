package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// Monitor is the state shared by the producer, the workers and the
// coordinator of a Run: the number of dispatched batches, the set of busy
// workers and whether the producer is still generating. Every state change
// is signaled on Changed.
type Monitor struct {
	mu         sync.Mutex
	dispatched int
	workers    map[uuid.UUID]bool // worker id -> busy
	generating bool
	changed    chan struct{}
}

// NewMonitor creates a monitor in the generating state.
func NewMonitor() *Monitor {
	return &Monitor{
		workers:    make(map[uuid.UUID]bool),
		generating: true,
		changed:    make(chan struct{}, 1),
	}
}

func (m *Monitor) notify() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

// Changed returns a channel that receives a value after state changes. Only
// one pending notification is kept.
func (m *Monitor) Changed() <-chan struct{} { return m.changed }

// Increment records one dispatched batch.
func (m *Monitor) Increment() {
	m.mu.Lock()
	m.dispatched++
	m.mu.Unlock()
	m.notify()
}

// Dispatched returns the number of dispatched batches.
func (m *Monitor) Dispatched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatched
}

// SetWorkerIdle marks the worker as waiting for input.
func (m *Monitor) SetWorkerIdle(id uuid.UUID) { m.setWorker(id, false) }

// SetWorkerBusy marks the worker as processing a batch.
func (m *Monitor) SetWorkerBusy(id uuid.UUID) { m.setWorker(id, true) }

func (m *Monitor) setWorker(id uuid.UUID, busy bool) {
	m.mu.Lock()
	m.workers[id] = busy
	m.mu.Unlock()
	m.notify()
}

// WorkersIdle reports whether no worker is processing a batch.
func (m *Monitor) WorkersIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workersIdleLocked()
}

func (m *Monitor) workersIdleLocked() bool {
	for _, busy := range m.workers {
		if busy {
			return false
		}
	}
	return true
}

// SetGenerating sets the producer state.
func (m *Monitor) SetGenerating(v bool) {
	m.mu.Lock()
	m.generating = v
	m.mu.Unlock()
	m.notify()
}

// Generating reports whether the producer may dispatch more batches.
func (m *Monitor) Generating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generating
}

// Done reports whether a coordinator that has drained the given number of
// batches has seen all output: every dispatched batch was drained, all
// workers are idle and the producer has finished.
func (m *Monitor) Done(drained int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return drained >= m.dispatched && m.workersIdleLocked() && !m.generating
}
