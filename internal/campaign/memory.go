package campaign

import (
	"context"
	"sync"
)

// Memory is an in-process Persistence. FailNext makes the next save fail.
type Memory struct {
	mu       sync.Mutex
	snap     Snapshot
	saves    int
	failNext error
}

func NewMemory(initial Snapshot) *Memory { return &Memory{snap: initial.clone()} }

func (m *Memory) LoadAll(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.clone(), nil
}

func (m *Memory) SaveAll(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.snap = snap.clone()
	m.saves++
	return nil
}

func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
