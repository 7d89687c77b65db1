// Package stagelock guards stage transitions so that at most one is in flight
// per import job.
package stagelock

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker is the stage transition guard keyed by import job id.
type Locker interface {
	// TryAcquire records the lock and returns true when it is not already held.
	TryAcquire(ctx context.Context, jobID uuid.UUID) (bool, error)
	// Release drops the lock. Releasing a lock that is not held is a no-op.
	Release(ctx context.Context, jobID uuid.UUID) error
	// ClearAll drops every held lock and returns how many were released.
	ClearAll(ctx context.Context) (int, error)
}

// Memory is a process-local Locker. It does not coordinate separate worker processes.
type Memory struct {
	mu    sync.Mutex
	locks map[uuid.UUID]struct{}
}

// NewMemory returns an empty process-local locker.
func NewMemory() *Memory {
	return &Memory{locks: make(map[uuid.UUID]struct{})}
}

func (m *Memory) TryAcquire(_ context.Context, jobID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[jobID]; held {
		return false, nil
	}
	m.locks[jobID] = struct{}{}
	return true, nil
}

func (m *Memory) Release(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	delete(m.locks, jobID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ClearAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cleared := len(m.locks)
	m.locks = make(map[uuid.UUID]struct{})
	return cleared, nil
}

// Held reports whether the lock for jobID is currently held.
func (m *Memory) Held(jobID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[jobID]
	return held
}
