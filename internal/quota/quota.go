// Package quota enforces per-owner daily usage limits on imports.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names a metered resource.
type Kind string

const (
	KindURLImports Kind = "url-imports-per-day"
	KindFileBytes  Kind = "file-bytes-per-day"
)

// ErrQuotaExceeded is returned when an owner has no remaining allowance.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Status is the outcome of a quota check. A Limit of zero or less means unlimited.
type Status struct {
	Allowed   bool  `json:"allowed"`
	Current   int64 `json:"current"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// Service checks and records usage.
type Service interface {
	CheckQuota(ctx context.Context, kind Kind, ownerID uuid.UUID) (Status, error)
	IncrementUsage(ctx context.Context, kind Kind, ownerID uuid.UUID, amount int64) error
}

// Limits maps each kind to its daily allowance.
type Limits map[Kind]int64

func newStatus(current, limit int64) Status {
	if limit <= 0 {
		return Status{Allowed: true, Current: current, Limit: limit, Remaining: -1}
	}
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return Status{Allowed: current < limit, Current: current, Limit: limit, Remaining: remaining}
}

// Exceeded wraps ErrQuotaExceeded with the status details.
func Exceeded(kind Kind, status Status) error {
	return fmt.Errorf("%w: %s used %d of %d", ErrQuotaExceeded, kind, status.Current, status.Limit)
}

func dayBucket(at time.Time) string {
	return at.UTC().Format("20060102")
}

// Unlimited allows everything and records nothing.
type Unlimited struct{}

func (Unlimited) CheckQuota(context.Context, Kind, uuid.UUID) (Status, error) {
	return newStatus(0, 0), nil
}

func (Unlimited) IncrementUsage(context.Context, Kind, uuid.UUID, int64) error {
	return nil
}

// Memory keeps usage counters in process memory, bucketed per UTC day.
type Memory struct {
	limits Limits
	now    func() time.Time

	mu    sync.Mutex
	usage map[string]int64
}

// NewMemory builds an in-memory quota service.
func NewMemory(limits Limits) *Memory {
	return &Memory{limits: limits, now: time.Now, usage: make(map[string]int64)}
}

func (m *Memory) key(kind Kind, ownerID uuid.UUID) string {
	return string(kind) + ":" + ownerID.String() + ":" + dayBucket(m.now())
}

func (m *Memory) CheckQuota(_ context.Context, kind Kind, ownerID uuid.UUID) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newStatus(m.usage[m.key(kind, ownerID)], m.limits[kind]), nil
}

func (m *Memory) IncrementUsage(_ context.Context, kind Kind, ownerID uuid.UUID, amount int64) error {
	m.mu.Lock()
	m.usage[m.key(kind, ownerID)] += amount
	m.mu.Unlock()
	return nil
}
