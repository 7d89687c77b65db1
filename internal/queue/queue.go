// Package queue carries pipeline tasks between job handlers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEmpty is returned by Dequeue when no message arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Message is one queued task.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Input      json.RawMessage `json:"input"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Dispatcher hands work to the next pipeline stage.
type Dispatcher interface {
	Enqueue(ctx context.Context, taskType string, input any) error
}

// Source yields messages to a worker pool.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (Message, error)
	Requeue(ctx context.Context, msg Message) error
}

// Queue is both ends of a task queue.
type Queue interface {
	Dispatcher
	Source
}

var (
	_ Queue = (*Memory)(nil)
	_ Queue = (*Redis)(nil)
)

// NewMessage encodes input into a fresh message.
func NewMessage(taskType string, input any) (Message, error) {
	var raw json.RawMessage
	switch v := input.(type) {
	case nil:
		raw = json.RawMessage("{}")
	case json.RawMessage:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s input: %w", taskType, err)
		}
		raw = encoded
	}
	return Message{
		ID:         uuid.NewString(),
		Type:       taskType,
		Input:      raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Memory is an in-process FIFO queue.
type Memory struct {
	mu      sync.Mutex
	pending []Message
	notify  chan struct{}
	history []Message
}

// NewMemory returns an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

func (m *Memory) Enqueue(_ context.Context, taskType string, input any) error {
	msg, err := NewMessage(taskType, input)
	if err != nil {
		return err
	}
	m.push(msg, true)
	return nil
}

func (m *Memory) Requeue(_ context.Context, msg Message) error {
	m.push(msg, false)
	return nil
}

func (m *Memory) push(msg Message, record bool) {
	m.mu.Lock()
	m.pending = append(m.pending, msg)
	if record {
		m.history = append(m.history, msg)
	}
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) pop() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return Message{}, false
	}
	msg := m.pending[0]
	m.pending = m.pending[1:]
	return msg, true
}

func (m *Memory) Dequeue(ctx context.Context, timeout time.Duration) (Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if msg, ok := m.pop(); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-timer.C:
			return Message{}, ErrEmpty
		case <-m.notify:
		}
	}
}

// Len reports the number of pending messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Enqueued lists every message ever enqueued with the given type, oldest first.
// An empty type matches all.
func (m *Memory) Enqueued(taskType string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.history {
		if taskType == "" || msg.Type == taskType {
			out = append(out, msg)
		}
	}
	return out
}

// Drain runs handle on pending messages until the queue is empty, including
// messages enqueued by handle itself. It stops at the first handler error.
func (m *Memory) Drain(ctx context.Context, handle func(context.Context, Message) error) (int, error) {
	handled := 0
	for {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		msg, ok := m.pop()
		if !ok {
			return handled, nil
		}
		handled++
		if err := handle(ctx, msg); err != nil {
			return handled, fmt.Errorf("handle %s %s: %w", msg.Type, msg.ID, err)
		}
	}
}
